package httpserver

import (
	"net/http"

	"github.com/l18784175468-oss/77ai/internal/core"
)

func (s *Server) handleCodeAssist(w http.ResponseWriter, r *http.Request) {
	var req core.CodeRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	record, err := s.gateway.CodeAssist(r.Context(), s.userID(r), req)
	if err != nil {
		s.respondUpstream(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleCodeList(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"records": s.history.CodeRecords(s.userID(r))})
}
