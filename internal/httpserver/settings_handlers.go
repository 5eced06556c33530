package httpserver

import (
	"errors"
	"net/http"

	"github.com/l18784175468-oss/77ai/internal/settings"
)

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	userID := s.userID(r)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"user": s.settings.UserSettings(userID),
		"ai":   s.settings.AISettings(userID),
	})
}

func (s *Server) handleSettingsUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch settings.UserPatch
	if err := s.decode(r, &patch); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	updated := s.settings.UpdateUserSettings(s.userID(r), patch)
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSettingsUpdateAI(w http.ResponseWriter, r *http.Request) {
	var patch settings.AIPatch
	if err := s.decode(r, &patch); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	updated := s.settings.UpdateAISettings(s.userID(r), patch)
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSettingsReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Category != "user" && req.Category != "ai" {
		s.respondError(w, http.StatusBadRequest, errors.New(`category must be "user" or "ai"`))
		return
	}
	userID := s.userID(r)
	s.settings.Reset(userID, req.Category)
	s.handleSettingsGet(w, r)
}

func (s *Server) handleSettingsExport(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.settings.ExportSettings(s.userID(r)))
}

func (s *Server) handleSettingsImport(w http.ResponseWriter, r *http.Request) {
	var exported settings.Export
	if err := s.decode(r, &exported); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	user, aiCfg := s.settings.ImportSettings(s.userID(r), exported)
	s.respondJSON(w, http.StatusOK, map[string]any{"user": user, "ai": aiCfg})
}

func (s *Server) handleSettingsTestConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		Model    string `json:"model,omitempty"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Provider == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("provider is required"))
		return
	}
	result := s.settings.TestConnection(r.Context(), s.registry, req.Provider, req.Model)
	s.respondJSON(w, http.StatusOK, result)
}
