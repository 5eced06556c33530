package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/l18784175468-oss/77ai/internal/ai"
)

type chatSendRequest struct {
	ChatID   string       `json:"chat_id,omitempty"`
	Model    string       `json:"model"`
	Messages []ai.Message `json:"messages"`
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req chatSendRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Messages) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("messages are required"))
		return
	}
	if req.Model == "" {
		req.Model = "gpt-3.5-turbo"
	}

	result, err := s.gateway.Chat(r.Context(), s.userID(r), req.ChatID, req.Model, req.Messages)
	if err != nil {
		s.respondUpstream(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"chats": s.history.Chats(s.userID(r))})
}

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.history.Chat(s.userID(r), chi.URLParam(r, "chatID"))
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("chat not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, chat)
}

func (s *Server) handleChatRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Title == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("title is required"))
		return
	}
	if !s.history.RenameChat(s.userID(r), chi.URLParam(r, "chatID"), req.Title) {
		s.respondError(w, http.StatusNotFound, errors.New("chat not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"renamed": true})
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	if !s.history.DeleteChat(s.userID(r), chi.URLParam(r, "chatID")) {
		s.respondError(w, http.StatusNotFound, errors.New("chat not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
