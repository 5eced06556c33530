package httpserver

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/l18784175468-oss/77ai/internal/ai"
	"github.com/l18784175468-oss/77ai/internal/ai/custom"
	"github.com/l18784175468-oss/77ai/internal/ai/registry"
)

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"models": s.registry.ListModels()})
}

// customServiceView is a ServiceConfig with its registry id attached and the
// API key masked.
type customServiceView struct {
	ID string `json:"id"`
	custom.ServiceConfig
}

func maskService(id string, cfg custom.ServiceConfig) customServiceView {
	if cfg.APIKey != "" {
		cfg.APIKey = "********"
	}
	return customServiceView{ID: id, ServiceConfig: cfg}
}

func (s *Server) handleCustomServiceList(w http.ResponseWriter, r *http.Request) {
	services := s.registry.Services()
	views := make([]customServiceView, 0, len(services))
	for id, cfg := range services {
		views = append(views, maskService(id, cfg))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"services": views})
}

type customServiceCreateRequest struct {
	ID string `json:"id,omitempty"`
	custom.ServiceConfig
}

func (s *Server) handleCustomServiceCreate(w http.ResponseWriter, r *http.Request) {
	var req customServiceCreateRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := validateServiceConfig(req.ServiceConfig); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	id := s.registry.Register(req.ID, req.ServiceConfig)
	s.respondJSON(w, http.StatusCreated, maskService(id, req.ServiceConfig))
}

func (s *Server) handleCustomServiceUpdate(w http.ResponseWriter, r *http.Request) {
	var patch registry.ServicePatch
	if err := s.decode(r, &patch); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "serviceID")
	if patch.Endpoint != nil {
		if err := validateEndpoint(*patch.Endpoint); err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
	}
	if !s.registry.Update(id, patch) {
		s.respondError(w, http.StatusNotFound, errors.New("custom service not found"))
		return
	}
	cfg, _ := s.registry.Service(id)
	s.respondJSON(w, http.StatusOK, maskService(id, cfg))
}

func (s *Server) handleCustomServiceDelete(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Remove(chi.URLParam(r, "serviceID")) {
		s.respondError(w, http.StatusNotFound, errors.New("custom service not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type customChatRequest struct {
	ChatID   string       `json:"chat_id,omitempty"`
	Messages []ai.Message `json:"messages"`
}

func (s *Server) handleCustomChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "serviceID")
	if _, ok := s.registry.Service(id); !ok {
		s.respondError(w, http.StatusNotFound, errors.New("custom service not found"))
		return
	}
	var req customChatRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Messages) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("messages are required"))
		return
	}

	result, err := s.gateway.CustomChat(r.Context(), s.userID(r), id, req.ChatID, req.Messages)
	if err != nil {
		s.respondUpstream(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func validateServiceConfig(cfg custom.ServiceConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return errors.New("name is required")
	}
	return validateEndpoint(cfg.Endpoint)
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("endpoint must be an http(s) URL")
	}
	return nil
}
