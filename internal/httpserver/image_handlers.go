package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/l18784175468-oss/77ai/internal/ai"
)

type imageGenerateRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	Count          int    `json:"count,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Steps          int    `json:"steps,omitempty"`
	CFGScale       int    `json:"cfg_scale,omitempty"`
	Seed           int    `json:"seed,omitempty"`
}

func (s *Server) handleImageGenerate(w http.ResponseWriter, r *http.Request) {
	var req imageGenerateRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Prompt == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}
	if req.Model == "" {
		req.Model = "dall-e-3"
	}

	record, err := s.gateway.GenerateImage(r.Context(), s.userID(r), req.Model, ai.ImageRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Size:           req.Size,
		Count:          req.Count,
		Quality:        req.Quality,
		Steps:          req.Steps,
		CFGScale:       req.CFGScale,
		Seed:           req.Seed,
	})
	if err != nil {
		s.respondUpstream(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleImageList(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"images": s.history.Images(s.userID(r))})
}

func (s *Server) handleImageDelete(w http.ResponseWriter, r *http.Request) {
	if !s.history.DeleteImage(s.userID(r), chi.URLParam(r, "imageID")) {
		s.respondError(w, http.StatusNotFound, errors.New("image not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
