package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/l18784175468-oss/77ai/internal/ai"
	"github.com/l18784175468-oss/77ai/internal/ai/registry"
	"github.com/l18784175468-oss/77ai/internal/auth"
	"github.com/l18784175468-oss/77ai/internal/core"
	"github.com/l18784175468-oss/77ai/internal/history"
	"github.com/l18784175468-oss/77ai/internal/ratelimit"
	"github.com/l18784175468-oss/77ai/internal/settings"
	"github.com/l18784175468-oss/77ai/internal/subscription"
	"github.com/l18784175468-oss/77ai/internal/version"
)

type contextKey string

const userContextKey contextKey = "user"

// Server exposes the REST surface of the gateway.
type Server struct {
	gateway      *core.Gateway
	registry     *registry.Registry
	subs         *subscription.Service
	history      *history.Store
	settings     *settings.Service
	auth         *auth.Manager
	limiter      *ratelimit.Middleware
	authDisabled bool
	logger       *log.Logger
}

// New assembles a server over the given collaborators. auth may be nil only
// when authDisabled is true.
func New(gateway *core.Gateway, reg *registry.Registry, subs *subscription.Service, hist *history.Store, set *settings.Service, authManager *auth.Manager) *Server {
	return &Server{
		gateway:  gateway,
		registry: reg,
		subs:     subs,
		history:  hist,
		settings: set,
		auth:     authManager,
		logger:   log.New(log.Writer(), "[httpserver] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (s *Server) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetAuthDisabled turns off token verification. Requests then identify
// themselves with the X-User-ID header; development use only.
func (s *Server) SetAuthDisabled(disabled bool) {
	s.authDisabled = disabled
}

// SetRateLimiter installs a per-user rate limit on the private routes.
func (s *Server) SetRateLimiter(limiter *ratelimit.Limiter) {
	s.limiter = ratelimit.NewMiddleware(limiter, func(r *http.Request) string {
		return s.userID(r)
	}, s.logger)
}

// Router builds the chi handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.sessionMiddleware)
		if s.limiter != nil {
			api.Use(s.limiter.Wrap)
		}

		api.Route("/chat", func(chat chi.Router) {
			chat.Post("/send", s.handleChatSend)
			chat.Get("/history", s.handleChatList)
			chat.Get("/history/{chatID}", s.handleChatGet)
			chat.Put("/history/{chatID}", s.handleChatRename)
			chat.Delete("/history/{chatID}", s.handleChatDelete)
		})

		api.Route("/image", func(img chi.Router) {
			img.Post("/generate", s.handleImageGenerate)
			img.Get("/history", s.handleImageList)
			img.Delete("/history/{imageID}", s.handleImageDelete)
		})

		api.Route("/code", func(code chi.Router) {
			code.Post("/assist", s.handleCodeAssist)
			code.Get("/history", s.handleCodeList)
		})

		api.Route("/ai", func(aiR chi.Router) {
			aiR.Get("/models", s.handleModels)
			aiR.Get("/custom-services", s.handleCustomServiceList)
			aiR.Post("/custom-services", s.handleCustomServiceCreate)
			aiR.Put("/custom-services/{serviceID}", s.handleCustomServiceUpdate)
			aiR.Delete("/custom-services/{serviceID}", s.handleCustomServiceDelete)
			aiR.Post("/custom-chat/{serviceID}", s.handleCustomChat)
		})

		api.Route("/subscription", func(sub chi.Router) {
			sub.Get("/", s.handleSubscriptionGet)
			sub.Get("/plans", s.handleSubscriptionPlans)
			sub.Get("/usage", s.handleSubscriptionUsage)
			sub.Post("/upgrade", s.handleSubscriptionUpgrade)
			sub.Post("/cancel", s.handleSubscriptionCancel)
		})

		api.Route("/settings", func(set chi.Router) {
			set.Get("/", s.handleSettingsGet)
			set.Put("/user", s.handleSettingsUpdateUser)
			set.Put("/ai", s.handleSettingsUpdateAI)
			set.Post("/reset", s.handleSettingsReset)
			set.Get("/export", s.handleSettingsExport)
			set.Post("/import", s.handleSettingsImport)
			set.Post("/test-connection", s.handleSettingsTestConnection)
		})
	})

	return r
}

// sessionMiddleware resolves the caller's identity and stores it on the
// request context.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authDisabled {
			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if userID == "" {
				userID = "anonymous"
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, userID)))
			return
		}
		header := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			s.respondError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		claims, err := s.auth.VerifyToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, claims.UserID)))
	})
}

func (s *Server) userID(r *http.Request) string {
	if v, ok := r.Context().Value(userContextKey).(string); ok {
		return v
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Info()})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondUpstream maps gateway errors onto HTTP statuses: quota exhaustion
// is 429, a misconfigured or unknown provider is the caller's fault, and
// anything else from the adapter is a bad gateway.
func (s *Server) respondUpstream(w http.ResponseWriter, err error) {
	var quota *core.QuotaError
	switch {
	case errors.As(err, &quota):
		s.respondJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":     quota.Error(),
			"kind":      string(quota.Kind),
			"limit":     quota.Check.Limit,
			"remaining": quota.Check.Remaining,
		})
	case errors.Is(err, ai.ErrUnsupportedProvider),
		errors.Is(err, ai.ErrChatUnsupported),
		errors.Is(err, ai.ErrImageUnsupported),
		errors.Is(err, core.ErrInvalidRequest):
		s.respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, ai.ErrNotConfigured):
		s.respondError(w, http.StatusServiceUnavailable, err)
	default:
		s.respondError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
