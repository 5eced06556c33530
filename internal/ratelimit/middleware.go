package ratelimit

import (
	"log"
	"net/http"
	"strconv"
)

// Middleware applies per-user rate limiting to an HTTP handler chain.
// identify extracts the user id from the request; requests it cannot
// identify fall back to the remote address.
type Middleware struct {
	limiter  *Limiter
	identify func(r *http.Request) string
	logger   *log.Logger
}

// NewMiddleware creates a rate limiting middleware.
func NewMiddleware(limiter *Limiter, identify func(r *http.Request) string, logger *log.Logger) *Middleware {
	return &Middleware{limiter: limiter, identify: identify, logger: logger}
}

// Wrap applies the limit before calling next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ""
		if m.identify != nil {
			key = m.identify(r)
		}
		if key == "" {
			key = r.RemoteAddr
		}

		allowed, remaining := m.limiter.Allow(key)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
		if !allowed {
			if m.logger != nil {
				m.logger.Printf("rate limit exceeded: user=%s path=%s", key, r.URL.Path)
			}
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
