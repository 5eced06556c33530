package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
)

// IPv4Server is an HTTP server bound to the IPv4 loopback, for tests that
// stand in for provider endpoints. httptest.NewServer can bind ::1 on some
// hosts, which breaks clients configured with 127.0.0.1 URLs.
type IPv4Server struct {
	URL       string
	listener  net.Listener
	server    *http.Server
	transport *http.Transport
	client    *http.Client
}

// NewIPv4Server starts a server for handler and returns it running.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	transport := &http.Transport{}
	s := &IPv4Server{
		URL:       "http://" + l.Addr().String(),
		listener:  l,
		server:    &http.Server{Handler: handler},
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	return s
}

// Client returns an HTTP client configured for the server.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// Close shuts down the underlying server and frees resources.
func (s *IPv4Server) Close() {
	_ = s.server.Shutdown(context.Background())
	s.transport.CloseIdleConnections()
}

// CountingHandler wraps a handler and counts how many requests reached it.
// Adapter tests use it to prove that misconfigured adapters fail before
// touching the network.
type CountingHandler struct {
	next http.Handler
	hits atomic.Int64
}

// NewCountingHandler wraps next; a nil next answers 200 with an empty body.
func NewCountingHandler(next http.Handler) *CountingHandler {
	if next == nil {
		next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	}
	return &CountingHandler{next: next}
}

func (c *CountingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.hits.Add(1)
	c.next.ServeHTTP(w, r)
}

// Hits reports how many requests have been served.
func (c *CountingHandler) Hits() int64 {
	return c.hits.Load()
}
