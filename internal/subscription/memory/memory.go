// Package memory provides the in-memory subscription store used by tests
// and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/l18784175468-oss/77ai/internal/subscription"
)

// Store implements subscription.Store with a mutex-guarded map. The mutex is
// held across Apply's read-modify-write, which serializes concurrent
// check-and-increment calls per process.
type Store struct {
	mu   sync.Mutex
	subs map[string]subscription.Subscription
}

// New creates an empty store.
func New() *Store {
	return &Store{subs: make(map[string]subscription.Subscription)}
}

// Get returns the subscription for userID.
func (s *Store) Get(ctx context.Context, userID string) (subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	return sub, nil
}

// Put upserts the subscription keyed by its UserID.
func (s *Store) Put(ctx context.Context, sub subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.UserID] = sub
	return nil
}

// Apply runs fn over the stored record and persists the result unless fn
// errors.
func (s *Store) Apply(ctx context.Context, userID string, fn func(*subscription.Subscription) error) (subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	if err := fn(&sub); err != nil {
		return subscription.Subscription{}, err
	}
	s.subs[userID] = sub
	return sub, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }
