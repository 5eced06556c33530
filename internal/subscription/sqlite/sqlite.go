// Package sqlite persists subscriptions in SQLite for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/l18784175468-oss/77ai/internal/subscription"
)

// Store implements subscription.Store backed by SQLite. Subscriptions are
// stored as JSON documents; Apply wraps the read-modify-write in a
// transaction on a single-connection pool so concurrent increments
// serialize.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create subscription directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite has one writer; funnel every connection through a single pool
	// slot so concurrent Apply calls queue instead of failing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	user_id TEXT PRIMARY KEY,
	doc TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the subscription for userID.
func (s *Store) Get(ctx context.Context, userID string) (subscription.Subscription, error) {
	if userID == "" {
		return subscription.Subscription{}, errors.New("user id required")
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM subscriptions WHERE user_id = ?`, userID).Scan(&doc)
	if err == sql.ErrNoRows {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	if err != nil {
		return subscription.Subscription{}, err
	}
	return decode(doc)
}

// Put upserts the subscription keyed by its UserID.
func (s *Store) Put(ctx context.Context, sub subscription.Subscription) error {
	if sub.UserID == "" {
		return errors.New("subscription requires user id")
	}
	doc, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO subscriptions(user_id, doc) VALUES(?, ?)
ON CONFLICT(user_id) DO UPDATE SET doc = excluded.doc`, sub.UserID, string(doc))
	return err
}

// Apply runs fn inside a transaction, persisting the result unless fn
// errors. The single-slot connection pool serializes concurrent Apply calls
// so the read-modify-write is atomic.
func (s *Store) Apply(ctx context.Context, userID string, fn func(*subscription.Subscription) error) (subscription.Subscription, error) {
	if userID == "" {
		return subscription.Subscription{}, errors.New("user id required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM subscriptions WHERE user_id = ?`, userID).Scan(&doc)
	if err == sql.ErrNoRows {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	if err != nil {
		return subscription.Subscription{}, err
	}

	sub, err := decode(doc)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if err := fn(&sub); err != nil {
		return subscription.Subscription{}, err
	}

	updated, err := json.Marshal(sub)
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("encode subscription: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE subscriptions SET doc = ? WHERE user_id = ?`, string(updated), userID); err != nil {
		return subscription.Subscription{}, err
	}
	if err := tx.Commit(); err != nil {
		return subscription.Subscription{}, fmt.Errorf("commit tx: %w", err)
	}
	return sub, nil
}

func decode(doc string) (subscription.Subscription, error) {
	var sub subscription.Subscription
	if err := json.Unmarshal([]byte(doc), &sub); err != nil {
		return subscription.Subscription{}, fmt.Errorf("decode subscription: %w", err)
	}
	return sub, nil
}
