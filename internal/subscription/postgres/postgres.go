// Package postgres persists subscriptions in PostgreSQL for multi-node
// deployments.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// register pgx stdlib driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/l18784175468-oss/77ai/internal/subscription"
)

// Store implements subscription.Store backed by PostgreSQL. Apply takes a
// row lock (SELECT ... FOR UPDATE) so concurrent check-and-increment calls
// across processes serialize on the user's row.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed store using the provided DSN.
func New(dsn string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(time.Hour)

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
	doc JSONB NOT NULL
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
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM subscriptions WHERE user_id = $1`, userID).Scan(&doc)
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
INSERT INTO subscriptions(user_id, doc) VALUES($1, $2)
ON CONFLICT(user_id) DO UPDATE SET doc = EXCLUDED.doc`, sub.UserID, doc)
	return err
}

// Apply locks the row, runs fn, and persists the result unless fn errors.
func (s *Store) Apply(ctx context.Context, userID string, fn func(*subscription.Subscription) error) (subscription.Subscription, error) {
	if userID == "" {
		return subscription.Subscription{}, errors.New("user id required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT doc FROM subscriptions WHERE user_id = $1 FOR UPDATE`, userID).Scan(&doc)
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
	if _, err := tx.ExecContext(ctx, `UPDATE subscriptions SET doc = $1 WHERE user_id = $2`, updated, userID); err != nil {
		return subscription.Subscription{}, err
	}
	if err := tx.Commit(); err != nil {
		return subscription.Subscription{}, fmt.Errorf("commit tx: %w", err)
	}
	return sub, nil
}

func decode(doc []byte) (subscription.Subscription, error) {
	var sub subscription.Subscription
	if err := json.Unmarshal(doc, &sub); err != nil {
		return subscription.Subscription{}, fmt.Errorf("decode subscription: %w", err)
	}
	return sub, nil
}
