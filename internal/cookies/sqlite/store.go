package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/artpar/cookiestash/internal/cookies"
	_ "modernc.org/sqlite"
)

// Store implements cookies.Store using SQLite.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// New creates a new SQLite-based cookie store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cookie database: %w", err)
	}

	return store, nil
}

// NewInMemory creates a new in-memory SQLite store (useful for testing).
func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables.
func (s *Store) initialize() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cookie_snapshots (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Keys returns every key starting with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cookies.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM cookie_snapshots
		WHERE substr(key, 1, ?) = ?
		ORDER BY key
	`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cookies.ErrStoreClosed
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cookie_snapshots WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cookies.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Apply writes the batch in a single transaction.
func (s *Store) Apply(ctx context.Context, b cookies.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cookies.ErrStoreClosed
	}
	if b.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for key, value := range b.Puts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cookie_snapshots (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, now); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}

	if len(b.Deletes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(b.Deletes)), ",")
		args := make([]interface{}, len(b.Deletes))
		for i, key := range b.Deletes {
			args[i] = key
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM cookie_snapshots WHERE key IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}

	return tx.Commit()
}

// Count returns the number of stored keys.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, cookies.ErrStoreClosed
	}

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cookie_snapshots`).Scan(&count)
	return count, err
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
