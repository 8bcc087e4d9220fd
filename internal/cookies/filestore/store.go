// Package filestore implements cookies.Store as a single JSON document on
// an afero filesystem. Each batch rewrites the document through a
// temporary file and a rename, so a batch lands entirely or not at all.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/artpar/cookiestash/internal/cookies"
)

// Store implements cookies.Store on a file.
type Store struct {
	mu     sync.RWMutex
	fs     afero.Fs
	path   string
	data   map[string]string
	closed bool
}

// Open loads the document at path on fs, creating parent directories as
// needed. A missing file is an empty store.
func Open(fs afero.Fs, path string) (*Store, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cookie directory: %w", err)
	}

	s := &Store{fs: fs, path: path, data: make(map[string]string)}

	raw, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file %s: %w", path, err)
	}
	return s, nil
}

// Keys returns every key starting with prefix.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cookies.ErrStoreClosed
	}

	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns the value stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cookies.ErrStoreClosed
	}

	v, ok := s.data[key]
	if !ok {
		return nil, cookies.ErrNotFound
	}
	return []byte(v), nil
}

// Apply writes the batch by replacing the whole document.
func (s *Store) Apply(ctx context.Context, b cookies.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cookies.ErrStoreClosed
	}
	if b.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	next := make(map[string]string, len(s.data)+len(b.Puts))
	for k, v := range s.data {
		next[k] = v
	}
	for k, v := range b.Puts {
		next[k] = string(v)
	}
	for _, k := range b.Deletes {
		delete(next, k)
	}

	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookie file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace cookie file: %w", err)
	}

	s.data = next
	return nil
}

// Close marks the store closed. The file needs no cleanup.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
