// Package redis implements cookies.Store on a Redis key namespace.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/artpar/cookiestash/internal/cookies"
)

// ErrEmptyConnectionURL is returned by Open when no URL is given.
var ErrEmptyConnectionURL = errors.New("redis: empty connection url")

// Option configures a Store.
type Option func(*Store)

// WithNamespace prefixes every key with ns and a colon. Default: "cookiestash".
func WithNamespace(ns string) Option {
	return func(s *Store) {
		s.namespace = ns
	}
}

// WithScanCount sets the COUNT hint used when listing keys. Default: 100.
func WithScanCount(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.scanCount = n
		}
	}
}

// Store implements cookies.Store using Redis.
type Store struct {
	client    goredis.UniversalClient
	namespace string
	scanCount int64
	ownClient bool
}

// New wraps an existing client. Closing the store does not close client.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		namespace: "cookiestash",
		scanCount: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to url (redis:// or rediss://) and verifies the connection.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	if url == "" {
		return nil, ErrEmptyConnectionURL
	}

	redisOpts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisOpts.DialTimeout = 5 * time.Second
	redisOpts.ReadTimeout = 3 * time.Second
	redisOpts.WriteTimeout = 3 * time.Second

	client := goredis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := New(client, opts...)
	s.ownClient = true
	return s, nil
}

func (s *Store) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

func (s *Store) unkey(k string) string {
	if s.namespace == "" {
		return k
	}
	return strings.TrimPrefix(k, s.namespace+":")
}

// Keys returns every key starting with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(s.key(prefix))+"*", s.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, s.unkey(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cookies.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Apply writes the batch in one MULTI/EXEC transaction.
func (s *Store) Apply(ctx context.Context, b cookies.Batch) error {
	if b.Empty() {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for key, value := range b.Puts {
			pipe.Set(ctx, s.key(key), value, 0)
		}
		if len(b.Deletes) > 0 {
			keys := make([]string, len(b.Deletes))
			for i, k := range b.Deletes {
				keys[i] = s.key(k)
			}
			pipe.Del(ctx, keys...)
		}
		return nil
	})
	return err
}

// Close closes the client if the store opened it.
func (s *Store) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

// escapeGlob escapes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
