package cookies

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrNotFound        = errors.New("cookie store: key not found")
	ErrStoreClosed     = errors.New("cookie store is closed")
	ErrNotInitialized  = errors.New("cookie jar is not initialized")
	ErrMalformedCookie = errors.New("malformed cookie")
	ErrDomainMismatch  = errors.New("cookie domain does not match request host")
)

// Batch is a set of writes applied to a Store as one unit. A key must not
// appear in both Puts and Deletes.
type Batch struct {
	Puts    map[string][]byte
	Deletes []string
}

// Empty reports whether the batch carries no writes.
func (b *Batch) Empty() bool {
	return len(b.Puts) == 0 && len(b.Deletes) == 0
}

// Store defines the durable key/value namespace the jar snapshots into.
type Store interface {
	// Keys returns every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Apply writes every put and delete in b atomically.
	Apply(ctx context.Context, b Batch) error

	// Close closes the store.
	Close() error
}
