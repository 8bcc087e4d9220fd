package proxy

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExchangeLog keeps recent exchanges in a ring buffer.
type ExchangeLog struct {
	exchanges []*Exchange
	maxSize   int
	head      int // Next write position
	count     int // Current number of items
	listeners []ExchangeListener
	mu        sync.RWMutex
}

// NewExchangeLog creates a log holding at most maxSize exchanges.
func NewExchangeLog(maxSize int) *ExchangeLog {
	if maxSize < 1 {
		maxSize = 500
	}
	return &ExchangeLog{
		exchanges: make([]*Exchange, maxSize),
		maxSize:   maxSize,
	}
}

// Add records e and notifies listeners.
func (l *ExchangeLog) Add(e *Exchange) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.exchanges[l.head] = e
	l.head = (l.head + 1) % l.maxSize
	if l.count < l.maxSize {
		l.count++
	}

	for _, listener := range l.listeners {
		listener.OnExchange(e)
	}
}

// Recent returns up to limit exchanges, newest first. A limit of 0 returns
// all of them.
func (l *ExchangeLog) Recent(limit int) []*Exchange {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Exchange, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.head - i + l.maxSize) % l.maxSize
		out = append(out, l.exchanges[idx])
	}
	return out
}

// Count returns the number of stored exchanges.
func (l *ExchangeLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// AddListener registers a listener. Listeners run synchronously and must
// not block.
func (l *ExchangeLog) AddListener(listener ExchangeListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, listener)
}
