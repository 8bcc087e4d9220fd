package cookies

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Surface is an externally owned cookie consumer, such as an embedded
// renderer, that should observe the cookies the jar accepts. SetCookie
// must be idempotent: a retried mirror repeats every call.
type Surface interface {
	// SetCookie installs a "name=value" cookie string for rawURL.
	SetCookie(ctx context.Context, rawURL, cookie string) error

	// Flush commits previously set cookies.
	Flush(ctx context.Context) error
}

// Dispatcher runs fn on the execution context a Surface requires. It may
// run fn synchronously or hand it to another goroutine.
type Dispatcher func(fn func())

// Inline is a Dispatcher that runs fn on the calling goroutine.
func Inline(fn func()) { fn() }

// SyncBridge mirrors accepted cookies into a Surface. Mirrors are queued
// and delivered in order by a single worker; Mirror never blocks.
type SyncBridge struct {
	surface        Surface
	dispatch       Dispatcher
	attempts       int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	queue   []mirrorJob
	pending int
	drained chan struct{}
	closed  bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type mirrorJob struct {
	id      string
	url     string
	cookies []string
}

// BridgeOption configures a SyncBridge.
type BridgeOption func(*SyncBridge)

// WithAttempts sets how many times a mirror is tried before it is dropped.
func WithAttempts(n int) BridgeOption {
	return func(b *SyncBridge) {
		if n > 0 {
			b.attempts = n
		}
	}
}

// WithBackoff sets the first retry delay and the cap it doubles up to.
func WithBackoff(base, limit time.Duration) BridgeOption {
	return func(b *SyncBridge) {
		if base > 0 {
			b.baseDelay = base
		}
		if limit >= base && limit > 0 {
			b.maxDelay = limit
		}
	}
}

// WithAttemptTimeout bounds a single delivery attempt.
func WithAttemptTimeout(d time.Duration) BridgeOption {
	return func(b *SyncBridge) {
		if d > 0 {
			b.attemptTimeout = d
		}
	}
}

// WithDispatcher sets the dispatcher surface calls go through.
func WithDispatcher(d Dispatcher) BridgeOption {
	return func(b *SyncBridge) {
		if d != nil {
			b.dispatch = d
		}
	}
}

// WithBridgeLogger sets the logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *SyncBridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewSyncBridge creates a bridge to surface and starts its worker.
func NewSyncBridge(surface Surface, opts ...BridgeOption) *SyncBridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &SyncBridge{
		surface:        surface,
		dispatch:       Inline,
		attempts:       3,
		baseDelay:      200 * time.Millisecond,
		maxDelay:       2 * time.Second,
		attemptTimeout: 5 * time.Second,
		logger:         slog.Default(),
		drained:        make(chan struct{}),
		wake:           make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	close(b.drained)

	go b.run()
	return b
}

// Mirror queues cookies accepted for u. It returns immediately.
func (b *SyncBridge) Mirror(u *url.URL, cookies []*Cookie) {
	if len(cookies) == 0 {
		return
	}

	job := mirrorJob{
		id:      uuid.NewString(),
		url:     u.String(),
		cookies: make([]string, len(cookies)),
	}
	for i, c := range cookies {
		job.cookies[i] = c.String()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Debug("sync bridge closed, dropping mirror", "host", u.Hostname())
		return
	}
	if b.pending == 0 {
		b.drained = make(chan struct{})
	}
	b.pending++
	b.queue = append(b.queue, job)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until every queued mirror has been delivered or dropped.
func (b *SyncBridge) Wait(ctx context.Context) error {
	b.mu.Lock()
	drained := b.drained
	b.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker. In-flight retries are cancelled and queued
// mirrors are dropped; the jar is unaffected.
func (b *SyncBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	<-b.done
	return nil
}

func (b *SyncBridge) run() {
	defer close(b.done)
	defer b.abandon()

	for {
		job, ok := b.next()
		if !ok {
			select {
			case <-b.ctx.Done():
				return
			case <-b.wake:
				continue
			}
		}

		b.deliver(job)
		b.finish()

		if b.ctx.Err() != nil {
			return
		}
	}
}

func (b *SyncBridge) next() (mirrorJob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return mirrorJob{}, false
	}
	job := b.queue[0]
	b.queue = b.queue[1:]
	return job, true
}

func (b *SyncBridge) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending--
	if b.pending == 0 {
		close(b.drained)
	}
}

func (b *SyncBridge) abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.queue); n > 0 {
		b.logger.Warn("sync bridge stopped with queued mirrors", "dropped", n)
	}
	b.queue = nil
	if b.pending > 0 {
		b.pending = 0
		close(b.drained)
	}
}

// deliver tries job up to b.attempts times with doubling backoff.
func (b *SyncBridge) deliver(job mirrorJob) {
	delay := b.baseDelay
	for attempt := 1; attempt <= b.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-b.ctx.Done():
				b.logger.Debug("mirror cancelled", "mirror_id", job.id)
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, b.maxDelay)
		}

		err := b.attempt(job)
		if err == nil {
			b.logger.Debug("mirrored cookies", "mirror_id", job.id, "count", len(job.cookies))
			return
		}
		if b.ctx.Err() != nil {
			b.logger.Debug("mirror cancelled", "mirror_id", job.id)
			return
		}

		b.logger.Warn("mirror attempt failed",
			"mirror_id", job.id,
			"attempt", attempt,
			"error", err,
		)
	}

	b.logger.Error("abandoning cookie mirror", "mirror_id", job.id, "attempts", b.attempts)
}

// attempt pushes job once through the dispatcher and waits for the result.
func (b *SyncBridge) attempt(job mirrorJob) error {
	ctx, cancel := context.WithTimeout(b.ctx, b.attemptTimeout)
	defer cancel()

	errc := make(chan error, 1)
	b.dispatch(func() {
		errc <- b.push(ctx, job)
	})

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *SyncBridge) push(ctx context.Context, job mirrorJob) error {
	for _, c := range job.cookies {
		if err := b.surface.SetCookie(ctx, job.url, c); err != nil {
			return err
		}
	}
	return b.surface.Flush(ctx)
}
