package cookies

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Jar is the cookie store engine. It implements http.CookieJar and keeps
// cookies in memory, bucketed by effective domain, with persistent cookies
// mirrored into a Store.
//
// A Jar must be initialized with Init before use; every operation before
// that fails with ErrNotInitialized.
type Jar struct {
	initMu sync.Mutex
	ready  atomic.Bool

	// mu covers each logical operation as a whole, including the
	// persistence write that ends it.
	mu      sync.Mutex
	buckets map[string][]*Cookie
	persist *persister

	bridge         *SyncBridge
	logger         *slog.Logger
	now            func() time.Time
	persistTimeout time.Duration
}

// Option configures a Jar.
type Option func(*Jar)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Jar) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(j *Jar) {
		if now != nil {
			j.now = now
		}
	}
}

// WithSyncBridge mirrors every accepted cookie through b.
func WithSyncBridge(b *SyncBridge) Option {
	return func(j *Jar) {
		j.bridge = b
	}
}

// WithPersistTimeout bounds each persistence write issued from the
// http.CookieJar methods, which carry no context of their own.
func WithPersistTimeout(d time.Duration) Option {
	return func(j *Jar) {
		if d > 0 {
			j.persistTimeout = d
		}
	}
}

// New creates an uninitialized jar.
func New(opts ...Option) *Jar {
	j := &Jar{
		buckets:        make(map[string][]*Cookie),
		logger:         slog.Default(),
		now:            time.Now,
		persistTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Init loads the persisted snapshot from store. It runs once; later calls
// return nil without touching the new store.
func (j *Jar) Init(ctx context.Context, store Store) error {
	if j.ready.Load() {
		return nil
	}

	j.initMu.Lock()
	defer j.initMu.Unlock()

	if j.ready.Load() {
		return nil
	}
	if store == nil {
		return errors.New("cookie jar: nil store")
	}

	p := &persister{store: store, logger: j.logger}
	buckets, dirty, err := p.load(ctx, j.now())
	if err != nil {
		return err
	}

	j.mu.Lock()
	j.buckets = buckets
	j.persist = p
	p.flush(ctx, j.buckets, dirty)
	j.mu.Unlock()

	j.ready.Store(true)
	j.logger.Debug("cookie jar initialized", "domains", len(buckets))
	return nil
}

// Initialized reports whether Init has completed.
func (j *Jar) Initialized() bool {
	return j.ready.Load()
}

// Save installs the cookies a response to u carried. Malformed cookies are
// skipped. Persistence and mirroring failures never surface here.
func (j *Jar) Save(u *url.URL, cookies []*http.Cookie) error {
	if !j.ready.Load() {
		return ErrNotInitialized
	}

	now := j.now()
	records := make([]*Cookie, 0, len(cookies))
	for _, hc := range cookies {
		c, err := FromHTTPCookie(u, hc, now)
		if err != nil {
			j.logSkipped(u, hc, err)
			continue
		}
		records = append(records, c)
	}

	j.accept(u, records, now)
	return nil
}

// SaveHeaders is Save for raw Set-Cookie header lines.
func (j *Jar) SaveHeaders(u *url.URL, lines []string) error {
	if !j.ready.Load() {
		return ErrNotInitialized
	}

	now := j.now()
	records := make([]*Cookie, 0, len(lines))
	for _, line := range lines {
		c, err := ParseSetCookie(u, line, now)
		if err != nil {
			j.logger.Debug("skipping cookie", "host", u.Hostname(), "error", err)
			continue
		}
		records = append(records, c)
	}

	j.accept(u, records, now)
	return nil
}

// Import installs already-built records, for example from a cookies.txt
// file. Imported cookies are not mirrored.
func (j *Jar) Import(ctx context.Context, records []*Cookie) (int, error) {
	if !j.ready.Load() {
		return 0, ErrNotInitialized
	}
	installed := j.install(ctx, nil, records, j.now())
	return len(installed), nil
}

func (j *Jar) accept(u *url.URL, records []*Cookie, now time.Time) {
	if len(records) == 0 {
		return
	}
	j.install(context.Background(), u, records, now)
}

// persistContext bounds one persistence write. Callers create it once they
// hold j.mu so lock contention does not eat into the budget.
func (j *Jar) persistContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, j.persistTimeout)
}

// install applies remove-then-add for each record and persists the
// domains whose persistent subset changed. When u is set, the installed
// records are queued on the bridge before the lock is released so the
// surface sees saves in commit order.
func (j *Jar) install(parent context.Context, u *url.URL, records []*Cookie, now time.Time) []*Cookie {
	requestHost := ""
	if u != nil {
		requestHost = u.Hostname()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var installed []*Cookie
	dirty := make(map[string]struct{})
	for _, c := range records {
		host := requestHost
		if host == "" {
			// Imported records carry their own host.
			host = c.Domain
		}
		domain := EffectiveDomain(c, host)
		if domain == "" {
			continue
		}
		c.Domain = domain
		j.warnPublicSuffix(c)

		bucket := j.buckets[domain]
		next := make([]*Cookie, 0, len(bucket)+1)
		for _, old := range bucket {
			if old.sameIdentity(c) {
				if old.Persistent {
					dirty[domain] = struct{}{}
				}
				continue
			}
			next = append(next, old)
		}

		if !c.IsExpired(now) {
			next = append(next, c)
			installed = append(installed, c)
			if c.Persistent {
				dirty[domain] = struct{}{}
			}
		}
		j.setBucket(domain, next)
	}

	ctx, cancel := j.persistContext(parent)
	defer cancel()
	j.persist.flush(ctx, j.buckets, dirty)

	if u != nil && j.bridge != nil && len(installed) > 0 {
		j.bridge.Mirror(u, installed)
	}
	return installed
}

// Load sweeps expired cookies and returns every cookie that applies to u.
// The order of the result is unspecified.
func (j *Jar) Load(u *url.URL) ([]*Cookie, error) {
	if !j.ready.Load() {
		return nil, ErrNotInitialized
	}

	host := NormalizeDomain(u.Hostname())
	path := u.EscapedPath()
	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()

	_, dirty := j.sweepLocked(now)

	var out []*Cookie
	for _, bucket := range j.buckets {
		for _, c := range bucket {
			if DomainMatches(c.Domain, c.HostOnly, host) &&
				PathMatches(c.Path, path) &&
				SecureMatches(c, u.Scheme) {
				out = append(out, c)
			}
		}
	}

	ctx, cancel := j.persistContext(context.Background())
	defer cancel()
	j.persist.flush(ctx, j.buckets, dirty)
	return out, nil
}

// Sweep removes every expired cookie and returns how many were removed.
// The persistence write is bounded by the jar's persist timeout.
func (j *Jar) Sweep(parent context.Context) (int, error) {
	if !j.ready.Load() {
		return 0, ErrNotInitialized
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	removed, dirty := j.sweepLocked(j.now())
	ctx, cancel := j.persistContext(parent)
	defer cancel()
	j.persist.flush(ctx, j.buckets, dirty)
	return removed, nil
}

// sweepLocked copies each bucket holding expired cookies, drops them and
// swaps the copy in.
func (j *Jar) sweepLocked(now time.Time) (int, map[string]struct{}) {
	removed := 0
	dirty := make(map[string]struct{})
	for domain, bucket := range j.buckets {
		expired := 0
		for _, c := range bucket {
			if c.IsExpired(now) {
				expired++
			}
		}
		if expired == 0 {
			continue
		}

		next := make([]*Cookie, 0, len(bucket)-expired)
		for _, c := range bucket {
			if !c.IsExpired(now) {
				next = append(next, c)
			}
		}
		j.setBucket(domain, next)
		dirty[domain] = struct{}{}
		removed += expired
	}
	return removed, dirty
}

func (j *Jar) setBucket(domain string, bucket []*Cookie) {
	if len(bucket) == 0 {
		delete(j.buckets, domain)
		return
	}
	j.buckets[domain] = bucket
}

// ClearAll empties the jar and the entire persisted namespace.
func (j *Jar) ClearAll(ctx context.Context) error {
	if !j.ready.Load() {
		return ErrNotInitialized
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.buckets = make(map[string][]*Cookie)
	j.persist.clear(ctx)
	return nil
}

// ClearForHost removes every bucket that applies to host: the bucket for
// host itself and the buckets of each parent domain of host.
func (j *Jar) ClearForHost(ctx context.Context, host string) error {
	if !j.ready.Load() {
		return ErrNotInitialized
	}
	host = NormalizeDomain(host)

	j.mu.Lock()
	defer j.mu.Unlock()

	var cleared []string
	for domain := range j.buckets {
		if domain == host || strings.HasSuffix(host, "."+domain) {
			cleared = append(cleared, domain)
		}
	}
	for _, domain := range cleared {
		delete(j.buckets, domain)
	}

	j.persist.deleteDomains(ctx, cleared)
	return nil
}

// All returns every live cookie, ordered by domain, path and name. Expired
// records are skipped but not removed.
func (j *Jar) All() ([]*Cookie, error) {
	if !j.ready.Load() {
		return nil, ErrNotInitialized
	}
	now := j.now()

	j.mu.Lock()
	var out []*Cookie
	for _, bucket := range j.buckets {
		for _, c := range bucket {
			if !c.IsExpired(now) {
				out = append(out, c)
			}
		}
	}
	j.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].Domain != out[b].Domain {
			return out[a].Domain < out[b].Domain
		}
		if out[a].Path != out[b].Path {
			return out[a].Path < out[b].Path
		}
		return out[a].Name < out[b].Name
	})
	return out, nil
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if err := j.Save(u, cookies); err != nil {
		j.logger.Error("failed to save cookies", "host", u.Hostname(), "error", err)
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	records, err := j.Load(u)
	if err != nil {
		j.logger.Error("failed to load cookies", "host", u.Hostname(), "error", err)
		return nil
	}

	out := make([]*http.Cookie, 0, len(records))
	for _, c := range records {
		out = append(out, c.ToHTTPCookie())
	}
	return out
}

// Header returns the Cookie header value for a request to u.
func (j *Jar) Header(u *url.URL) (string, error) {
	records, err := j.Load(u)
	if err != nil {
		return "", err
	}

	parts := make([]string, len(records))
	for i, c := range records {
		parts[i] = c.String()
	}
	return strings.Join(parts, "; "), nil
}

func (j *Jar) logSkipped(u *url.URL, hc *http.Cookie, err error) {
	name := ""
	if hc != nil {
		name = hc.Name
	}
	j.logger.Debug("skipping cookie", "name", name, "host", u.Hostname(), "error", err)
}
