package cookies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// KeyPrefix is the namespace every persisted domain entry lives under.
const KeyPrefix = "cookies_for_domain_"

// DomainKey returns the storage key for a normalized domain.
func DomainKey(domain string) string {
	return KeyPrefix + domain
}

// snapshotEntry is the persisted form of one record.
type snapshotEntry struct {
	Name       string `json:"name"`
	Value      string `json:"value"`
	ExpiresAt  int64  `json:"expiresAt"`
	Domain     string `json:"domain"`
	Path       string `json:"path"`
	Secure     bool   `json:"secure"`
	HttpOnly   bool   `json:"httpOnly"`
	Persistent bool   `json:"persistent"`
	HostOnly   bool   `json:"hostOnly"`
}

// EncodeDomain serializes the persistent records of one bucket. It returns
// nil when the bucket holds none.
func EncodeDomain(bucket []*Cookie) ([]byte, error) {
	entries := make([]snapshotEntry, 0, len(bucket))
	for _, c := range bucket {
		if c.IsSession() {
			continue
		}
		entries = append(entries, snapshotEntry{
			Name:       c.Name,
			Value:      c.Value,
			ExpiresAt:  c.Expires.UnixMilli(),
			Domain:     c.Domain,
			Path:       c.Path,
			Secure:     c.Secure,
			HttpOnly:   c.HttpOnly,
			Persistent: true,
			HostOnly:   c.HostOnly,
		})
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return json.Marshal(entries)
}

// DecodeDomain parses one persisted domain entry. Entries that are not
// persistent or carry no expiry violate the snapshot invariant and fail
// the whole blob.
func DecodeDomain(data []byte) ([]*Cookie, error) {
	var entries []snapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	out := make([]*Cookie, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" || !e.Persistent || e.ExpiresAt == 0 {
			return nil, fmt.Errorf("entry %d: not a persistent cookie", i)
		}
		out = append(out, &Cookie{
			Name:       e.Name,
			Value:      e.Value,
			Domain:     NormalizeDomain(e.Domain),
			Path:       e.Path,
			Expires:    time.UnixMilli(e.ExpiresAt),
			Secure:     e.Secure,
			HttpOnly:   e.HttpOnly,
			HostOnly:   e.HostOnly,
			Persistent: true,
		})
	}
	return out, nil
}

// persister moves buckets between memory and a Store. Its methods are only
// called while the jar's lock is held.
type persister struct {
	store  Store
	logger *slog.Logger
}

// load reads every domain entry. Corrupt entries are logged and skipped.
// Expired records are dropped and their domains reported as dirty so the
// caller can rewrite them.
func (p *persister) load(ctx context.Context, now time.Time) (map[string][]*Cookie, map[string]struct{}, error) {
	keys, err := p.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list persisted domains: %w", err)
	}

	buckets := make(map[string][]*Cookie, len(keys))
	dirty := make(map[string]struct{})
	for _, key := range keys {
		domain := strings.TrimPrefix(key, KeyPrefix)
		data, err := p.store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			p.logger.Warn("failed to read persisted cookies", "domain", domain, "error", err)
			continue
		}

		records, err := DecodeDomain(data)
		if err != nil {
			p.logger.Warn("discarding corrupt cookie entry", "domain", domain, "error", err)
			continue
		}

		bucket := make([]*Cookie, 0, len(records))
		for _, c := range records {
			if c.IsExpired(now) {
				dirty[domain] = struct{}{}
				continue
			}
			bucket = append(bucket, c)
		}
		if len(bucket) > 0 {
			buckets[domain] = bucket
		}
	}
	return buckets, dirty, nil
}

// flush writes the dirty domains of buckets in one batch. Domains that no
// longer hold persistent records are deleted in the same batch. Errors are
// logged; memory stays authoritative.
func (p *persister) flush(ctx context.Context, buckets map[string][]*Cookie, dirty map[string]struct{}) {
	if len(dirty) == 0 {
		return
	}

	b := Batch{Puts: make(map[string][]byte)}
	for domain := range dirty {
		data, err := EncodeDomain(buckets[domain])
		if err != nil {
			p.logger.Error("failed to encode cookies", "domain", domain, "error", err)
			continue
		}
		if data == nil {
			b.Deletes = append(b.Deletes, DomainKey(domain))
			continue
		}
		b.Puts[DomainKey(domain)] = data
	}

	if b.Empty() {
		return
	}
	if err := p.store.Apply(ctx, b); err != nil {
		p.logger.Error("failed to persist cookies", "domains", len(dirty), "error", err)
	}
}

// deleteDomains removes the entries of the given domains.
func (p *persister) deleteDomains(ctx context.Context, domains []string) {
	if len(domains) == 0 {
		return
	}
	b := Batch{Deletes: make([]string, 0, len(domains))}
	for _, d := range domains {
		b.Deletes = append(b.Deletes, DomainKey(d))
	}
	if err := p.store.Apply(ctx, b); err != nil {
		p.logger.Error("failed to delete persisted cookies", "domains", len(domains), "error", err)
	}
}

// clear removes the entire persisted namespace.
func (p *persister) clear(ctx context.Context) {
	keys, err := p.store.Keys(ctx, KeyPrefix)
	if err != nil {
		p.logger.Error("failed to list persisted domains", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := p.store.Apply(ctx, Batch{Deletes: keys}); err != nil {
		p.logger.Error("failed to clear persisted cookies", "error", err)
	}
}
