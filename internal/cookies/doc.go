// Package cookies implements the client-side cookie store engine: the
// cookie record model, the domain/path/secure match rules, the in-memory
// jar with its expiry sweep, the per-domain persisted snapshot, and the
// bridge that mirrors accepted cookies into a secondary consumer.
//
// Matching is suffix based. There is no public suffix validation, so a
// domain cookie scoped to a suffix such as "co.uk" matches every host
// under it; the jar only logs a warning when it accepts one.
package cookies
