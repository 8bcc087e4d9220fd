package cookies

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// IsPublicSuffix reports whether domain is itself a listed public suffix
// such as "com" or "co.uk". Unlisted single-label names like "localhost"
// are not reported.
func IsPublicSuffix(domain string) bool {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return false
	}
	ps, icann := publicsuffix.PublicSuffix(domain)
	return ps == domain && (icann || strings.IndexByte(ps, '.') >= 0)
}

// warnPublicSuffix logs domain cookies scoped to a public suffix. Such a
// cookie still matches every host under the suffix; the jar does not
// reject it.
func (j *Jar) warnPublicSuffix(c *Cookie) {
	if c.HostOnly || !IsPublicSuffix(c.Domain) {
		return
	}
	j.logger.Warn("domain cookie scoped to a public suffix", "name", c.Name, "domain", c.Domain)
}
