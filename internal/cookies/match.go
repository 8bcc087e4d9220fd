package cookies

import "strings"

// DomainMatches reports whether a cookie bound to cookieDomain applies to
// requestHost. Host-only cookies require exact equality; domain cookies
// also cover every dot-suffixed subdomain. There is no public suffix
// check, see suffix.go.
func DomainMatches(cookieDomain string, hostOnly bool, requestHost string) bool {
	cookieDomain = NormalizeDomain(cookieDomain)
	requestHost = NormalizeDomain(requestHost)
	if cookieDomain == "" {
		return false
	}
	if hostOnly {
		return requestHost == cookieDomain
	}
	return requestHost == cookieDomain || strings.HasSuffix(requestHost, "."+cookieDomain)
}

// PathMatches implements the path-match rule of RFC 6265 section 5.1.4.
func PathMatches(cookiePath, requestPath string) bool {
	if requestPath == "" {
		requestPath = "/"
	}
	if cookiePath == requestPath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}

// SecureMatches reports whether c may be sent over scheme.
func SecureMatches(c *Cookie, scheme string) bool {
	return !c.Secure || strings.EqualFold(scheme, "https")
}
