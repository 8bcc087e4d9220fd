package cookies

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Cookie is a cookie record held by the jar. Records are never mutated
// once stored; any change replaces the whole record.
type Cookie struct {
	Name     string
	Value    string
	Domain   string // normalized, no leading dot
	Path     string
	Expires  time.Time // zero for session cookies
	Secure   bool
	HttpOnly bool
	HostOnly bool

	// Persistent is true iff an explicit expiry was supplied when the
	// cookie was accepted. Only persistent cookies reach durable storage.
	Persistent bool
}

// IsExpired reports whether a persistent cookie has expired at now.
// Session cookies never expire.
func (c *Cookie) IsExpired(now time.Time) bool {
	if !c.Persistent {
		return false
	}
	return !c.Expires.After(now)
}

// IsSession reports whether the cookie lives only for the current session
// and is never written to durable storage.
func (c *Cookie) IsSession() bool {
	return !c.Persistent
}

// String returns the wire form "name=value". No other attribute is ever
// serialized back onto the wire.
func (c *Cookie) String() string {
	return c.Name + "=" + c.Value
}

// ToHTTPCookie converts to the form a transport puts in a Cookie header.
func (c *Cookie) ToHTTPCookie() *http.Cookie {
	return &http.Cookie{Name: c.Name, Value: c.Value}
}

// sameIdentity reports whether two records share (name, domain, path).
func (c *Cookie) sameIdentity(o *Cookie) bool {
	return c.Name == o.Name && c.Domain == o.Domain && c.Path == o.Path
}

// NormalizeDomain strips a leading dot and lower-cases the domain.
func NormalizeDomain(d string) string {
	d = strings.TrimPrefix(d, ".")
	return strings.ToLower(d)
}

// EffectiveDomain returns the domain a record is matched and bucketed by.
func EffectiveDomain(c *Cookie, requestHost string) string {
	if c.HostOnly || c.Domain == "" {
		return NormalizeDomain(requestHost)
	}
	return c.Domain
}

// FromHTTPCookie builds a record from parsed response attributes for the
// request URL u. Expiry is resolved against now.
func FromHTTPCookie(u *url.URL, hc *http.Cookie, now time.Time) (*Cookie, error) {
	if hc == nil || hc.Name == "" {
		return nil, ErrMalformedCookie
	}

	host := NormalizeDomain(u.Hostname())
	c := &Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Path:     hc.Path,
		Secure:   hc.Secure,
		HttpOnly: hc.HttpOnly,
	}

	domain := NormalizeDomain(hc.Domain)
	if domain == "" {
		c.HostOnly = true
		c.Domain = host
	} else {
		if !DomainMatches(domain, false, host) {
			return nil, fmt.Errorf("%w: %q does not cover %q", ErrDomainMismatch, domain, host)
		}
		c.Domain = domain
	}

	if c.Path == "" || c.Path[0] != '/' {
		c.Path = defaultPath(u.EscapedPath())
	}

	// Max-Age wins over Expires. net/http reports "Max-Age=0" and negative
	// values as -1.
	switch {
	case hc.MaxAge > 0:
		c.Persistent = true
		c.Expires = now.Add(time.Duration(hc.MaxAge) * time.Second)
	case hc.MaxAge < 0:
		c.Persistent = true
		c.Expires = time.UnixMilli(0)
	case !hc.Expires.IsZero():
		c.Persistent = true
		c.Expires = hc.Expires
	}

	return c, nil
}

// ParseSetCookie parses one Set-Cookie header line received for u.
func ParseSetCookie(u *url.URL, line string, now time.Time) (*Cookie, error) {
	hc, err := http.ParseSetCookie(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCookie, err)
	}
	return FromHTTPCookie(u, hc, now)
}

// defaultPath computes the RFC 6265 default-path of a request path.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}
