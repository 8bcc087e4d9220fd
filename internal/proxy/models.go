package proxy

import (
	"time"
)

// Exchange records the cookie traffic of one forwarded request.
type Exchange struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Method string `json:"method"`
	URL    string `json:"url"`
	Host   string `json:"host"`

	// Managed is false for hosts excluded from cookie handling.
	Managed bool `json:"managed"`

	// CookiesSent is the Cookie header the proxy attached.
	CookiesSent string `json:"cookies_sent,omitempty"`

	// CookiesSet holds the Set-Cookie lines the upstream returned.
	CookiesSet []string `json:"cookies_set,omitempty"`

	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration"`
	Tunneled   bool          `json:"tunneled"`

	Error string `json:"error,omitempty"`
}

// IsSuccess returns true if the response status is 2xx.
func (e *Exchange) IsSuccess() bool {
	return e.StatusCode >= 200 && e.StatusCode < 300
}

// ExchangeListener receives exchanges as they complete.
type ExchangeListener interface {
	OnExchange(e *Exchange)
}

// ExchangeListenerFunc is a function adapter for ExchangeListener.
type ExchangeListenerFunc func(*Exchange)

func (f ExchangeListenerFunc) OnExchange(e *Exchange) {
	f(e)
}
