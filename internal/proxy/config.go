package proxy

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config holds the proxy server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080", "127.0.0.1:8080")
	ListenAddr string

	// UpstreamTimeout bounds each forwarded request.
	UpstreamTimeout time.Duration

	// BufferSize is the number of recent exchanges kept for inspection.
	BufferSize int

	// ExcludeHosts are forwarded untouched: no cookies are injected or stored.
	ExcludeHosts []string

	// IncludeHosts, when set, limits cookie handling to these hosts.
	IncludeHosts []string

	// ShutdownTimeout bounds how long Stop waits for in-flight exchanges.
	ShutdownTimeout time.Duration

	// KeepClientCookies merges the client's own Cookie header with the
	// jar's instead of replacing it.
	KeepClientCookies bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		UpstreamTimeout: 30 * time.Second,
		BufferSize:      500,
		ShutdownTimeout: 5 * time.Second,
	}
}

// ConfigOption is a function that modifies the Config.
type ConfigOption func(*Config)

// WithListenAddr sets the listen address.
func WithListenAddr(addr string) ConfigOption {
	return func(c *Config) {
		c.ListenAddr = addr
	}
}

// WithUpstreamTimeout sets the per-request upstream timeout.
func WithUpstreamTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.UpstreamTimeout = d
	}
}

// WithBufferSize sets the exchange buffer size.
func WithBufferSize(size int) ConfigOption {
	return func(c *Config) {
		c.BufferSize = size
	}
}

// WithShutdownTimeout sets how long Stop waits for in-flight exchanges.
func WithShutdownTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.ShutdownTimeout = d
	}
}

// WithExcludeHosts sets hosts whose cookies the proxy leaves alone.
func WithExcludeHosts(hosts ...string) ConfigOption {
	return func(c *Config) {
		c.ExcludeHosts = hosts
	}
}

// WithIncludeHosts sets the only hosts whose cookies the proxy manages.
func WithIncludeHosts(hosts ...string) ConfigOption {
	return func(c *Config) {
		c.IncludeHosts = hosts
	}
}

// WithKeepClientCookies keeps cookies the client sent alongside the jar's.
func WithKeepClientCookies(keep bool) ConfigOption {
	return func(c *Config) {
		c.KeepClientCookies = keep
	}
}

// NewConfig creates a new Config with the given options applied to defaults.
func NewConfig(opts ...ConfigOption) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("proxy: invalid listen address %q: %w", c.ListenAddr, err)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("proxy: buffer size must be positive, got %d", c.BufferSize)
	}
	if c.UpstreamTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.New("proxy: timeouts must not be negative")
	}
	for _, h := range append(append([]string{}, c.IncludeHosts...), c.ExcludeHosts...) {
		if strings.TrimPrefix(h, "*") == "" {
			return fmt.Errorf("proxy: empty host pattern %q", h)
		}
	}
	return nil
}
