package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// ErrRunning is returned by Start when the server is already serving.
var ErrRunning = errors.New("proxy: server already running")

// Server is an HTTP forward proxy that keeps cookies in a jar on behalf of
// its clients.
type Server struct {
	handler *ProxyHandler
	log     *ExchangeLog
	config  Config
	logger  *slog.Logger

	mu       sync.RWMutex
	current  *run
	listener net.Listener
}

// run is one Start/Stop cycle.
type run struct {
	srv      *http.Server
	served   chan struct{}
	stopOnce sync.Once
	err      error
}

// NewServer creates a proxy server backed by jar.
func NewServer(jar CookieJar, logger *slog.Logger, opts ...ConfigOption) (*Server, error) {
	if jar == nil {
		return nil, errors.New("proxy: nil cookie jar")
	}
	config := NewConfig(opts...)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "proxy")

	log := NewExchangeLog(config.BufferSize)
	return &Server{
		handler: NewProxyHandler(jar, log, config, logger),
		log:     log,
		config:  config,
		logger:  logger,
	}, nil
}

// Start listens on the configured address and serves in the background
// until Stop is called or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return ErrRunning
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	r := &run{
		srv: &http.Server{
			Handler:           s.handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		},
		served: make(chan struct{}),
	}
	s.current = r
	s.listener = listener

	go func() {
		defer close(r.served)
		if err := r.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("proxy server error", "error", err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.stop(r)
		case <-r.served:
		}
	}()

	s.logger.Info("proxy listening", "addr", listener.Addr().String())
	return nil
}

// Stop shuts the server down, waiting up to the configured shutdown timeout
// for in-flight exchanges before closing their connections. Tunnels are
// hijacked connections and are not waited for. Concurrent calls all wait
// for the same shutdown.
func (s *Server) Stop() error {
	s.mu.RLock()
	r := s.current
	s.mu.RUnlock()

	if r == nil {
		return nil
	}
	return s.stop(r)
}

func (s *Server) stop(r *run) error {
	r.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := r.srv.Shutdown(ctx); err != nil {
			r.srv.Close()
			r.err = fmt.Errorf("proxy: forced shutdown: %w", err)
		}
		<-r.served

		s.mu.Lock()
		if s.current == r {
			s.current = nil
		}
		s.mu.Unlock()

		s.logger.Info("proxy stopped", "exchanges", s.log.Count())
	})
	return r.err
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// ListenAddr returns the bound address once started, which differs from
// the configured one when it uses port 0.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.ListenAddr
}

// Config returns the server configuration.
func (s *Server) Config() Config {
	return s.config
}

// Exchanges returns up to limit recent exchanges, newest first.
func (s *Server) Exchanges(limit int) []*Exchange {
	return s.log.Recent(limit)
}

// AddListener registers a listener for completed exchanges.
func (s *Server) AddListener(listener ExchangeListener) {
	s.log.AddListener(listener)
}
