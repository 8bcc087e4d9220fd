package cookies

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically removes expired cookies from a jar.
type Sweeper struct {
	jar    *Jar
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// NewSweeper schedules j.Sweep on spec, a standard five-field cron
// expression or a descriptor such as "@every 1m".
func NewSweeper(j *Jar, spec string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sweeper{
		jar:    j,
		cron:   cron.New(),
		logger: logger,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running scheduled sweeps until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	stop := make(chan struct{})
	s.stop = stop
	s.cron.Start()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stop:
		}
	}()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jar.persistTimeout)
	defer cancel()

	removed, err := s.jar.Sweep(ctx)
	if err != nil {
		s.logger.Warn("cookie sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Debug("swept expired cookies", "removed", removed)
	}
}
