package cookies

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweeper(t *testing.T) {
	jar := newTestJar(t, newMockStore(), newTestClock())

	t.Run("accepts descriptors", func(t *testing.T) {
		s, err := NewSweeper(jar, "@every 1m", discardLogger())
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("rejects invalid schedules", func(t *testing.T) {
		_, err := NewSweeper(jar, "every minute", discardLogger())
		assert.Error(t, err)
	})
}

func TestSweeper_Sweep(t *testing.T) {
	store := newMockStore()
	clock := newTestClock()
	jar := newTestJar(t, store, clock)

	u := mustURL(t, "https://example.com/")
	require.NoError(t, jar.Save(u, []*http.Cookie{
		{Name: "short", Value: "1", Path: "/", MaxAge: 60},
		{Name: "long", Value: "2", Path: "/", MaxAge: 3600},
	}))
	clock.Advance(2 * time.Minute)

	s, err := NewSweeper(jar, "@every 1h", discardLogger())
	require.NoError(t, err)
	s.sweep()

	all, err := jar.All()
	require.NoError(t, err)
	assert.Equal(t, []string{"long=2"}, wireStrings(all))

	entries := store.entries(t, "example.com")
	require.Len(t, entries, 1)
	assert.Equal(t, "long", entries[0]["name"])

	state := store.lastApply(t)
	assert.NoError(t, state.err)
	assert.True(t, state.hasDeadline, "scheduled sweep writes must be bounded")
}

func TestSweeper_StartStop(t *testing.T) {
	jar := newTestJar(t, newMockStore(), newTestClock())
	s, err := NewSweeper(jar, "@every 1h", discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	s.Start(ctx)
	cancel()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.running
	}, time.Second, 10*time.Millisecond)
	s.Stop()

	t.Run("stop releases a context that never ends", func(t *testing.T) {
		s, err := NewSweeper(jar, "@every 1h", discardLogger())
		require.NoError(t, err)

		s.Start(context.Background())
		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()

		s.Stop()
		select {
		case <-stop:
		case <-time.After(time.Second):
			t.Fatal("watcher was not released")
		}

		// A stopped sweeper can be started again.
		s.Start(context.Background())
		s.Stop()
	})
}

func TestJar_WarnsOnPublicSuffixDomain(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	jar := newTestJar(t, newMockStore(), newTestClock(), WithLogger(logger))

	u := mustURL(t, "https://shop.example.co.uk/")
	require.NoError(t, jar.Save(u, []*http.Cookie{{Name: "wide", Value: "1", Domain: "co.uk", Path: "/"}}))

	assert.Contains(t, buf.String(), "public suffix")
	assert.Equal(t, []string{"wide=1"}, load(t, jar, "https://other.co.uk/"))
}
