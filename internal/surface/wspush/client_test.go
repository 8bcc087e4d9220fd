package wspush

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// renderer is a test WebSocket peer that records frames and acks flushes.
type renderer struct {
	mu       sync.Mutex
	frames   []Frame
	conns    int
	badAck   bool
	upgrader websocket.Upgrader
}

func (r *renderer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	r.mu.Lock()
	r.conns++
	r.mu.Unlock()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		r.mu.Lock()
		r.frames = append(r.frames, f)
		bad := r.badAck
		r.mu.Unlock()

		if f.Op == OpFlush {
			seq := f.Seq
			if bad {
				seq++
			}
			if err := conn.WriteJSON(Frame{Op: OpAck, Seq: seq}); err != nil {
				return
			}
		}
	}
}

func (r *renderer) snapshot() ([]Frame, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...), r.conns
}

func startRenderer(t *testing.T) (*renderer, string) {
	t.Helper()
	r := &renderer{}
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return r, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClient_SetCookieAndFlush(t *testing.T) {
	r, url := startRenderer(t)
	c := NewClient(url, nil)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.SetCookie(ctx, "https://example.com/", "sid=abc"))
	require.NoError(t, c.SetCookie(ctx, "https://example.com/", "theme=dark"))
	require.NoError(t, c.Flush(ctx))

	frames, conns := r.snapshot()
	assert.Equal(t, 1, conns)
	require.Len(t, frames, 3)
	assert.Equal(t, Frame{Op: OpSet, Seq: 1, URL: "https://example.com/", Cookie: "sid=abc"}, frames[0])
	assert.Equal(t, Frame{Op: OpSet, Seq: 2, URL: "https://example.com/", Cookie: "theme=dark"}, frames[1])
	assert.Equal(t, Frame{Op: OpFlush, Seq: 3}, frames[2])
}

func TestClient_UnexpectedAck(t *testing.T) {
	r, url := startRenderer(t)
	r.mu.Lock()
	r.badAck = true
	r.mu.Unlock()

	c := NewClient(url, nil)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Flush(ctx)
	assert.True(t, errors.Is(err, ErrUnexpectedAck), "got %v", err)

	t.Run("redials after a dropped connection", func(t *testing.T) {
		r.mu.Lock()
		r.badAck = false
		r.mu.Unlock()

		require.NoError(t, c.Flush(ctx))
		require.Eventually(t, func() bool {
			_, conns := r.snapshot()
			return conns == 2
		}, time.Second, 10*time.Millisecond)
	})
}

func TestClient_DialFailure(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/", &Config{
		ConnectTimeout: 200 * time.Millisecond,
		WriteTimeout:   time.Second,
		AckTimeout:     time.Second,
	})

	err := c.SetCookie(context.Background(), "https://example.com/", "a=1")
	assert.Error(t, err)
	assert.NoError(t, c.Close())
}

func TestClient_CloseWithoutConnection(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/", nil)
	assert.NoError(t, c.Close())
}
