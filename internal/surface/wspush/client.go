// Package wspush mirrors cookies to an out-of-process renderer over a
// WebSocket. Each cookie is sent as a "set" frame; "flush" frames are
// acknowledged by the renderer with an "ack" frame carrying the same
// sequence number.
package wspush

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame operations.
const (
	OpSet   = "set"
	OpFlush = "flush"
	OpAck   = "ack"
)

// ErrUnexpectedAck is returned when the renderer acknowledges the wrong flush.
var ErrUnexpectedAck = errors.New("wspush: unexpected acknowledgement")

// Frame is the JSON message exchanged with the renderer.
type Frame struct {
	Op     string `json:"op"`
	Seq    uint64 `json:"seq"`
	URL    string `json:"url,omitempty"`
	Cookie string `json:"cookie,omitempty"`
}

// Config holds client configuration.
type Config struct {
	// ConnectTimeout is the timeout for establishing a connection.
	ConnectTimeout time.Duration

	// WriteTimeout is the timeout for a single frame write.
	WriteTimeout time.Duration

	// AckTimeout is how long Flush waits for an ack when ctx has no deadline.
	AckTimeout time.Duration

	// Header is sent with the handshake.
	Header http.Header
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		AckTimeout:     5 * time.Second,
	}
}

// Client is a cookies.Surface backed by a WebSocket. It redials lazily
// after a failed write, so a retried mirror can recover a dropped
// connection.
type Client struct {
	url    string
	config *Config
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	seq  uint64
}

// NewClient creates a client for the renderer at url. No connection is
// made until the first frame is sent.
func NewClient(url string, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		url:    url,
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.ConnectTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// SetCookie sends a set frame.
func (c *Client) SetCookie(ctx context.Context, rawURL, cookie string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	return c.send(ctx, Frame{Op: OpSet, Seq: c.seq, URL: rawURL, Cookie: cookie})
}

// Flush sends a flush frame and waits for its ack.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	seq := c.seq
	if err := c.send(ctx, Frame{Op: OpFlush, Seq: seq}); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.AckTimeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		c.drop()
		return err
	}

	var ack Frame
	if err := c.conn.ReadJSON(&ack); err != nil {
		c.drop()
		return fmt.Errorf("wspush: waiting for ack: %w", err)
	}
	if ack.Op != OpAck || ack.Seq != seq {
		c.drop()
		return fmt.Errorf("%w: got %s/%d, want ack/%d", ErrUnexpectedAck, ack.Op, ack.Seq, seq)
	}
	return nil
}

// Close closes the connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// send writes f, dialing first if needed. Called with c.mu held.
func (c *Client) send(ctx context.Context, f Frame) error {
	if c.conn == nil {
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.config.Header)
		if err != nil {
			return fmt.Errorf("wspush: dial %s: %w", c.url, err)
		}
		c.conn = conn
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		c.drop()
		return err
	}
	if err := c.conn.WriteJSON(f); err != nil {
		c.drop()
		return fmt.Errorf("wspush: write: %w", err)
	}
	return nil
}

func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
