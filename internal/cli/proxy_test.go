package cli

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProxyCommand(t *testing.T) {
	t.Run("creates proxy command", func(t *testing.T) {
		cmd := NewProxyCommand(&RootOptions{})
		assert.Equal(t, "proxy", cmd.Use)
		assert.NotEmpty(t, cmd.Short)
		assert.NotEmpty(t, cmd.Long)
	})

	t.Run("has port flag", func(t *testing.T) {
		cmd := NewProxyCommand(&RootOptions{})
		flag := cmd.Flags().Lookup("port")
		require.NotNil(t, flag)
		assert.Equal(t, "p", flag.Shorthand)
		assert.Equal(t, ":0", flag.DefValue)
	})

	t.Run("has host filter flags", func(t *testing.T) {
		cmd := NewProxyCommand(&RootOptions{})
		assert.NotNil(t, cmd.Flags().Lookup("include"))
		assert.NotNil(t, cmd.Flags().Lookup("exclude"))
		flag := cmd.Flags().Lookup("keep-client-cookies")
		require.NotNil(t, flag)
		assert.Equal(t, "false", flag.DefValue)
	})
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestProxyCommand_Run(t *testing.T) {
	c := newCLI(t, "file")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/set" {
			http.SetCookie(w, &http.Cookie{Name: "seen", Value: "yes", Path: "/", MaxAge: 3600})
			return
		}
		w.Write([]byte(r.Header.Get("Cookie")))
	}))
	defer upstream.Close()

	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := c.runContext(ctx, "-v", "proxy", "--port", addr)
		done <- result{out, err}
	}()

	proxyURL, err := url.Parse("http://" + addr)
	require.NoError(t, err)
	client := &http.Client{
		Timeout:   2 * time.Second,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = client.Get(upstream.URL + "/set")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	resp.Body.Close()

	resp, err = client.Get(upstream.URL + "/get")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "seen=yes", string(body))

	cancel()
	var res result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("proxy did not shut down")
	}
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "Proxy server started on "+addr)
	assert.Contains(t, res.out, "[HTTP] GET "+upstream.URL+"/get -> 200")
	assert.Contains(t, res.out, "Shutting down proxy server")
	assert.Contains(t, res.out, "Handled 2 requests")
}

func TestProxyCommand_BadSweepSchedule(t *testing.T) {
	c := newCLI(t, "file")
	require.NoError(t, writeConfig(c, "log_level: error\nsweep_schedule: not a schedule\n"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.runContext(ctx, "proxy", "--port", "127.0.0.1:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sweep schedule")
}

func TestDisplayAddr(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"[::]:8080", "localhost:8080"},
		{"0.0.0.0:8080", "localhost:8080"},
		{":8080", "localhost:8080"},
		{"127.0.0.1:8080", "127.0.0.1:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, displayAddr(tt.addr))
		})
	}
}

func TestCountCookies(t *testing.T) {
	assert.Equal(t, 0, countCookies(""))
	assert.Equal(t, 1, countCookies("a=1"))
	assert.Equal(t, 2, countCookies("a=1; b=2"))
}
