package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionServer sets a persistent session cookie on /login and echoes it
// back on /me.
func sessionServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123", Path: "/", MaxAge: 3600})
			w.WriteHeader(http.StatusOK)
		case "/me":
			c, err := r.Cookie("session")
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte("hello " + c.Value))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSendCommand(t *testing.T) {
	t.Run("sends GET request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "GET", r.Method)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		}))
		defer server.Close()

		out, err := newCLI(t, "file").run("send", "get", server.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "HTTP 200 OK")
		assert.Contains(t, out, "Content-Type: application/json")
		assert.Contains(t, out, `"status":"ok"`)
	})

	t.Run("sends POST request with body and headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"name":"test"}`, string(body))
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		out, err := newCLI(t, "file").run("send", "POST", server.URL,
			"--body", `{"name":"test"}`,
			"--header", "Content-Type:application/json",
			"-H", "Authorization: Bearer token123")
		require.NoError(t, err)
		assert.Contains(t, out, "201")
	})

	t.Run("outputs JSON format", func(t *testing.T) {
		server := sessionServer(t)

		out, err := newCLI(t, "file").run("send", "GET", server.URL+"/login", "--json")
		require.NoError(t, err)

		var result map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, float64(200), result["status"])
		cookies, ok := result["set_cookies"].([]any)
		require.True(t, ok)
		require.Len(t, cookies, 1)
		assert.Contains(t, cookies[0], "session=abc123")
	})

	t.Run("cookies persist across runs", func(t *testing.T) {
		for _, storage := range []string{"file", "sqlite"} {
			t.Run(storage, func(t *testing.T) {
				server := sessionServer(t)
				c := newCLI(t, storage)

				_, err := c.run("send", "GET", server.URL+"/login")
				require.NoError(t, err)

				out, err := c.run("send", "GET", server.URL+"/me")
				require.NoError(t, err)
				assert.Contains(t, out, "HTTP 200 OK")
				assert.Contains(t, out, "hello abc123")
			})
		}
	})

	t.Run("runs script against mirrored cookies", func(t *testing.T) {
		server := sessionServer(t)

		out, err := newCLI(t, "file").run("send", "GET", server.URL+"/login", "--script", "document.cookie")
		require.NoError(t, err)
		assert.Contains(t, out, "Script: session=abc123")
	})

	t.Run("script errors are reported", func(t *testing.T) {
		server := sessionServer(t)

		_, err := newCLI(t, "file").run("send", "GET", server.URL+"/login", "--script", "throw new Error('boom')")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "script failed")
	})

	t.Run("mirror and script are exclusive", func(t *testing.T) {
		_, err := newCLI(t, "file").run("send", "GET", "http://127.0.0.1:1/", "--script", "1", "--mirror", "ws://127.0.0.1:1/")
		assert.Error(t, err)
	})

	t.Run("reports connection errors", func(t *testing.T) {
		_, err := newCLI(t, "file").run("send", "GET", "http://127.0.0.1:1/", "--timeout", "1s")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "request failed")
	})

	t.Run("requires method and URL", func(t *testing.T) {
		_, err := newCLI(t, "file").run("send", "GET")
		assert.Error(t, err)
	})
}

func TestParseHeaders(t *testing.T) {
	headers := parseHeaders([]string{"Accept: text/html", "X-Empty:", "garbage", "Authorization:Bearer a:b"})
	assert.Equal(t, map[string]string{
		"Accept":        "text/html",
		"X-Empty":       "",
		"Authorization": "Bearer a:b",
	}, headers)
}
