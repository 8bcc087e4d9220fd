package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CookieJar is the part of the cookie store the proxy uses.
type CookieJar interface {
	Header(u *url.URL) (string, error)
	SaveHeaders(u *url.URL, lines []string) error
}

// ProxyHandler forwards plain HTTP requests, attaching cookies from the
// jar and storing the cookies responses set. CONNECT requests are tunneled
// without inspection.
type ProxyHandler struct {
	jar    CookieJar
	log    *ExchangeLog
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewProxyHandler creates a new proxy handler.
func NewProxyHandler(jar CookieJar, log *ExchangeLog, config Config, logger *slog.Logger) *ProxyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyHandler{
		jar:    jar,
		log:    log,
		config: config,
		logger: logger,
		client: &http.Client{
			Timeout: config.UpstreamTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ServeHTTP handles incoming proxy requests.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.tunnel(w, r)
		return
	}
	h.forward(w, r)
}

func (h *ProxyHandler) forward(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	targetURL := r.URL
	if !targetURL.IsAbs() {
		targetURL = &url.URL{
			Scheme:   "http",
			Host:     r.Host,
			Path:     r.URL.Path,
			RawPath:  r.URL.RawPath,
			RawQuery: r.URL.RawQuery,
		}
	}

	ex := &Exchange{
		ID:        uuid.New().String(),
		Timestamp: startTime,
		Method:    r.Method,
		URL:       targetURL.String(),
		Host:      targetURL.Hostname(),
		Managed:   h.manages(targetURL.Host),
	}
	defer func() {
		ex.Duration = time.Since(startTime)
		h.log.Add(ex)
	}()

	body := r.Body
	if r.ContentLength == 0 {
		body = http.NoBody
	}
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), body)
	if err != nil {
		ex.Error = err.Error()
		http.Error(w, fmt.Sprintf("Failed to create request: %v", err), http.StatusBadGateway)
		return
	}
	outReq.ContentLength = r.ContentLength

	for key, values := range r.Header {
		for _, value := range values {
			outReq.Header.Add(key, value)
		}
	}
	removeHopByHopHeaders(outReq.Header)

	if ex.Managed {
		ex.CookiesSent = h.attachCookies(outReq, targetURL)
	}

	resp, err := h.client.Do(outReq)
	if err != nil {
		ex.Error = err.Error()
		h.logger.Warn("upstream request failed", "exchange_id", ex.ID, "url", ex.URL, "error", err)
		http.Error(w, fmt.Sprintf("Failed to send request: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	ex.StatusCode = resp.StatusCode
	if lines := resp.Header.Values("Set-Cookie"); ex.Managed && len(lines) > 0 {
		ex.CookiesSet = lines
		if err := h.jar.SaveHeaders(targetURL, lines); err != nil {
			h.logger.Error("failed to store cookies", "exchange_id", ex.ID, "host", ex.Host, "error", err)
		}
	}

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	removeHopByHopHeaders(w.Header())

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("client went away", "exchange_id", ex.ID, "error", err)
	}
}

// attachCookies sets the Cookie header on req from the jar and returns it.
func (h *ProxyHandler) attachCookies(req *http.Request, u *url.URL) string {
	header, err := h.jar.Header(u)
	if err != nil {
		h.logger.Error("failed to load cookies", "host", u.Hostname(), "error", err)
		return ""
	}

	client := req.Header.Get("Cookie")
	req.Header.Del("Cookie")

	switch {
	case h.config.KeepClientCookies && client != "" && header != "":
		header = header + "; " + client
	case h.config.KeepClientCookies && client != "":
		header = client
	}
	if header != "" {
		req.Header.Set("Cookie", header)
	}
	return header
}

// tunnel creates a TCP tunnel without interception.
func (h *ProxyHandler) tunnel(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ex := &Exchange{
		ID:        uuid.New().String(),
		Timestamp: startTime,
		Method:    r.Method,
		URL:       r.Host,
		Host:      r.Host,
		Tunneled:  true,
	}
	defer func() {
		ex.Duration = time.Since(startTime)
		h.log.Add(ex)
	}()

	targetConn, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		ex.Error = err.Error()
		http.Error(w, fmt.Sprintf("Failed to connect: %v", err), http.StatusBadGateway)
		return
	}
	defer targetConn.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		ex.Error = "hijacking not supported"
		http.Error(w, "Hijacking not supported", http.StatusInternalServerError)
		return
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		ex.Error = err.Error()
		http.Error(w, fmt.Sprintf("Failed to hijack: %v", err), http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	ex.StatusCode = http.StatusOK
	clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(targetConn, clientConn)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(clientConn, targetConn)
		done <- struct{}{}
	}()
	<-done
}

// manages reports whether the proxy handles cookies for host.
func (h *ProxyHandler) manages(host string) bool {
	hostname, _, _ := net.SplitHostPort(host)
	if hostname == "" {
		hostname = host
	}
	hostname = strings.ToLower(hostname)

	for _, exclude := range h.config.ExcludeHosts {
		if matchHost(hostname, strings.ToLower(exclude)) {
			return false
		}
	}

	if len(h.config.IncludeHosts) > 0 {
		for _, include := range h.config.IncludeHosts {
			if matchHost(hostname, strings.ToLower(include)) {
				return true
			}
		}
		return false
	}

	return true
}

// matchHost checks if a hostname matches a pattern (supports * wildcard prefix).
func matchHost(hostname, pattern string) bool {
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(hostname, pattern[1:])
	}
	return hostname == pattern
}

// removeHopByHopHeaders removes hop-by-hop headers that shouldn't be forwarded.
func removeHopByHopHeaders(header http.Header) {
	for _, h := range []string{
		"Connection",
		"Keep-Alive",
		"Proxy-Authenticate",
		"Proxy-Authorization",
		"Proxy-Connection",
		"Te",
		"Trailer",
		"Transfer-Encoding",
		"Upgrade",
	} {
		header.Del(h)
	}
}
