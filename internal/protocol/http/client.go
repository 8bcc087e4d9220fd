package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request is an outgoing HTTP request.
type Request struct {
	ID     string
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest creates a request with a fresh ID.
func NewRequest(method, url string) *Request {
	return &Request{
		ID:     uuid.NewString(),
		Method: strings.ToUpper(method),
		URL:    url,
		Header: make(http.Header),
	}
}

// SetHeader sets a header, replacing existing values.
func (r *Request) SetHeader(key, value string) *Request {
	r.Header.Set(key, value)
	return r
}

// SetBody sets the raw body.
func (r *Request) SetBody(body []byte) *Request {
	r.Body = body
	return r
}

// SetJSON encodes v as the body and sets the Content-Type.
func (r *Request) SetJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode JSON body: %w", err)
	}
	r.Body = data
	r.Header.Set("Content-Type", "application/json")
	return nil
}

// Timing records when a request started and how long it took.
type Timing struct {
	StartTime time.Time
	EndTime   time.Time
	Total     time.Duration
}

// Response is a received HTTP response with its body fully read.
type Response struct {
	RequestID  string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	Timing     Timing
}

// SetCookieLines returns the raw Set-Cookie header lines.
func (r *Response) SetCookieLines() []string {
	return r.Header.Values("Set-Cookie")
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Client sends requests through an http.Client, optionally with a cookie
// jar attached.
type Client struct {
	httpClient *http.Client
	config     Config
}

// Config holds HTTP client configuration.
type Config struct {
	Timeout        time.Duration
	FollowRedirect bool
}

// Option is a function that configures the Client.
type Option func(*Client)

// NewClient creates a new HTTP client with the given options.
func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: Config{
			Timeout:        30 * time.Second,
			FollowRedirect: true,
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.config.Timeout = timeout
		c.httpClient.Timeout = timeout
	}
}

// WithTransport sets a custom round tripper.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = transport
	}
}

// WithCookieJar attaches jar. Cookies set by responses, including those on
// redirect hops, are stored in it and sent on later requests.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) {
		c.httpClient.Jar = jar
	}
}

// WithNoRedirects disables automatic redirect following.
func WithNoRedirects() Option {
	return func(c *Client) {
		c.config.FollowRedirect = false
		c.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
}

// Send executes a request and returns the response.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	httpReq, err := c.toHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	endTime := time.Now()

	return &Response{
		RequestID:  req.ID,
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       bodyBytes,
		Timing: Timing{
			StartTime: startTime,
			EndTime:   endTime,
			Total:     endTime.Sub(startTime),
		},
	}, nil
}

func (c *Client) toHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	return httpReq, nil
}
