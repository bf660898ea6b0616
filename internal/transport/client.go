// Package transport issues the HTTP requests made by virtual users.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"
)

// Doer executes requests on behalf of a virtual user.
type Doer interface {
	Do(ctx context.Context, req *Request) *Response
}

// Request describes one HTTP call.
type Request struct {
	// Name is used in logs; it defaults to "METHOD path".
	Name    string
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Response is the outcome of a request.
//
// Transport failures are reported through Err with Status 0 rather than
// returned, so a failed call never interrupts a journey.
type Response struct {
	Status  int
	Body    []byte
	Latency time.Duration
	// Waiting is the time from request written to first response byte.
	Waiting time.Duration
	Err     error
}

// OK reports whether the request completed with the given status.
func (r *Response) OK(status int) bool {
	return r != nil && r.Err == nil && r.Status == status
}

// Failed reports whether the request errored or got a 4xx/5xx status.
func (r *Response) Failed() bool {
	return r == nil || r.Err != nil || r.Status >= 400
}

// Client is a pooled HTTP client with a base URL and default headers.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string

	timeout             time.Duration
	insecureSkipVerify  bool
	maxIdleConnsPerHost int
	custom              bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client with the given options.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		headers:             make(map[string]string),
		timeout:             30 * time.Second,
		maxIdleConnsPerHost: 100,
	}

	for _, option := range options {
		option(c)
	}

	if !c.custom {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        1000,
			MaxIdleConnsPerHost: c.maxIdleConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
		}
		if c.insecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
		}
		c.httpClient = &http.Client{
			Transport: transport,
			Timeout:   c.timeout,
		}
	}

	return c
}

// WithBaseURL sets the URL that request paths are resolved against.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithHeader adds a default header sent with every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) {
		c.insecureSkipVerify = skip
	}
}

// WithMaxIdleConnsPerHost sets the idle connection pool size per host.
func WithMaxIdleConnsPerHost(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxIdleConnsPerHost = n
		}
	}
}

// WithHTTPClient replaces the underlying client. Timeout and TLS options are
// then the caller's responsibility.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
		c.custom = true
	}
}

// Do executes a request, capturing latency and time to first byte.
func (c *Client) Do(ctx context.Context, req *Request) *Response {
	resp := &Response{}

	httpReq, err := c.build(ctx, req)
	if err != nil {
		resp.Err = err
		return resp
	}

	start := time.Now()
	var wroteRequest time.Time

	trace := &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) {
			wroteRequest = time.Now()
		},
		GotFirstResponseByte: func() {
			if !wroteRequest.IsZero() {
				resp.Waiting = time.Since(wroteRequest)
			}
		},
	}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), trace))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		resp.Latency = time.Since(start)
		resp.Err = err
		return resp
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	resp.Latency = time.Since(start)
	resp.Status = httpResp.StatusCode
	resp.Body = body
	if err != nil {
		resp.Err = fmt.Errorf("read response body: %w", err)
	}

	return resp
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string) *Response {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path})
}

// PostJSON issues a POST with a JSON-encoded body.
func (c *Client) PostJSON(ctx context.Context, path string, v any) *Response {
	req, err := NewJSONRequest(http.MethodPost, path, v)
	if err != nil {
		return &Response{Err: err}
	}
	return c.Do(ctx, req)
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// NewJSONRequest builds a request with a JSON body and content type.
func NewJSONRequest(method, path string, v any) (*Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return &Request{
		Method:  method,
		Path:    path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil
}

func (c *Client) build(ctx context.Context, req *Request) (*http.Request, error) {
	target, err := c.resolve(req.Path)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

func (c *Client) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("relative path %q without base URL", path)
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}

	base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	base.RawQuery = ref.RawQuery
	return base.String(), nil
}
