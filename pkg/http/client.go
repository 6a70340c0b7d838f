package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	MethodGet  = http.MethodGet
	MethodPost = http.MethodPost
)

const defaultMaxBody = 16 << 20

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// ClientError reports a 4xx other than 429: the request itself was wrong.
func (e *StatusError) ClientError() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithMaxBody caps how many response bytes are decoded.
func WithMaxBody(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.transport = rt }
}

// Request describes one upstream call.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	// Body is sent as-is for []byte, string and io.Reader, otherwise as JSON.
	Body interface{}
}

// Client is a small JSON client for upstream data APIs.
type Client struct {
	timeout   time.Duration
	userAgent string
	maxBody   int64
	transport http.RoundTripper
	client    *http.Client
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{timeout: 30 * time.Second, maxBody: defaultMaxBody}
	for _, opt := range opts {
		opt(c)
	}
	c.client = &http.Client{Timeout: c.timeout, Transport: c.transport}
	return c
}

// GetJSON issues a GET with query parameters and decodes the JSON body into dest.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, dest interface{}) error {
	return c.Do(ctx, &Request{
		Method: MethodGet,
		URL:    rawURL,
		Query:  query,
		Header: http.Header{"Accept": []string{"application/json"}},
	}, dest)
}

// Do sends the request. A non-2xx status yields *StatusError; otherwise the
// body is decoded into dest (JSON, or raw into *[]byte / io.Writer).
func (c *Client) Do(ctx context.Context, r *Request, dest interface{}) error {
	req, err := c.newRequest(ctx, r)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, c.maxBody)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(body, 4096))
		return &StatusError{
			Code:       resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	switch v := dest.(type) {
	case nil:
		_, _ = io.Copy(io.Discard, body)
		return nil
	case *[]byte:
		b, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		*v = b
		return nil
	case io.Writer:
		if _, err := io.Copy(v, body); err != nil {
			return fmt.Errorf("copy body: %w", err)
		}
		return nil
	default:
		if err := json.NewDecoder(body).Decode(dest); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
		return nil
	}
}

func (c *Client) newRequest(ctx context.Context, r *Request) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch v := r.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(v)
	case string:
		body = strings.NewReader(v)
	case io.Reader:
		body = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	}

	method := r.Method
	if method == "" {
		method = MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if len(r.Query) > 0 {
		q := req.URL.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// retryAfter parses the seconds form of Retry-After.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
