package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient issues JSON GET requests against one base URL, retrying
// transport failures, 429 and 5xx responses.
type HTTPClient struct {
	client     *http.Client
	baseURL    string
	headers    map[string]string
	maxRetries int
	retryDelay time.Duration
}

// HTTPClientOption configures the HTTPClient
type HTTPClientOption func(*HTTPClient)

// WithTimeout bounds each attempt
func WithTimeout(timeout time.Duration) HTTPClientOption {
	return func(c *HTTPClient) { c.client.Timeout = timeout }
}

func WithBaseURL(baseURL string) HTTPClientOption {
	return func(c *HTTPClient) { c.baseURL = baseURL }
}

// WithDefaultHeaders replaces the headers sent with every request
func WithDefaultHeaders(headers map[string]string) HTTPClientOption {
	return func(c *HTTPClient) { c.headers = headers }
}

// WithRetries sets how many extra attempts are made. The wait before
// attempt n is n*retryDelay.
func WithRetries(maxRetries int, retryDelay time.Duration) HTTPClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = maxRetries
		c.retryDelay = retryDelay
	}
}

// NewHTTPClient creates a client with a 15s attempt timeout and two retries
func NewHTTPClient(options ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		client:     &http.Client{Timeout: 15 * time.Second},
		headers:    map[string]string{"Accept": "application/json"},
		maxRetries: 2,
		retryDelay: 500 * time.Millisecond,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Response is a fully read response body
type Response struct {
	StatusCode int
	Body       []byte
}

// StatusError is returned for a 4xx or 5xx response
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status code %d", e.StatusCode)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Get fetches path with the given query. On a final error status the
// response is returned alongside the *StatusError.
func (c *HTTPClient) Get(ctx context.Context, path string, query map[string]string) (*Response, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	target := u.String()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.get(ctx, target)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.retryable() {
			return resp, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *HTTPClient) get(ctx context.Context, target string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &Response{StatusCode: resp.StatusCode, Body: body}
	if resp.StatusCode >= 400 {
		return out, &StatusError{StatusCode: resp.StatusCode}
	}
	return out, nil
}

// DecodeJSON decodes the body into target
func (r *Response) DecodeJSON(target interface{}) error {
	if len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(r.Body, target)
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}
