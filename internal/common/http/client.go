// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBody caps how much of a response is read into memory.
const maxBody = 1 << 20

type Client struct {
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
}

type Option func(*Client)

// WithRetries retries transient failures with exponential backoff starting
// at base.
func WithRetries(n int, base time.Duration) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
		if base > 0 {
			c.baseDelay = base
		}
	}
}

func NewClient(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Retryable reports whether the status is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// PostJSON sends payload as JSON and retries on transport errors, 429 and
// 5xx. The last response is returned even when it is not a success; err is
// only set when no response was received.
func (c *Client) PostJSON(ctx context.Context, url string, payload interface{}, headers map[string]string) (*Response, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}

	var (
		resp    *Response
		lastErr error
	)
	attempts := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return resp, attempts, ctx.Err()
			}
		}
		attempts++

		resp, lastErr = c.post(ctx, url, body, headers)
		if ctx.Err() != nil {
			return resp, attempts, ctx.Err()
		}
		if lastErr == nil && !Retryable(resp.StatusCode) {
			return resp, attempts, nil
		}
	}
	if resp != nil {
		return resp, attempts, nil
	}
	return nil, attempts, lastErr
}

func (c *Client) post(ctx context.Context, url string, body []byte, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: res.StatusCode, Body: data}, nil
}
