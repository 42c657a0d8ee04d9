// Package urlhelper reads metadata and seed URLs with retries.
package urlhelper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 10 * time.Second
	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 3
	// maxBodySize caps how much of a response body is read.
	maxBodySize = 16 << 20
)

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	URL  string
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.URL, e.Code)
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Code == http.StatusNotFound
}

// Response is a fully read response body.
type Response struct {
	URL     string
	Code    int
	Body    []byte
	Headers http.Header
}

// Client fetches URLs, retrying transient failures with exponential backoff.
type Client struct {
	HTTP    *http.Client
	Timeout time.Duration
	Retries int
	// Backoff overrides the retry policy; mainly for tests.
	Backoff func() backoff.BackOff
}

// NewClient returns a Client with default timeouts.
func NewClient() *Client {
	return &Client{
		HTTP:    &http.Client{},
		Timeout: DefaultTimeout,
		Retries: DefaultRetries,
	}
}

// Read fetches url. file:// URLs and plain paths are read from disk.
func (c *Client) Read(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	if path, ok := localPath(url); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &Response{URL: url, Code: http.StatusOK, Body: data}, nil
	}
	return c.do(ctx, http.MethodGet, url, headers)
}

// Put issues a PUT with an empty body, used for token negotiation.
func (c *Client) Put(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodPut, url, headers)
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string) (*Response, error) {
	var resp *Response

	op := func() error {
		r, err := c.once(ctx, method, url, headers)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && !retryable(httpErr.Code) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			slog.Debug("url read failed", slog.String("url", url), slog.Any("error", err))
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, c.policy(ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) once(ctx context.Context, method, url string, headers map[string]string) (*Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &HTTPError{URL: url, Code: httpResp.StatusCode}
	}

	return &Response{URL: url, Code: httpResp.StatusCode, Body: body, Headers: httpResp.Header}, nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if c.Backoff != nil {
		b = c.Backoff()
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 250 * time.Millisecond
		exp.MaxInterval = 5 * time.Second
		b = exp
	}
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retryable reports whether an HTTP status is worth retrying.
func retryable(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500
}

// WaitForURL returns the first of urls that answers with a 2xx status,
// polling until maxWait elapses.
func (c *Client) WaitForURL(ctx context.Context, urls []string, maxWait time.Duration) (string, error) {
	if len(urls) == 0 {
		return "", errors.New("no urls to wait for")
	}

	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	var found string
	op := func() error {
		for _, u := range urls {
			if _, err := c.once(ctx, http.MethodGet, u, nil); err == nil {
				found = u
				return nil
			}
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("none of %d urls answered", len(urls))
	}

	var b backoff.BackOff
	if c.Backoff != nil {
		b = c.Backoff()
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 500 * time.Millisecond
		exp.MaxElapsedTime = 0
		b = exp
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return "", fmt.Errorf("gave up waiting for %s after %s: %w", strings.Join(urls, ", "), maxWait, err)
	}
	return found, nil
}

func localPath(url string) (string, bool) {
	if strings.HasPrefix(url, "file://") {
		return strings.TrimPrefix(url, "file://"), true
	}
	if strings.HasPrefix(url, "/") {
		return url, true
	}
	return "", false
}
