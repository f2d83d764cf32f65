package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Common errors.
var (
	ErrNotFound            = errors.New("http: resource not found")
	ErrForbidden           = errors.New("http: access forbidden")
	ErrUnauthorized        = errors.New("http: unauthorized")
	ErrServerError         = errors.New("http: server error")
	ErrRangeNotSatisfiable = errors.New("http: range not satisfiable")
	ErrIdleTimeout         = errors.New("http: read idle timeout")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout bounds dialing, waiting for response headers and every
	// single read of a response body. It is not a whole-transfer deadline.
	// Default: 60s
	Timeout time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 16,
		Timeout:             60 * time.Second,
		UserAgent:           "dsfetch",
	}
}

// StatusError is returned for responses the caller did not ask for.
// It unwraps to one of the package sentinel errors when the status
// belongs to a known class.
type StatusError struct {
	Code         int
	Status       string
	ContentRange string
	err          error
}

func (e *StatusError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%v: %s", e.err, e.Status)
	}
	return fmt.Sprintf("http: unexpected status %s", e.Status)
}

func (e *StatusError) Unwrap() error { return e.err }

// RangeResponse represents the body of an object fetched from an offset.
type RangeResponse struct {
	// StatusCode is either 200 (full body) or 206 (partial body).
	StatusCode int

	// Body streams the payload. Every Read is bounded by Options.Timeout.
	Body io.ReadCloser

	// ContentLength is the number of bytes in Body, or -1 if unknown.
	ContentLength int64

	// Start is the offset of the first byte in Body. Zero for 200 replies.
	Start int64

	// Total is the full object size, or -1 if the server did not say.
	Total int64
}

// Client is an HTTP client for authenticated downloads of large objects.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = DefaultOptions().MaxIdleConnsPerHost
	}

	dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		DisableCompression:    true, // We want raw bytes for range requests
	}

	return &Client{
		// No client-wide timeout: bodies can be many gigabytes.
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// Options returns the options the client was built with.
func (c *Client) Options() Options {
	return c.opts
}

// HTTPClient returns a standard client sharing this client's connection
// pool, bounded by Options.Timeout end to end. It is meant for small
// request/response exchanges such as token grants.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{
		Transport: c.client.Transport,
		Timeout:   c.opts.Timeout,
	}
}

// GetFrom fetches url starting at byte offset, authorized with the given
// bearer token. A Range header is only sent when offset is positive.
//
// The returned error is a *StatusError for any status other than 200/206,
// or a transport error.
func (c *Client) GetFrom(ctx context.Context, url, bearer string, offset int64) (*RangeResponse, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		resp.Body.Close()
		cancel()
		return nil, newStatusError(resp)
	}

	rr := &RangeResponse{
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		Total:         -1,
	}
	if resp.StatusCode == http.StatusOK {
		rr.Total = resp.ContentLength
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		start, _, total, err := ParseContentRange(cr)
		if err != nil {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("parse Content-Range: %w", err)
		}
		if resp.StatusCode == http.StatusPartialContent {
			rr.Start = start
		}
		rr.Total = total
	}

	rr.Body = newIdleTimeoutBody(resp.Body, c.opts.Timeout, cancel)
	return rr, nil
}

// IsRetryable reports whether err is a transient failure that a later
// attempt may overcome: transport errors, truncated bodies, idle
// timeouts, 5xx, 408 and 429.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return errors.Is(se, ErrServerError)
	}
	return true
}

func newStatusError(resp *http.Response) *StatusError {
	se := &StatusError{
		Code:         resp.StatusCode,
		Status:       resp.Status,
		ContentRange: resp.Header.Get("Content-Range"),
	}
	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized:
		se.err = ErrUnauthorized
	case code == http.StatusForbidden:
		se.err = ErrForbidden
	case code == http.StatusNotFound:
		se.err = ErrNotFound
	case code == http.StatusRequestedRangeNotSatisfiable:
		se.err = ErrRangeNotSatisfiable
	case code >= 500, code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		se.err = ErrServerError
	}
	return se
}

// idleTimeoutBody cancels the request when no Read completes within
// timeout and reports ErrIdleTimeout instead of the cancellation.
type idleTimeoutBody struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	fired   atomic.Bool
}

func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{body: body, timeout: timeout, cancel: cancel}
	b.timer = time.AfterFunc(timeout, func() {
		b.fired.Store(true)
		cancel()
	})
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && err != io.EOF && b.fired.Load() {
		return n, fmt.Errorf("%w after %s", ErrIdleTimeout, b.timeout)
	}
	if err == nil {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	err := b.body.Close()
	b.cancel()
	return err
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown; start and
// end are -1 for unsatisfied-range replies ("bytes */total").
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total, bytes start-end/* or bytes */total
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	if parts[0] == "*" {
		return -1, -1, total, nil
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	return start, end, total, nil
}
