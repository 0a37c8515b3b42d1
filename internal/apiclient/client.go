// ABOUTME: Typed HTTP client for the ytwatch REST surface
// ABOUTME: Shared by the device agent (API key calls) and the admin CLI (management token calls)

package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// DefaultTimeout bounds every request unless WithTimeout or WithHTTPClient overrides it.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 64 << 10

// Client talks to a ytwatch server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	compress   bool
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithCompression gzips history uploads.
func WithCompression(enabled bool) Option {
	return func(c *Client) { c.compress = enabled }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a client for the server at baseURL (e.g. "http://127.0.0.1:3000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "ytwatch",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode int
	Kind       string
	Message    string
	Items      []ItemError
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsAuthFailure reports whether err is a 401 or 403 from the server: the credential in use
// is missing, unknown or does not cover the requested device.
func IsAuthFailure(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// IsTransient reports whether retrying later may succeed: network failures, timeouts,
// server errors and rate limiting.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsStatus reports whether err is a server response with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// credential decorates a request with authentication.
type credential func(*http.Request)

func apiKey(key string) credential {
	return func(r *http.Request) { r.Header.Set("X-API-Key", key) }
}

func bearer(token string) credential {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

type requestOptions struct {
	cred     credential
	body     any
	compress bool
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, opts requestOptions, out any) error {
	var body io.Reader
	var encoding string
	if opts.body != nil {
		data, err := json.Marshal(opts.body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		if opts.compress {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(data); err != nil {
				return fmt.Errorf("compressing request: %w", err)
			}
			if err := zw.Close(); err != nil {
				return fmt.Errorf("compressing request: %w", err)
			}
			data = buf.Bytes()
			encoding = "gzip"
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if opts.cred != nil {
		opts.cred(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &Error{StatusCode: resp.StatusCode}
	var wire struct {
		Error string      `json:"error"`
		Kind  string      `json:"kind"`
		Items []ItemError `json:"items"`
	}
	if json.Unmarshal(data, &wire) == nil && wire.Error != "" {
		apiErr.Message = wire.Error
		apiErr.Kind = wire.Kind
		apiErr.Items = wire.Items
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
