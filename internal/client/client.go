// Package client provides a REST client for the SQL assistant backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/sqlchat-go/internal/metrics"
)

// Sentinel errors for API operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnauthorized indicates the server rejected the bearer token (HTTP 401).
	// It is never retried; callers must discard the token and log in again.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnexpectedContentType indicates a response whose content type does not
	// match what the caller expects, e.g. an HTML error page from a proxy.
	ErrUnexpectedContentType = errors.New("unexpected content type")

	// ErrValidation indicates invalid input rejected before any network call.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the requested resource does not exist (HTTP 404).
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response other than 401.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server error: %d %s", e.StatusCode, e.Detail)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// TokenSource supplies the current bearer token. An empty string means no
// Authorization header is sent.
type TokenSource interface {
	Token() string
}

// Client is a REST client for the SQL assistant backend.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenSource
	metrics        *metrics.Collector
	logger         *slog.Logger
	onUnauthorized func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMetrics records request timings into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithUnauthorizedHandler registers fn to run whenever a 401 is received,
// typically clearing the token store.
func WithUnauthorizedHandler(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// New creates a new REST client.
// If baseURL is empty, uses SQLCHAT_API_URL env var or defaults to localhost:8000.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("SQLCHAT_API_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		tokens:     tokens,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.httpClient
	hc.Transport = &loggingTransport{next: hc.Transport, logger: c.logger}
	c.httpClient = &hc
	return c
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends a JSON request and decodes a JSON response into result.
// body and result may be nil.
func (c *Client) Do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, opFor(path), result)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

// send executes req and decodes a JSON body into result.
func (c *Client) send(req *http.Request, op string, result any) (err error) {
	start := time.Now()
	defer func() { c.metrics.RecordTiming(op, time.Since(start), err) }()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp, body); err != nil {
		return err
	}
	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := c.checkContentType(resp, isJSON); err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// fetchBinary executes req and returns the raw body, requiring the response
// content type to satisfy accept.
func (c *Client) fetchBinary(req *http.Request, op string, accept func(string) bool) (data []byte, contentType string, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordTiming(op, time.Since(start), err) }()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	if err := c.checkStatus(resp, body); err != nil {
		return nil, "", err
	}
	if err := c.checkContentType(resp, accept); err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) checkStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusUnauthorized {
		c.metrics.Incr(metrics.CounterUnauthorized)
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		if detail := errorDetail(body); detail != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
		}
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(body)}
	}
	return nil
}

func (c *Client) checkContentType(resp *http.Response, accept func(string) bool) error {
	raw := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil || !accept(mediaType) {
		c.metrics.Incr(metrics.CounterBadContentTypes)
		c.logger.Warn("unexpected response content type",
			"url", resp.Request.URL.String(), "content_type", raw, "status", resp.StatusCode)
		return fmt.Errorf("%w: %q", ErrUnexpectedContentType, raw)
	}
	return nil
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func isPDF(mediaType string) bool {
	return mediaType == "application/pdf"
}

// errorDetail extracts a human-readable message from an error body. The
// backend uses {"detail": ...} for HTTPException and {"error": ...} for
// document routes; anything else is returned truncated.
func errorDetail(body []byte) string {
	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch d := payload.Detail.(type) {
		case string:
			return d
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return truncate(strings.TrimSpace(string(body)), maxDetailLen)
}

// opFor maps a request path to a metrics operation name.
func opFor(path string) string {
	switch {
	case strings.HasPrefix(path, "/chat/query"):
		return metrics.OpChatQuery
	case strings.HasSuffix(path, "/embedding-status"):
		return metrics.OpPollStatus
	case strings.HasPrefix(path, "/po/project/"):
		return metrics.OpPollPOs
	default:
		return metrics.OpREST
	}
}
