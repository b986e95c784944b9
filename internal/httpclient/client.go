// Package httpclient provides a schema-validated HTTP client with retries,
// timeouts, exponential backoff, and 429/Retry-After handling. It does not
// rate-limit or circuit-break; those layers compose around it.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

// Validator validates a decoded response body, returning a *domain.SchemaError
// (never retried) on failure. nil means "no validation".
type Validator func(body any) error

// RetryPolicy controls backoff behaviour.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64
}

// DefaultRetryPolicy is three attempts, 250ms initial delay, factor 2.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 250 * time.Millisecond, Factor: 2}
}

// Config configures one Client instance, generally one per provider.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   RetryPolicy
	Headers map[string]string
}

// Client is a provider-scoped HTTP client. It does not rate-limit or
// circuit-break itself — those concerns live in internal/ratelimit and
// internal/circuitbreaker, composed by the provider manager around calls
// into this client.
type Client struct {
	cfg    Config
	http   *http.Client
	log    zerolog.Logger
}

// New constructs a Client.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With().Str("component", "httpclient").Str("base_url", cfg.BaseURL).Logger(),
	}
}

// Get performs a schema-validated GET request with retry/backoff.
func (c *Client) Get(ctx context.Context, path string, query url.Values, validate Validator) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, path, query, nil, nil, validate)
}

// Post performs a schema-validated POST request with retry/backoff.
func (c *Client) Post(ctx context.Context, path string, body any, validate Validator) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, path, nil, jsonBody{body}, nil, validate)
}

// PostForm performs a form-encoded POST with per-call headers, for upstreams
// whose authentication signs the encoded form (e.g. exchange private APIs).
// headers win over the client-wide Config.Headers on key collision.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, headers map[string]string, validate Validator) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, path, nil, formBody{form}, headers, validate)
}

// jsonBody and formBody carry the request payload plus how to encode it.
type jsonBody struct{ v any }
type formBody struct{ form url.Values }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string, validate Validator) (map[string]any, error) {
	attempt := 0
	delay := c.cfg.Retry.InitialDelay

	var lastErr error
	for attempt < c.cfg.Retry.MaxAttempts {
		attempt++

		result, retryAfter, err := c.attempt(ctx, method, path, query, body, headers, validate)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if attempt >= c.cfg.Retry.MaxAttempts {
			break
		}

		wait := delay
		if retryAfter > 0 {
			wait = retryAfter
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, &domain.CancelledError{Operation: fmt.Sprintf("%s %s", method, path)}
		}
		delay = time.Duration(float64(delay) * c.cfg.Retry.Factor)
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string, validate Validator) (map[string]any, time.Duration, error) {
	fullURL := c.cfg.BaseURL + path
	if query != nil {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case formBody:
		reqBody = bytes.NewBufferString(b.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case jsonBody:
		if b.v != nil {
			buf, err := json.Marshal(b.v)
			if err != nil {
				return nil, 0, fmt.Errorf("httpclient: marshal request body: %w", err)
			}
			reqBody = bytes.NewReader(buf)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, 0, &domain.NetworkError{Cause: err}
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, &domain.CancelledError{Operation: fullURL}
		}
		if isTimeoutErr(err) {
			return nil, 0, &domain.TimeoutError{Operation: fullURL}
		}
		return nil, 0, &domain.NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &domain.NetworkError{Cause: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, has := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.log.Warn().Int("status", resp.StatusCode).Str("url", fullURL).Msg("rate limited by upstream")
		return nil, retryAfter, &domain.RateLimitedError{RetryAfter: retryAfter, HasRetry: has}
	}

	if resp.StatusCode >= 500 {
		c.log.Error().Int("status", resp.StatusCode).Str("url", fullURL).Msg("upstream server error")
		return nil, 0, &domain.HTTPError{Status: resp.StatusCode, Body: string(raw)}
	}

	if resp.StatusCode >= 400 {
		c.log.Error().Int("status", resp.StatusCode).Str("url", fullURL).Msg("upstream client error")
		return nil, 0, &domain.HTTPError{Status: resp.StatusCode, Body: string(raw)}
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, 0, &domain.SchemaError{Source: fullURL, Reason: "invalid json: " + err.Error()}
	}

	if validate != nil {
		if err := validate(decoded); err != nil {
			return nil, 0, &domain.SchemaError{Source: fullURL, Reason: err.Error()}
		}
	}

	result, ok := decoded.(map[string]any)
	if !ok {
		result = map[string]any{"result": decoded}
	}
	return result, 0, nil
}

func parseRetryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t), true
	}
	return 0, false
}

// isRetryable: network, timeout, 5xx, 429 retry; schema
// and non-429 4xx do not.
func isRetryable(err error) bool {
	switch err.(type) {
	case *domain.NetworkError, *domain.TimeoutError, *domain.RateLimitedError:
		return true
	case *domain.HTTPError:
		httpErr := err.(*domain.HTTPError)
		return httpErr.Status >= 500
	default:
		return false
	}
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
