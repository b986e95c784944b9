package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

func TestClientRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Factor: 2}}, zerolog.Nop())
	result, err := c.Get(context.Background(), "/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientSchemaErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bad":true}`))
	}))
	defer srv.Close()

	validate := func(body any) error {
		return assertErr("missing required field")
	}

	c := New(Config{BaseURL: srv.URL, Retry: RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Factor: 2}}, zerolog.Nop())
	_, err := c.Get(context.Background(), "/x", nil, validate)
	require.Error(t, err)

	var schemaErr *domain.SchemaError
	assert.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientRateLimited429WithRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Factor: 2}}, zerolog.Nop())
	result, err := c.Get(context.Background(), "/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
}

func TestClientNon429ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Factor: 2}}, zerolog.Nop())
	_, err := c.Get(context.Background(), "/x", nil, nil)
	require.Error(t, err)
	var httpErr *domain.HTTPError
	assert.ErrorAs(t, err, &httpErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientPostFormSendsEncodedBodyAndHeaders(t *testing.T) {
	var gotBody, gotContentType, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotContentType = r.Header.Get("Content-Type")
		gotHeader = r.Header.Get("API-Sign")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, zerolog.Nop())
	form := url.Values{}
	form.Set("nonce", "42")
	form.Set("ofs", "0")
	result, err := c.PostForm(context.Background(), "/ledgers", form, map[string]string{"API-Sign": "sig"}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, "nonce=42&ofs=0", gotBody)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, "sig", gotHeader)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
func assertErr(msg string) error  { return simpleErr(msg) }
