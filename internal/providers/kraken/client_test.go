package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook-sub001/internal/httpclient"
	"github.com/jbelanger/exitbook-sub001/internal/providers"
)

var testSecret = []byte("super-secret-signing-key")

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return &Client{
		http:   httpclient.New(httpclient.Config{BaseURL: baseURL, Timeout: 5 * time.Second}, zerolog.Nop()),
		apiKey: "test-key",
		secret: testSecret,
		nonce:  func() int64 { return 1700000000000 },
		log:    zerolog.Nop(),
	}
}

// ledgersHandler serves count rows in pageSize chunks and records the forms
// it saw, verifying the API-Sign header against the received body.
func ledgersHandler(t *testing.T, count int, seen *[]url.Values) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		form, err := url.ParseQuery(string(raw))
		require.NoError(t, err)
		*seen = append(*seen, form)

		inner := sha256.Sum256([]byte(form.Get("nonce") + string(raw)))
		mac := hmac.New(sha512.New, testSecret)
		mac.Write([]byte(ledgersPath))
		mac.Write(inner[:])
		want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		assert.Equal(t, want, r.Header.Get("API-Sign"), "signature must cover the sent form bytes")
		assert.Equal(t, "test-key", r.Header.Get("API-Key"))

		ofs, _ := strconv.Atoi(form.Get("ofs"))
		ledger := map[string]any{}
		for i := ofs; i < count && i < ofs+pageSize; i++ {
			ledger[fmt.Sprintf("L%04d", i)] = map[string]any{
				"refid": fmt.Sprintf("R%04d", i), "time": 1700000000.0 + float64(i),
				"type": "trade", "asset": "XXBT", "amount": "0.1", "fee": "0",
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":  []any{},
			"result": map[string]any{"ledger": ledger, "count": count},
		})
	}
}

func TestExecuteStreamingPagesUntilExhausted(t *testing.T) {
	var seen []url.Values
	srv := httptest.NewServer(ledgersHandler(t, 120, &seen))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	batches, err := c.ExecuteStreaming(context.Background(), providers.Operation{Type: providers.OpGetLedgerEntries, Params: map[string]any{}}, nil)
	require.NoError(t, err)

	total := 0
	var lastCursor *providers.Cursor
	for b := range batches {
		require.NoError(t, b.Err)
		total += len(b.Records)
		lastCursor = b.NextCursor
	}

	assert.Equal(t, 120, total)
	require.NotNil(t, lastCursor)
	assert.Equal(t, "120", lastCursor.Value)
	assert.Len(t, seen, 3, "120 rows at a 50-row page size is three requests")
}

func TestExecuteStreamingResumesFromCursor(t *testing.T) {
	var seen []url.Values
	srv := httptest.NewServer(ledgersHandler(t, 120, &seen))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	batches, err := c.ExecuteStreaming(context.Background(),
		providers.Operation{Type: providers.OpGetLedgerEntries, Params: map[string]any{}},
		&providers.Cursor{Type: "pageToken", Value: "100"})
	require.NoError(t, err)

	total := 0
	for b := range batches {
		require.NoError(t, b.Err)
		total += len(b.Records)
	}

	assert.Equal(t, 20, total)
	require.Len(t, seen, 1)
	assert.Equal(t, "100", seen[0].Get("ofs"))
}

func TestExecuteStreamingForwardsSinceUntilAsSeconds(t *testing.T) {
	var seen []url.Values
	srv := httptest.NewServer(ledgersHandler(t, 10, &seen))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	params := map[string]any{"since": int64(1700000000000), "until": int64(1700003600000)}
	batches, err := c.ExecuteStreaming(context.Background(), providers.Operation{Type: providers.OpGetLedgerEntries, Params: params}, nil)
	require.NoError(t, err)
	for range batches {
	}

	require.Len(t, seen, 1)
	assert.Equal(t, "1700000000", seen[0].Get("start"))
	assert.Equal(t, "1700003600", seen[0].Get("end"))
}

func TestExecuteSurfacesApplicationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": []any{"EAPI:Invalid key"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Execute(context.Background(), providers.Operation{Type: providers.OpGetLedgerEntries, Params: map[string]any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EAPI:Invalid key")
}

func TestExecuteRejectsUnsupportedOperation(t *testing.T) {
	c := newTestClient(t, "http://unused")
	_, err := c.Execute(context.Background(), providers.Operation{Type: providers.OpGetAddressTransactions})
	require.Error(t, err)
}
