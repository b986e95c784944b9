package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/httpclient"
	"github.com/jbelanger/exitbook-sub001/internal/providers"
)

// ledgersPath is the private Ledgers endpoint; every page of an exchange API
// import goes through it.
const ledgersPath = "/0/private/Ledgers"

// pageSize is Kraken's fixed Ledgers page size.
const pageSize = 50

// SecretEnvVar names the environment variable holding the base64 API secret
// (the key itself comes through ProviderConfig.APIKey per the registry).
const SecretEnvVar = "KRAKEN_API_SECRET"

// Client talks to Kraken's private REST API. Requests are signed per
// Kraken's scheme: API-Sign = base64(HMAC-SHA512(path || SHA256(nonce ||
// postdata), base64decode(secret))).
type Client struct {
	http   *httpclient.Client
	apiKey string
	secret []byte
	nonce  func() int64
	log    zerolog.Logger
}

// NewClient constructs a Client. The API secret is read from SecretEnvVar;
// both key and secret must be present since every Ledgers call is private.
func NewClient(cfg providers.ProviderConfig, log zerolog.Logger) (providers.ApiClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.kraken.com"
	}
	if cfg.APIKey == "" {
		return nil, &domain.InvalidParamsError{Field: "api_key", Reason: "kraken requires an API key"}
	}
	secretB64 := os.Getenv(SecretEnvVar)
	if secretB64 == "" {
		return nil, &domain.InvalidParamsError{Field: SecretEnvVar, Reason: "kraken requires an API secret"}
	}
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, &domain.InvalidParamsError{Field: SecretEnvVar, Reason: "not valid base64"}
	}

	return &Client{
		http:   httpclient.New(httpclient.Config{BaseURL: baseURL, Timeout: cfg.Timeout}, log),
		apiKey: cfg.APIKey,
		secret: secret,
		nonce:  func() int64 { return time.Now().UnixNano() / int64(time.Millisecond) },
		log:    log.With().Str("component", "kraken_client").Logger(),
	}, nil
}

func (c *Client) Name() string { return Name }

// Execute fetches a single Ledgers page. Multi-page imports go through
// ExecuteStreaming.
func (c *Client) Execute(ctx context.Context, op providers.Operation) (any, error) {
	if op.Type != providers.OpGetLedgerEntries {
		return nil, &domain.ProviderConnectionError{Provider: Name, Reason: fmt.Sprintf("unsupported operation %s", op.Type)}
	}
	records, _, err := c.fetchPage(ctx, op, 0)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ExecuteStreaming pages through Ledgers from the resume offset, emitting
// one StreamBatch per page with the next offset as a pageToken cursor.
func (c *Client) ExecuteStreaming(ctx context.Context, op providers.Operation, cursor *providers.Cursor) (<-chan providers.StreamBatch, error) {
	if op.Type != providers.OpGetLedgerEntries {
		return nil, &domain.ProviderConnectionError{Provider: Name, Reason: fmt.Sprintf("unsupported operation %s", op.Type)}
	}

	offset := 0
	if cursor != nil && cursor.Value != "" {
		parsed, err := strconv.Atoi(cursor.Value)
		if err != nil {
			return nil, &domain.InvalidParamsError{Field: "cursor", Reason: fmt.Sprintf("pageToken %q is not an offset", cursor.Value)}
		}
		offset = parsed
	}

	out := make(chan providers.StreamBatch, 1)
	go func() {
		defer close(out)
		for {
			records, total, err := c.fetchPage(ctx, op, offset)
			if err != nil {
				out <- providers.StreamBatch{Err: err}
				return
			}

			offset += len(records)
			batch := providers.StreamBatch{
				Records:    records,
				NextCursor: &providers.Cursor{Type: "pageToken", Value: strconv.Itoa(offset)},
			}

			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}

			if len(records) < pageSize || offset >= total {
				return
			}
		}
	}()
	return out, nil
}

// fetchPage performs one signed Ledgers call at the given offset and
// flattens the response's ledger map into id-tagged records.
func (c *Client) fetchPage(ctx context.Context, op providers.Operation, offset int) ([]map[string]any, int, error) {
	form := url.Values{}
	form.Set("nonce", strconv.FormatInt(c.nonce(), 10))
	form.Set("ofs", strconv.Itoa(offset))
	if since, ok := op.Params["since"].(int64); ok {
		form.Set("start", strconv.FormatInt(since/1000, 10))
	}
	if until, ok := op.Params["until"].(int64); ok {
		form.Set("end", strconv.FormatInt(until/1000, 10))
	}

	headers := map[string]string{
		"API-Key":  c.apiKey,
		"API-Sign": sign(ledgersPath, form, c.secret),
	}

	body, err := c.http.PostForm(ctx, ledgersPath, form, headers, validateLedgersResponse)
	if err != nil {
		return nil, 0, err
	}
	if reason := apiError(body); reason != "" {
		return nil, 0, &domain.ProviderConnectionError{Provider: Name, Reason: reason}
	}

	result, _ := body["result"].(map[string]any)
	ledger, _ := result["ledger"].(map[string]any)
	total := len(ledger)
	if count, ok := result["count"].(float64); ok {
		total = int(count)
	}

	records := make([]map[string]any, 0, len(ledger))
	for id, v := range ledger {
		row, ok := v.(map[string]any)
		if !ok {
			continue
		}
		rec := make(map[string]any, len(row)+1)
		for k, val := range row {
			rec[k] = val
		}
		rec["id"] = id
		records = append(records, rec)
	}
	return records, total, nil
}

// sign computes Kraken's API-Sign header over the encoded form. The same
// url.Values must be handed to PostForm afterwards: Encode is deterministic,
// so the signed bytes and the sent bytes agree.
func sign(path string, form url.Values, secret []byte) string {
	encoded := form.Encode()
	inner := sha256.Sum256([]byte(form.Get("nonce") + encoded))

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// validateLedgersResponse is the declarative boundary check: a
// Ledgers body must carry an "error" array, and a "result" object when the
// error array is empty.
func validateLedgersResponse(body any) error {
	m, ok := body.(map[string]any)
	if !ok {
		return fmt.Errorf("expected object body")
	}
	errs, ok := m["error"].([]any)
	if !ok {
		return fmt.Errorf("missing error array")
	}
	if len(errs) == 0 {
		if _, ok := m["result"].(map[string]any); !ok {
			return fmt.Errorf("missing result object")
		}
	}
	return nil
}

// apiError extracts the first Kraken application-level error, if any.
func apiError(body map[string]any) string {
	errs, _ := body["error"].([]any)
	if len(errs) == 0 {
		return ""
	}
	if s, ok := errs[0].(string); ok {
		return s
	}
	return "unknown kraken error"
}

// ClientDescriptor returns the exchange's registry entry. Exchanges share
// the per-blockchain registry/manager machinery: "kraken" is both the pool
// key and the provider name, a pool of one unless a second ledger source
// for the same exchange is ever registered.
func ClientDescriptor() providers.Descriptor {
	return providers.Descriptor{
		Name:        Name,
		Blockchain:  Name,
		DisplayName: "Kraken",
		Transport:   providers.TransportREST,
		Capabilities: providers.Capabilities{
			SupportedOperations: []providers.OperationType{providers.OpGetLedgerEntries},
			SupportsPagination:  true,
			CursorTypes:         []string{"pageToken"},
			PreferredCursorType: "pageToken",
		},
		Default: providers.DefaultConfig{
			RateLimit: providers.RateLimitConfig{PerSecond: 1, PerMinute: 15, Burst: 3},
			Timeout:   30 * time.Second,
			Retries:   3,
		},
		APIKeyEnvVar:    "KRAKEN_API_KEY",
		SupportedChains: []string{Name},
		New:             NewClient,
	}
}
