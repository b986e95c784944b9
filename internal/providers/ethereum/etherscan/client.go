// Package etherscan implements an Etherscan-style Ethereum provider: request
// builder (client.go) and pure raw->normalized mapper (mapper.go).
// Address checksums go through go-ethereum's common.Address; wei-scale
// amounts are parsed with holiman/uint256 before crossing into the
// arbitrary-precision domain types.
package etherscan

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/httpclient"
	"github.com/jbelanger/exitbook-sub001/internal/providers"
)

// Name is this provider's registry name.
const Name = "etherscan"

// Client talks to an Etherscan-compatible JSON-RPC-over-REST API, keyed by
// a URL-embedded API key rather than a header-carried one.
type Client struct {
	http   *httpclient.Client
	apiKey string
	log    zerolog.Logger
}

// New constructs a Client.
func New(cfg providers.ProviderConfig, log zerolog.Logger) (providers.ApiClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.etherscan.io/api"
	}
	return &Client{
		http:   httpclient.New(httpclient.Config{BaseURL: baseURL, Timeout: cfg.Timeout}, log),
		apiKey: cfg.APIKey,
		log:    log.With().Str("component", "etherscan_client").Logger(),
	}, nil
}

func (c *Client) Name() string { return Name }

// ValidateAddress checks an Ethereum address is well-formed (checksummed or not).
func ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return &domain.InvalidAddressError{Address: address, Reason: "not a valid hex address"}
	}
	return nil
}

func (c *Client) Execute(ctx context.Context, op providers.Operation) (any, error) {
	if err := ValidateAddress(op.Address); err != nil {
		return nil, err
	}

	var module, action string
	switch op.Type {
	case providers.OpGetAddressTransactions:
		module, action = "account", "txlist"
	case providers.OpGetAddressInternalTransactions:
		module, action = "account", "txlistinternal"
	case providers.OpGetAddressTokenTransactions:
		module, action = "account", "tokentx"
	case providers.OpGetAddressBalances:
		module, action = "account", "balance"
	default:
		return nil, &domain.ProviderConnectionError{Provider: Name, Reason: fmt.Sprintf("unsupported operation %s", op.Type)}
	}

	q := url.Values{}
	q.Set("module", module)
	q.Set("action", action)
	q.Set("address", op.Address)
	q.Set("apikey", c.apiKey)
	return c.http.Get(ctx, "", q, validateEtherscanEnvelope)
}

func (c *Client) ExecuteStreaming(ctx context.Context, op providers.Operation, cursor *providers.Cursor) (<-chan providers.StreamBatch, error) {
	out := make(chan providers.StreamBatch, 1)
	go func() {
		defer close(out)
		data, err := c.Execute(ctx, op)
		if err != nil {
			out <- providers.StreamBatch{Err: err}
			return
		}
		body, _ := data.(map[string]any)
		raw, _ := body["result"].([]any)
		var records []map[string]any
		for _, r := range raw {
			if m, ok := r.(map[string]any); ok {
				records = append(records, m)
			}
		}
		out <- providers.StreamBatch{Records: records}
	}()
	return out, nil
}

// validateEtherscanEnvelope enforces the {"status":"1"|"0","message":...,"result":...}
// schema at the boundary
func validateEtherscanEnvelope(body any) error {
	m, ok := body.(map[string]any)
	if !ok {
		return fmt.Errorf("expected object envelope")
	}
	if _, ok := m["result"]; !ok {
		return fmt.Errorf("missing result field")
	}
	return nil
}

// Descriptor returns this provider's registry entry.
func Descriptor() providers.Descriptor {
	return providers.Descriptor{
		Name:        Name,
		Blockchain:  "ethereum",
		DisplayName: "Etherscan",
		Transport:   providers.TransportREST,
		Capabilities: providers.Capabilities{
			SupportedOperations: []providers.OperationType{
				providers.OpGetAddressTransactions,
				providers.OpGetAddressInternalTransactions,
				providers.OpGetAddressTokenTransactions,
				providers.OpGetAddressBalances,
			},
			SupportsPagination:  true,
			CursorTypes:         []string{"blockNumber"},
			PreferredCursorType: "blockNumber",
			ReplayWindowBlocks:  12,
		},
		Default: providers.DefaultConfig{
			RateLimit: providers.RateLimitConfig{PerSecond: 5, Burst: 5},
			Retries:   3,
		},
		APIKeyEnvVar:    "ETHERSCAN_API_KEY",
		SupportedChains: []string{"ethereum"},
		New:             New,
	}
}
