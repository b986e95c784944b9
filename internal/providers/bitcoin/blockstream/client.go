// Package blockstream implements the Bitcoin Blockstream Esplora-style
// provider: request builder (client.go) and pure raw->normalized mapper
// (mapper.go). Addresses are decoded with btcsuite's btcutil against
// mainnet chain params before any request is issued.
package blockstream

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/httpclient"
	"github.com/jbelanger/exitbook-sub001/internal/providers"
)

// Name is this provider's registry name.
const Name = "blockstream"

// Client talks to a Blockstream Esplora-compatible REST API.
type Client struct {
	http *httpclient.Client
	log  zerolog.Logger
}

// New constructs a Client. Operations that carry an address validate it
// eagerly, failing before any I/O.
func New(cfg providers.ProviderConfig, log zerolog.Logger) (providers.ApiClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://blockstream.info/api"
	}
	return &Client{
		http: httpclient.New(httpclient.Config{BaseURL: baseURL, Timeout: cfg.Timeout}, log),
		log:  log.With().Str("component", "blockstream_client").Logger(),
	}, nil
}

func (c *Client) Name() string { return Name }

// ValidateAddress checks a Bitcoin address decodes under mainnet params.
func ValidateAddress(address string) error {
	if _, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams); err != nil {
		return &domain.InvalidAddressError{Address: address, Reason: err.Error()}
	}
	return nil
}

func (c *Client) Execute(ctx context.Context, op providers.Operation) (any, error) {
	switch op.Type {
	case providers.OpGetAddressTransactions:
		if err := ValidateAddress(op.Address); err != nil {
			return nil, err
		}
		body, err := c.http.Get(ctx, fmt.Sprintf("/address/%s/txs", op.Address), nil, nil)
		if err != nil {
			return nil, err
		}
		return body, nil
	case providers.OpGetAddressBalances:
		if err := ValidateAddress(op.Address); err != nil {
			return nil, err
		}
		body, err := c.http.Get(ctx, fmt.Sprintf("/address/%s", op.Address), nil, nil)
		if err != nil {
			return nil, err
		}
		return body, nil
	default:
		return nil, &domain.ProviderConnectionError{Provider: Name, Reason: fmt.Sprintf("unsupported operation %s", op.Type)}
	}
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
		records := make([]map[string]any, 0, len(raw))
		for _, r := range raw {
			if m, ok := r.(map[string]any); ok {
				records = append(records, m)
			}
		}
		out <- providers.StreamBatch{Records: records, NextCursor: nil}
	}()
	return out, nil
}

// Descriptor returns this provider's registry entry.
func Descriptor() providers.Descriptor {
	return providers.Descriptor{
		Name:        Name,
		Blockchain:  "bitcoin",
		DisplayName: "Blockstream Esplora",
		Transport:   providers.TransportREST,
		Capabilities: providers.Capabilities{
			SupportedOperations: []providers.OperationType{
				providers.OpGetAddressTransactions,
				providers.OpGetAddressBalances,
			},
			SupportsPagination:  true,
			CursorTypes:         []string{"pageToken"},
			PreferredCursorType: "pageToken",
			ReplayWindowBlocks:  5,
		},
		Default: providers.DefaultConfig{
			RateLimit: providers.RateLimitConfig{PerSecond: 5, Burst: 10},
			Retries:   3,
		},
		SupportedChains: []string{"bitcoin"},
		New:             New,
	}
}
