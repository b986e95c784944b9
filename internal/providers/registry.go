// Package providers holds the process-wide, immutable provider registry,
// the Operation contract dispatched through the provider manager, and the
// ApiClient interface implemented by each concrete provider package.
package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// OperationType names a capability a provider may or may not support.
type OperationType string

const (
	OpGetAddressTransactions         OperationType = "getAddressTransactions"
	OpGetAddressInternalTransactions OperationType = "getAddressInternalTransactions"
	OpGetAddressTokenTransactions    OperationType = "getAddressTokenTransactions"
	OpGetAddressBalances             OperationType = "getAddressBalances"
	OpGetLedgerEntries               OperationType = "getLedgerEntries" // exchange API
)

// TransportType is how an ApiClient talks to its upstream.
type TransportType string

const (
	TransportREST TransportType = "rest"
	TransportRPC  TransportType = "rpc"
)

// Capabilities describes what one provider descriptor can do.
type Capabilities struct {
	SupportedOperations []OperationType
	SupportsPagination  bool
	CursorTypes         []string
	PreferredCursorType string
	ReplayWindowBlocks  int // reorg replay window, per-chain
}

// Supports reports whether op is in the capability list.
func (c Capabilities) Supports(op OperationType) bool {
	for _, supported := range c.SupportedOperations {
		if supported == op {
			return true
		}
	}
	return false
}

// RateLimitConfig is the provider's default rate limit, overridable
type RateLimitConfig struct {
	PerSecond int
	PerMinute int
	PerHour   int
	Burst     int
}

// DefaultConfig bundles the non-rate-limit defaults a descriptor carries.
type DefaultConfig struct {
	RateLimit RateLimitConfig
	Timeout   time.Duration
	Retries   int
}

// ApiClient is implemented by every concrete provider package. It is
// what the registry's constructor produces and what the provider manager
// dispatches Operations to.
type ApiClient interface {
	Name() string
	Execute(ctx context.Context, op Operation) (any, error)
	ExecuteStreaming(ctx context.Context, op Operation, cursor *Cursor) (<-chan StreamBatch, error)
}

// Operation is a single request to a provider: a type tag plus enough
// parameters for the client to build the request and for the manager to
// compute a stable cache key.
type Operation struct {
	Type    OperationType
	Address string
	Params  map[string]any
}

// CacheKey returns a stable key for response caching, or ("", false) if this
// operation type should never be cached.
func (o Operation) CacheKey() (string, bool) {
	switch o.Type {
	case OpGetAddressBalances, OpGetAddressTransactions, OpGetAddressInternalTransactions, OpGetAddressTokenTransactions:
		return fmt.Sprintf("%s:%s", o.Type, o.Address), true
	default:
		return "", false
	}
}

// Cursor is the resume token handed to ExecuteStreaming.
type Cursor struct {
	Type  string
	Value string
}

// StreamBatch is one page of a streaming operation.
type StreamBatch struct {
	Records    []map[string]any
	NextCursor *Cursor
	Err        error
}

// Constructor builds a concrete ApiClient from a descriptor-specific config.
type Constructor func(cfg ProviderConfig, log zerolog.Logger) (ApiClient, error)

// ProviderConfig is the user/environment-supplied configuration for one
// provider instance (API key, base URL override, priority, enable flag).
type ProviderConfig struct {
	Name     string
	Priority int
	Enabled  bool
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Retries  int
	RateLimit RateLimitConfig
}

// Descriptor is one provider's immutable registry entry.
type Descriptor struct {
	Name            string
	Blockchain      string
	DisplayName     string
	Transport       TransportType
	Capabilities    Capabilities
	Default         DefaultConfig
	BaseURLsByNetwork map[string]string
	APIKeyEnvVar    string // empty if no key required
	SupportedChains []string
	New             Constructor
}

// ConfigError is one entry of validate_config's error list.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("provider %s: %s", e.Provider, e.Reason) }

// Registry is the process-wide, immutable-after-Register catalog.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]map[string]Descriptor // blockchain -> name -> descriptor
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]map[string]Descriptor)}
}

// Register adds a descriptor. Intended to be called only during process
// initialization (e.g. from an init() or a main()-time bootstrap), never
// concurrently with lookups in steady state.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.descriptors[d.Blockchain] == nil {
		r.descriptors[d.Blockchain] = make(map[string]Descriptor)
	}
	r.descriptors[d.Blockchain][d.Name] = d
}

// GetMetadata returns the descriptor for (blockchain, name), if registered.
func (r *Registry) GetMetadata(blockchain, name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[blockchain][name]
	return d, ok
}

// ListAvailable returns every descriptor registered for a blockchain.
func (r *Registry) ListAvailable(blockchain string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.descriptors[blockchain]))
	for _, d := range r.descriptors[blockchain] {
		out = append(out, d)
	}
	return out
}

// CreateProvider constructs a concrete ApiClient for (blockchain, name).
func (r *Registry) CreateProvider(blockchain, name string, cfg ProviderConfig, log zerolog.Logger) (ApiClient, error) {
	d, ok := r.GetMetadata(blockchain, name)
	if !ok {
		return nil, fmt.Errorf("providers: unknown provider %s/%s", blockchain, name)
	}
	return d.New(cfg, log)
}

// ValidateConfig checks a list of per-blockchain provider configs against
// the registry ("unknown provider names are fatal").
func (r *Registry) ValidateConfig(blockchain string, configs []ProviderConfig) []ConfigError {
	var errs []ConfigError
	for _, cfg := range configs {
		if _, ok := r.GetMetadata(blockchain, cfg.Name); !ok {
			errs = append(errs, ConfigError{Provider: cfg.Name, Reason: "not registered for blockchain " + blockchain})
			continue
		}
	}
	return errs
}
