package manager

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook-sub001/internal/circuitbreaker"
	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/providers"
	"github.com/jbelanger/exitbook-sub001/internal/ratelimit"
)

type fakeClient struct {
	name    string
	results []any
	errs    []error
	calls   int32
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Execute(ctx context.Context, op providers.Operation) (any, error) {
	idx := int(atomic.AddInt32(&f.calls, 1)) - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx < len(f.results) {
		return f.results[idx], nil
	}
	return nil, &domain.HTTPError{Status: 503}
}

func (f *fakeClient) ExecuteStreaming(ctx context.Context, op providers.Operation, cursor *providers.Cursor) (<-chan providers.StreamBatch, error) {
	ch := make(chan providers.StreamBatch)
	close(ch)
	return ch, nil
}

func allCaps(ops ...providers.OperationType) providers.Capabilities {
	return providers.Capabilities{SupportedOperations: ops}
}

func TestExecuteWithFailoverProviderBFallback(t *testing.T) {
	m := New("bitcoin", zerolog.Nop())

	providerA := &fakeClient{name: "A", errs: []error{
		&domain.HTTPError{Status: 503},
		&domain.HTTPError{Status: 503},
		&domain.HTTPError{Status: 503},
	}}
	providerB := &fakeClient{name: "B", results: []any{map[string]any{"amount": "0.25", "currency": "BTC"}}}

	m.AddProvider("A", 1, providerA, allCaps(providers.OpGetAddressBalances), ratelimit.Limits{PerSecond: 100}, circuitbreaker.Config{MaxFailures: 3})
	m.AddProvider("B", 2, providerB, allCaps(providers.OpGetAddressBalances), ratelimit.Limits{PerSecond: 100}, circuitbreaker.Config{MaxFailures: 3})

	op := providers.Operation{Type: providers.OpGetAddressBalances, Address: "addr1"}
	result, err := m.ExecuteWithFailover(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, "B", result.ProviderName)

	stats := m.Statistics()
	for _, p := range stats.Providers {
		if p.Name == "A" {
			assert.Equal(t, circuitbreaker.StateOpen, p.Breaker.State, "provider A should have tripped its breaker after 3 failures")
		}
		if p.Name == "B" {
			assert.Equal(t, 1, p.Health.Successes)
		}
	}
}

func TestExecuteWithFailoverNoEligibleCandidates(t *testing.T) {
	m := New("bitcoin", zerolog.Nop())
	providerA := &fakeClient{name: "A"}
	m.AddProvider("A", 1, providerA, allCaps(providers.OpGetAddressTransactions), ratelimit.Limits{}, circuitbreaker.Config{})

	op := providers.Operation{Type: providers.OpGetAddressBalances}
	_, err := m.ExecuteWithFailover(context.Background(), op)
	require.Error(t, err)

	var failed *domain.AllProvidersFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, domain.FailoverNoEligible, failed.Kind)
}

func TestExecuteWithFailoverRespectsOpenBreaker(t *testing.T) {
	m := New("bitcoin", zerolog.Nop())
	providerA := &fakeClient{name: "A", errs: []error{&domain.HTTPError{Status: 503}}}
	m.AddProvider("A", 1, providerA, allCaps(providers.OpGetAddressBalances), ratelimit.Limits{}, circuitbreaker.Config{MaxFailures: 1})

	op := providers.Operation{Type: providers.OpGetAddressBalances, Address: "a"}
	_, err := m.ExecuteWithFailover(context.Background(), op)
	require.Error(t, err)

	// Breaker is now open; a second call must see "no eligible candidates", not attempt A again.
	_, err = m.ExecuteWithFailover(context.Background(), providers.Operation{Type: providers.OpGetAddressBalances, Address: "b"})
	require.Error(t, err)
	var failed *domain.AllProvidersFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, domain.FailoverNoEligible, failed.Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&providerA.calls), "provider A must not be attempted again once its breaker is open")
}

func TestCacheHitAvoidsSecondDispatch(t *testing.T) {
	m := New("bitcoin", zerolog.Nop())
	providerA := &fakeClient{name: "A", results: []any{map[string]any{"amount": "1"}}}
	m.AddProvider("A", 1, providerA, allCaps(providers.OpGetAddressBalances), ratelimit.Limits{}, circuitbreaker.Config{})

	op := providers.Operation{Type: providers.OpGetAddressBalances, Address: "addr1"}
	_, err := m.ExecuteWithFailover(context.Background(), op)
	require.NoError(t, err)

	_, err = m.ExecuteWithFailover(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&providerA.calls), "second call for the same cache key must be served from cache")
}
