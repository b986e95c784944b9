package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jbelanger/exitbook-sub001/internal/circuitbreaker"
	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/providers"
	"github.com/jbelanger/exitbook-sub001/internal/ratelimit"
)

// DefaultCacheTTL is the per-operation default for cached responses.
const DefaultCacheTTL = 30 * time.Second

// candidate bundles one configured provider with its coordination state.
type candidate struct {
	name     string
	priority int
	client   providers.ApiClient
	breaker  *circuitbreaker.Breaker
	limiter  *ratelimit.Limiter
	health   *Health
	caps     providers.Capabilities
}

// Result is returned by ExecuteWithFailover on success.
type Result struct {
	Data         any
	ProviderName string
}

// Manager coordinates one blockchain's provider pool: failover order,
// capability routing, response caching, and health tracking.
type Manager struct {
	blockchain string
	log        zerolog.Logger

	mu         sync.RWMutex
	candidates []*candidate
	cache      *ttlCache
}

// New constructs an empty Manager for one blockchain; providers are added
// with AddProvider, which keeps them sorted by priority (lowest first).
func New(blockchain string, log zerolog.Logger) *Manager {
	return &Manager{
		blockchain: blockchain,
		log:        log.With().Str("component", "provider_manager").Str("blockchain", blockchain).Logger(),
		cache:      newTTLCache(512),
	}
}

// AddProvider registers one provider instance into the pool. Config priority
// determines dispatch order; lower priority index is attempted first.
func (m *Manager) AddProvider(name string, priority int, client providers.ApiClient, caps providers.Capabilities, limits ratelimit.Limits, breakerCfg circuitbreaker.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, &candidate{
		name:     name,
		priority: priority,
		client:   client,
		breaker:  circuitbreaker.New(breakerCfg),
		limiter:  ratelimit.New(limits),
		health:   &Health{},
		caps:     caps,
	})
	sort.Slice(m.candidates, func(i, j int) bool { return m.candidates[i].priority < m.candidates[j].priority })
}

func (m *Manager) eligibleCandidates(op providers.Operation) []*candidate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*candidate, 0, len(m.candidates))
	for _, c := range m.candidates {
		if !c.caps.Supports(op.Type) {
			continue
		}
		if !c.breaker.ShouldAttempt() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ExecuteWithFailover runs one operation with failover: cache check, ordered
// failover across capability- and breaker-eligible candidates, error
// classification on failure.
func (m *Manager) ExecuteWithFailover(ctx context.Context, op providers.Operation) (Result, error) {
	if key, ok := op.CacheKey(); ok {
		if cached, hit := m.cache.get(key); hit {
			return cached.(Result), nil
		}
	}

	candidates := m.eligibleCandidates(op)
	if len(candidates) == 0 {
		return Result{}, &domain.AllProvidersFailedError{Kind: domain.FailoverNoEligible}
	}

	var lastErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, &domain.CancelledError{Operation: string(op.Type)}
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return Result{}, &domain.CancelledError{Operation: string(op.Type)}
		}

		data, err := c.client.Execute(ctx, op)
		if err == nil {
			c.breaker.RecordSuccess()
			c.health.recordSuccess()
			result := Result{Data: data, ProviderName: c.name}
			if key, ok := op.CacheKey(); ok {
				m.cache.set(key, result, DefaultCacheTTL)
			}
			return result, nil
		}

		lastErr = err
		if _, isRateLimit := err.(*domain.RateLimitedError); isRateLimit {
			c.health.recordRateLimit()
		}
		c.breaker.RecordFailure()
		c.health.recordFailure()

		if !isRetryableAcrossProviders(err) {
			// Non-retryable: continue only if a remaining candidate exists.
			continue
		}
	}

	return Result{}, &domain.AllProvidersFailedError{Kind: domain.FailoverAllErrored, LastError: lastErr}
}

// ExecuteStreaming dispatches a streaming/paginated operation to the first
// eligible candidate (resumed from resumeCursor if given), returning a
// channel of batches. Failover for streaming operations restarts the stream
// on the next eligible candidate from the given cursor.
func (m *Manager) ExecuteStreaming(ctx context.Context, op providers.Operation, resumeCursor *providers.Cursor) (<-chan providers.StreamBatch, error) {
	candidates := m.eligibleCandidates(op)
	if len(candidates) == 0 {
		return nil, &domain.AllProvidersFailedError{Kind: domain.FailoverNoEligible}
	}

	out := make(chan providers.StreamBatch)
	go func() {
		defer close(out)
		var lastErr error
		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return
			}
			if err := c.limiter.Acquire(ctx); err != nil {
				return
			}

			batches, err := c.client.ExecuteStreaming(ctx, op, resumeCursor)
			if err != nil {
				lastErr = err
				c.breaker.RecordFailure()
				c.health.recordFailure()
				continue
			}

			succeeded := true
			for batch := range batches {
				if batch.Err != nil {
					lastErr = batch.Err
					succeeded = false
					c.breaker.RecordFailure()
					c.health.recordFailure()
					break
				}
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
			if succeeded {
				c.breaker.RecordSuccess()
				c.health.recordSuccess()
				return
			}
		}
		if lastErr != nil {
			out <- providers.StreamBatch{Err: &domain.AllProvidersFailedError{Kind: domain.FailoverAllErrored, LastError: lastErr}}
		}
	}()
	return out, nil
}

func isRetryableAcrossProviders(err error) bool {
	switch err.(type) {
	case *domain.NetworkError, *domain.TimeoutError, *domain.RateLimitedError, *domain.HTTPError:
		return true
	default:
		return false
	}
}

// ProviderStatistics is one candidate's combined breaker/health snapshot.
type ProviderStatistics struct {
	Name    string
	Breaker circuitbreaker.Statistics
	Health  Snapshot
}

// Statistics returns a snapshot of every candidate's breaker and health
// state, augmented with process-level resource stats.
type Statistics struct {
	Providers      []ProviderStatistics
	SystemMemoryPct float64
}

// Statistics is the health read path consumed by the health endpoint.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Statistics{}
	for _, c := range m.candidates {
		out.Providers = append(out.Providers, ProviderStatistics{
			Name:    c.name,
			Breaker: c.breaker.Statistics(),
			Health:  c.health.snapshot(),
		})
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out.SystemMemoryPct = vm.UsedPercent
	}
	return out
}
