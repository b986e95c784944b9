// Package linking implements the post-ingest correlation pass:
// matching exchange deposit/withdrawal entries against blockchain
// inflow/outflow entries belonging to the same user.
//
// The engine is deliberately decoupled from the entries/accounts schema:
// callers (the linking sync job, wired in internal/di) build the
// candidate list from whatever repository queries make sense for their
// storage, and the engine only knows about Candidate's fields.
package linking

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/repository"
)

// Candidate is one entry eligible for linking: an exchange-side
// withdrawal/deposit or a blockchain-side outflow/inflow.
type Candidate struct {
	EntryID   string
	UserID    string
	Source    string // e.g. "kraken", "bitcoin" — two candidates from the same source are never paired
	Asset     string
	Amount    string // decimal string, non-negative magnitude
	Direction domain.EntryDirection
	Timestamp time.Time
	TxHash    string // blockchain tx hash, when known; empty disables exact-hash matching for this candidate
}

// CandidatesFromDomain converts repository-projected entries into the
// engine's own Candidate shape, taking each signed amount's magnitude
// (domain.LinkCandidate.Amount is stored signed; Candidate.Amount is not).
func CandidatesFromDomain(views []domain.LinkCandidate) []Candidate {
	out := make([]Candidate, 0, len(views))
	for _, v := range views {
		amount := v.Amount
		if n, ok := new(big.Int).SetString(v.Amount, 10); ok {
			out = append(out, Candidate{
				EntryID: v.EntryID, UserID: v.UserID, Source: v.Source, Asset: v.Asset,
				Amount: new(big.Int).Abs(n).String(), Direction: v.Direction,
				Timestamp: v.Timestamp, TxHash: v.TxHash,
			})
			continue
		}
		out = append(out, Candidate{
			EntryID: v.EntryID, UserID: v.UserID, Source: v.Source, Asset: v.Asset,
			Amount: amount, Direction: v.Direction, Timestamp: v.Timestamp, TxHash: v.TxHash,
		})
	}
	return out
}

// Suggestion is one proposed link before persistence, carrying the pair
// it was built from for logging/debugging.
type Suggestion struct {
	Link   domain.Link
	Source Candidate
	Target Candidate
}

// Engine finds and persists link suggestions across two candidate sets.
type Engine struct {
	links repository.LinkRepository

	minAmountSimilarity float64
	maxVariance         float64
	maxTimeDelta        time.Duration

	log zerolog.Logger
}

// Option configures an Engine's matching thresholds away from the defaults.
type Option func(*Engine)

// WithMinAmountSimilarity overrides the default 0.95 min(a,b)/max(a,b) threshold.
func WithMinAmountSimilarity(v float64) Option {
	return func(e *Engine) { e.minAmountSimilarity = v }
}

// WithMaxVariance overrides the default 0.10 |a-b|/max(a,b) threshold.
func WithMaxVariance(v float64) Option {
	return func(e *Engine) { e.maxVariance = v }
}

// WithMaxTimeDelta overrides the default ±24h timestamp proximity window.
func WithMaxTimeDelta(d time.Duration) Option {
	return func(e *Engine) { e.maxTimeDelta = d }
}

// New constructs an Engine with default thresholds, adjustable via Option.
func New(links repository.LinkRepository, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		links:               links,
		minAmountSimilarity: 0.95,
		maxVariance:         0.10,
		maxTimeDelta:        24 * time.Hour,
		log:                 log.With().Str("component", "linking").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// pairCandidate holds a prospective match before dedup; pairs equal on every
// sort key keep their enumeration order (the sort is stable).
type pairCandidate struct {
	source     Candidate
	target     Candidate
	strategy   domain.LinkStrategy
	confidence float64
	variance   float64
	timeDelta  time.Duration
}

// Run correlates outflows against inflows, persists the surviving
// suggestions via the link repository, and returns them. outflows and
// inflows may overlap in source; a pair is only considered when the two
// candidates come from different sources and have opposite movement
// (one debit, one credit).
func (e *Engine) Run(ctx context.Context, userID string, candidates []Candidate) ([]Suggestion, error) {
	pairs := e.findPairs(candidates)
	winners := dedupeGreedy(pairs)

	suggestions := make([]Suggestion, 0, len(winners))
	for _, p := range winners {
		link := domain.Link{
			UserID:        userID,
			SourceEntryID: p.source.EntryID,
			TargetEntryID: p.target.EntryID,
			Confidence:    p.confidence,
			Variance:      p.variance,
			Status:        domain.LinkSuggested,
			Strategy:      p.strategy,
		}
		id, err := e.links.Create(ctx, link)
		if err != nil {
			e.log.Warn().Err(err).Str("source_entry", p.source.EntryID).Str("target_entry", p.target.EntryID).
				Msg("failed to persist link suggestion")
			continue
		}
		link.ID = id
		suggestions = append(suggestions, Suggestion{Link: link, Source: p.source, Target: p.target})
	}
	return suggestions, nil
}

// findPairs enumerates every eligible (outflow, inflow) pair across
// sources and classifies it exact-hash or heuristic, discarding pairs
// that satisfy neither.
func (e *Engine) findPairs(candidates []Candidate) []pairCandidate {
	var outflows, inflows []Candidate
	for _, c := range candidates {
		switch c.Direction {
		case domain.DirectionDebit:
			outflows = append(outflows, c)
		case domain.DirectionCredit:
			inflows = append(inflows, c)
		}
	}

	var pairs []pairCandidate
	for _, out := range outflows {
		for _, in := range inflows {
			if out.Source == in.Source {
				continue
			}
			if out.EntryID == in.EntryID {
				continue
			}
			if p, ok := e.classify(out, in); ok {
				pairs = append(pairs, p)
			}
		}
	}
	return pairs
}

// classify decides whether out/in form an exact-hash or heuristic match.
// Exact hash wins whenever both sides expose the same non-empty tx hash,
// regardless of asset/amount/time — the hash is itself the proof.
func (e *Engine) classify(out, in Candidate) (pairCandidate, bool) {
	if out.TxHash != "" && out.TxHash == in.TxHash {
		return pairCandidate{
			source: out, target: in, strategy: domain.LinkStrategyExactHash,
			confidence: 1.0, variance: 0, timeDelta: absDuration(out.Timestamp.Sub(in.Timestamp)),
		}, true
	}

	if out.Asset != in.Asset {
		return pairCandidate{}, false
	}
	delta := absDuration(out.Timestamp.Sub(in.Timestamp))
	if delta > e.maxTimeDelta {
		return pairCandidate{}, false
	}

	similarity, variance, ok := amountSimilarity(out.Amount, in.Amount)
	if !ok || similarity < e.minAmountSimilarity || variance > e.maxVariance {
		return pairCandidate{}, false
	}

	return pairCandidate{
		source: out, target: in, strategy: domain.LinkStrategyHeuristic,
		confidence: similarity, variance: variance, timeDelta: delta,
	}, true
}

// amountSimilarity computes min(a,b)/max(a,b) and |a-b|/max(a,b) from
// decimal-string magnitudes using rational arithmetic so no precision is
// lost to float64 for large smallest-unit amounts.
func amountSimilarity(a, b string) (similarity, variance float64, ok bool) {
	ra, aok := new(big.Rat).SetString(a)
	rb, bok := new(big.Rat).SetString(b)
	if !aok || !bok {
		return 0, 0, false
	}
	ra.Abs(ra)
	rb.Abs(rb)
	if ra.Sign() == 0 && rb.Sign() == 0 {
		return 1, 0, true
	}
	max, min := ra, rb
	if ra.Cmp(rb) < 0 {
		max, min = rb, ra
	}
	if max.Sign() == 0 {
		return 0, 0, false
	}
	simRat := new(big.Rat).Quo(min, max)
	diff := new(big.Rat).Sub(max, min)
	varRat := new(big.Rat).Quo(diff, max)
	sim, _ := simRat.Float64()
	vr, _ := varRat.Float64()
	return sim, vr, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// dedupeGreedy sorts candidate pairs by (confidence desc, variance asc,
// time delta asc) and greedily keeps the best pair touching each entry,
// so every source and target entry participates in at most one link.
func dedupeGreedy(pairs []pairCandidate) []pairCandidate {
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].confidence != pairs[j].confidence {
			return pairs[i].confidence > pairs[j].confidence
		}
		if pairs[i].variance != pairs[j].variance {
			return pairs[i].variance < pairs[j].variance
		}
		return pairs[i].timeDelta < pairs[j].timeDelta
	})

	usedSource := make(map[string]bool)
	usedTarget := make(map[string]bool)
	var winners []pairCandidate
	for _, p := range pairs {
		if usedSource[p.source.EntryID] || usedTarget[p.target.EntryID] {
			continue
		}
		usedSource[p.source.EntryID] = true
		usedTarget[p.target.EntryID] = true
		winners = append(winners, p)
	}
	return winners
}
