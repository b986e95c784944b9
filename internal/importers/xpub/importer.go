package xpub

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/importers"
	"github.com/jbelanger/exitbook-sub001/internal/importers/address"
	"github.com/jbelanger/exitbook-sub001/internal/providers"
)

// DefaultGapLimit is the number of consecutive empty addresses scanned
// before a derivation chain is considered exhausted.
const DefaultGapLimit = 20

// EmptyIndexCache records, per chain, indices already known to carry no
// transactions so a later scan can skip re-probing them.
type EmptyIndexCache interface {
	IsKnownEmpty(chain Chain, index uint32) bool
	MarkEmpty(chain Chain, index uint32)
}

// memoryCache is a process-local EmptyIndexCache, adequate for a single
// importer run; a persistent implementation can wrap a repository table.
type memoryCache struct {
	empty map[Chain]map[uint32]bool
}

// NewMemoryCache constructs an in-memory EmptyIndexCache.
func NewMemoryCache() EmptyIndexCache {
	return &memoryCache{empty: make(map[Chain]map[uint32]bool)}
}

func (c *memoryCache) IsKnownEmpty(chain Chain, index uint32) bool {
	return c.empty[chain] != nil && c.empty[chain][index]
}

func (c *memoryCache) MarkEmpty(chain Chain, index uint32) {
	if c.empty[chain] == nil {
		c.empty[chain] = make(map[uint32]bool)
	}
	c.empty[chain][index] = true
}

// Importer scans an xpub's derivation chains for non-empty addresses, then
// fetches each one through the address importer.
type Importer struct {
	blockchain string
	addrImp    *address.Importer
	cache      EmptyIndexCache
	gapLimit   int
	log        zerolog.Logger
}

// New constructs an Importer. manager is the provider pool used both for
// cheap existence probes and for the full per-address fetch.
func New(blockchain string, manager address.Manager, cache EmptyIndexCache, log zerolog.Logger) *Importer {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Importer{
		blockchain: blockchain,
		addrImp:    address.New(blockchain, manager, log),
		cache:      cache,
		gapLimit:   DefaultGapLimit,
		log:        log.With().Str("component", "xpub_importer").Str("blockchain", blockchain).Logger(),
	}
}

// deriveAddressFn is a package-level indirection over DeriveAddress so
// tests can substitute deterministic addresses without a real BIP32 key.
var deriveAddressFn = DeriveAddress

// scanResult is one chain's gap-limit scan outcome.
type scanResult struct {
	nonEmpty []string
	probed   int
}

// scanChain derives and probes addresses 0, 1, 2, ... on chain, stopping
// after gapLimit consecutive empty addresses. Known-empty
// indices are skipped without a probe but still count toward the streak.
func (imp *Importer) scanChain(ctx context.Context, xpubStr string, chain Chain) (scanResult, error) {
	var result scanResult
	consecutiveEmpty := 0
	index := uint32(0)

	for consecutiveEmpty < imp.gapLimit {
		addr, err := deriveAddressFn(xpubStr, chain, index)
		if err != nil {
			return result, fmt.Errorf("xpub importer: %w", err)
		}

		if imp.cache.IsKnownEmpty(chain, index) {
			consecutiveEmpty++
			result.probed++
			index++
			continue
		}

		hasActivity, err := imp.probe(ctx, addr)
		result.probed++
		if err != nil {
			return result, fmt.Errorf("xpub importer: probing %s: %w", addr, err)
		}

		if hasActivity {
			result.nonEmpty = append(result.nonEmpty, addr)
			consecutiveEmpty = 0
		} else {
			imp.cache.MarkEmpty(chain, index)
			consecutiveEmpty++
		}
		index++
	}
	return result, nil
}

// probe issues the cheapest available existence query: a transactions fetch
// whose result length determines whether the address has ever been used.
func (imp *Importer) probe(ctx context.Context, addr string) (bool, error) {
	res, err := imp.addrImp.Run(ctx, addr, []providers.OperationType{providers.OpGetAddressTransactions})
	if err != nil {
		return false, err
	}
	if len(res.Issues) > 0 {
		return false, fmt.Errorf("%s", res.Issues[0].Reason)
	}
	return len(res.Records) > 0, nil
}

// Run scans both derivation chains, then fetches every non-empty address's
// full activity, deduplicating records by provider-reported transaction id.
func (imp *Importer) Run(ctx context.Context, xpubStr string) (importers.Result, error) {
	var result importers.Result

	// One dedup set across both chains: a transaction moving change between
	// external and internal addresses is reported for each, once per wallet.
	seen := make(map[string]bool)

	for _, chain := range []Chain{ChainExternal, ChainInternal} {
		scan, err := imp.scanChain(ctx, xpubStr, chain)
		if err != nil {
			return result, err
		}
		imp.log.Info().Int("chain", int(chain)).Int("probed", scan.probed).Int("non_empty", len(scan.nonEmpty)).Msg("xpub gap scan complete")

		for _, addr := range scan.nonEmpty {
			addrResult, err := imp.addrImp.Run(ctx, addr, nil)
			if err != nil {
				return result, fmt.Errorf("xpub importer: fetching %s: %w", addr, err)
			}
			result.Issues = append(result.Issues, addrResult.Issues...)
			for _, rec := range addrResult.Records {
				txID := extractTxID(rec.Payload)
				if txID != "" {
					if seen[txID] {
						continue
					}
					seen[txID] = true
				}
				result.Records = append(result.Records, rec)
			}
		}
	}
	return result, nil
}

func extractTxID(payload map[string]any) string {
	for _, field := range []string{"txid", "hash"} {
		if v, ok := payload[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
