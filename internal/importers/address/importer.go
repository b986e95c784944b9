// Package address implements the blockchain address importer: a
// single-address fetch across whichever operations the caller requests,
// through the provider manager's failover.
package address

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/importers"
	"github.com/jbelanger/exitbook-sub001/internal/providers"
	"github.com/jbelanger/exitbook-sub001/internal/providers/manager"
)

// Operations is the default operation set fetched for a single address.
// Not every chain's providers support all four; for an operation that no
// configured provider supports, the provider manager fails with no eligible
// provider, and Run records that as a ValidationIssue like any other failed
// operation.
var Operations = []providers.OperationType{
	providers.OpGetAddressTransactions,
	providers.OpGetAddressInternalTransactions,
	providers.OpGetAddressTokenTransactions,
	providers.OpGetAddressBalances,
}

// Importer fetches one address's activity across the given operation set.
type Importer struct {
	blockchain string
	manager    Manager
	log        zerolog.Logger
}

// Manager is the provider manager surface this importer dispatches
// through (kept narrow so tests can substitute a fake).
type Manager interface {
	ExecuteWithFailover(ctx context.Context, op providers.Operation) (manager.Result, error)
}

// New constructs an Importer for one blockchain's configured provider pool.
func New(blockchain string, manager Manager, log zerolog.Logger) *Importer {
	return &Importer{
		blockchain: blockchain,
		manager:    manager,
		log:        log.With().Str("component", "address_importer").Str("blockchain", blockchain).Logger(),
	}
}

// Run fetches addr's activity across ops, one operation at a time. A
// single operation's failure does not abort the others; it is surfaced as
// a validation issue so the caller can decide whether to treat it as fatal.
func (imp *Importer) Run(ctx context.Context, addr string, ops []providers.OperationType) (importers.Result, error) {
	if len(ops) == 0 {
		ops = Operations
	}

	var result importers.Result
	recordIndex := 0
	for _, opType := range ops {
		op := providers.Operation{Type: opType, Address: addr}
		res, err := imp.manager.ExecuteWithFailover(ctx, op)
		if err != nil {
			result.Issues = append(result.Issues, importers.ValidationIssue{
				RecordIndex: recordIndex,
				Reason:      fmt.Sprintf("operation %s failed: %v", opType, err),
			})
			recordIndex++
			continue
		}

		records, err := extractRecords(res.Data)
		if err != nil {
			result.Issues = append(result.Issues, importers.ValidationIssue{
				RecordIndex: recordIndex,
				Reason:      fmt.Sprintf("operation %s returned unexpected shape from provider %s: %v", opType, res.ProviderName, err),
			})
			recordIndex++
			continue
		}

		for _, rec := range records {
			result.Records = append(result.Records, importers.RawRecord{
				ProviderID:       res.ProviderName,
				Payload:          rec,
				FetchedByAddress: addr,
			})
			recordIndex++
		}
	}
	return result, nil
}

// extractRecords normalizes a provider response body into a list of raw
// records. A "result" array (transactions, token transfers) yields one
// record per element; any other shape (e.g. a single balance object) is
// wrapped as a one-element list.
func extractRecords(data any) ([]map[string]any, error) {
	body, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object response")
	}

	result, hasResult := body["result"]
	if !hasResult {
		return []map[string]any{body}, nil
	}

	list, ok := result.([]any)
	if !ok {
		if m, ok := result.(map[string]any); ok {
			return []map[string]any{m}, nil
		}
		return nil, fmt.Errorf("unexpected result shape")
	}

	records := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records, nil
}
