// Package exchangeapi implements the exchange API importer: an
// authenticated, paginated fetch of ledger entries through the provider
// federation, resumable via a persisted cursor.
package exchangeapi

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/importers"
	"github.com/jbelanger/exitbook-sub001/internal/providers"
)

// executor is the subset of *manager.Manager this importer depends on.
type executor interface {
	ExecuteStreaming(ctx context.Context, op providers.Operation, resumeCursor *providers.Cursor) (<-chan providers.StreamBatch, error)
}

// Importer fetches one exchange's ledger entries since a resumable cursor.
type Importer struct {
	exchange string
	manager  executor
	log      zerolog.Logger
}

// New constructs an Importer for one exchange's configured provider pool.
func New(exchange string, manager executor, log zerolog.Logger) *Importer {
	return &Importer{
		exchange: exchange,
		manager:  manager,
		log:      log.With().Str("component", "exchangeapi_importer").Str("exchange", exchange).Logger(),
	}
}

// Run fetches ledger entries since the given resume cursor (nil for a
// fresh import), following the provider's pagination until exhausted. It
// respects since/until parameters and proposes a cursor advancement for
// resumable imports via the returned CursorUpdate; persistence itself is
// the orchestrator's job.
func (imp *Importer) Run(ctx context.Context, since, until *time.Time, resume *domain.ProviderCursor) (importers.Result, error) {
	params := map[string]any{}
	if since != nil {
		params["since"] = since.UTC().UnixMilli()
	}
	if until != nil {
		params["until"] = until.UTC().UnixMilli()
	}

	op := providers.Operation{Type: providers.OpGetLedgerEntries, Params: params}

	var cursor *providers.Cursor
	if resume != nil {
		cursor = &providers.Cursor{Type: string(resume.Type), Value: resume.Value}
	}

	batches, err := imp.manager.ExecuteStreaming(ctx, op, cursor)
	if err != nil {
		return importers.Result{}, fmt.Errorf("exchangeapi importer: %w", err)
	}

	var result importers.Result
	recordIndex := 0
	var lastCursor *providers.Cursor
	for batch := range batches {
		if batch.Err != nil {
			return result, fmt.Errorf("exchangeapi importer: stream error: %w", batch.Err)
		}
		for _, rec := range batch.Records {
			result.Records = append(result.Records, importers.RawRecord{
				ProviderID: imp.exchange,
				Payload:    rec,
			})
			recordIndex++
		}
		if batch.NextCursor != nil {
			lastCursor = batch.NextCursor
		}
	}

	if lastCursor != nil {
		result.Cursors = append(result.Cursors, importers.CursorUpdate{
			Provider:  imp.exchange,
			Operation: string(providers.OpGetLedgerEntries),
			Type:      lastCursor.Type,
			Value:     lastCursor.Value,
			UpdatedAt: timeNow(),
		})
	}

	return result, nil
}

func timeNow() time.Time { return time.Now().UTC() }
