// Package pipeline implements the import orchestrator: the staged
// import -> normalize -> process -> ledgerize run, reporting a structured
// outcome rather than collapsing partial failures into a single error.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/importers"
	"github.com/jbelanger/exitbook-sub001/internal/ledger/transform"
	"github.com/jbelanger/exitbook-sub001/internal/processors"
	"github.com/jbelanger/exitbook-sub001/internal/repository"
)

// Importer is the common shape every importer variant (csv, exchangeapi,
// address, xpub) is adapted to before being handed to the orchestrator —
// each variant's own Run signature takes different parameters, so
// construction wires a closure over the real importer rather than the
// orchestrator depending on any one of them directly.
type Importer interface {
	Run(ctx context.Context) (importers.Result, error)
}

// ImporterFunc adapts a plain function to Importer.
type ImporterFunc func(ctx context.Context) (importers.Result, error)

func (f ImporterFunc) Run(ctx context.Context) (importers.Result, error) { return f(ctx) }

// Mapper normalizes one raw record's payload. Registered per provider id
// since each provider's payload shape differs.
type Mapper func(payload map[string]any) (domain.NormalizedRecord, error)

// FailedItem is one item's error within a stage that reports partial
// failure (normalize, process, or ledgerize).
type FailedItem struct {
	ID    string
	Stage string
	Err   error
}

// BatchOutcome is the ledgerize phase's structured result.
type BatchOutcome struct {
	Successful []string
	Failed     []FailedItem
}

// Policy selects the orchestrator's partial-failure behavior. The zero
// value is the default policy: normalize and ledgerize commit what
// validates and report what didn't, while a process-phase failure aborts
// the session, since a failed group drops ledger entries rather than a
// single item.
type Policy struct {
	// Strict aborts the run on the first failure in any phase.
	Strict bool
	// ContinueOnProcessorFailure keeps ledgerizing the groups that did
	// process instead of aborting the session on a process-phase failure.
	// The dropped groups are still reported in Batch.Failed.
	ContinueOnProcessorFailure bool
}

// ImportOutcome is run_import's return value. SessionFailed distinguishes
// "nothing persisted beyond raw data" (the importer phase itself collapsed)
// from a batch that ran to completion with some per-item failures.
type ImportOutcome struct {
	SessionID     string
	SessionFailed bool
	RecordsFetched int
	Normalized    int
	Batch         BatchOutcome
}

// Orchestrator wires one source's importer, mapper, processor, transformer
// and repository ports into a single run_import call.
type Orchestrator struct {
	importer    Importer
	mapperFor   func(providerID string) (Mapper, bool)
	processor   *processors.Processor
	transformer *transform.Transformer

	sessions     repository.SessionRepository
	cursors      repository.CursorRepository
	rawData      repository.RawDataRepository
	transactions repository.TransactionRepository

	sourceID   string
	sourceType domain.SourceType
	providerID string
	policy     Policy

	log zerolog.Logger
}

// New constructs an Orchestrator. See Policy for the partial-failure
// behavior its zero value selects.
func New(
	importer Importer,
	mapperFor func(providerID string) (Mapper, bool),
	processor *processors.Processor,
	transformer *transform.Transformer,
	sessions repository.SessionRepository,
	cursors repository.CursorRepository,
	rawData repository.RawDataRepository,
	transactions repository.TransactionRepository,
	sourceID string,
	sourceType domain.SourceType,
	providerID string,
	policy Policy,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		importer: importer, mapperFor: mapperFor, processor: processor, transformer: transformer,
		sessions: sessions, cursors: cursors, rawData: rawData, transactions: transactions,
		sourceID: sourceID, sourceType: sourceType, providerID: providerID, policy: policy,
		log: log.With().Str("component", "pipeline").Str("source_id", sourceID).Logger(),
	}
}

// RunImport performs the four-phase import for userID, always returning a
// structured ImportOutcome. A non-nil error means the importer phase itself
// failed (no raw data could be fetched), a process-phase failure aborted
// the session under the default policy, or strict mode aborted on the first
// failure in a later phase; in every case the outcome still reports what
// did complete.
func (o *Orchestrator) RunImport(ctx context.Context, userID string) (ImportOutcome, error) {
	sessionID, err := o.sessions.Create(ctx, domain.ImportSession{
		UserID: userID, SourceID: o.sourceID, SourceType: o.sourceType, ProviderID: o.providerID,
		Status: domain.SessionStarted, StartedAt: time.Now().UTC(),
	})
	if err != nil {
		return ImportOutcome{}, fmt.Errorf("pipeline: create session: %w", err)
	}
	outcome := ImportOutcome{SessionID: sessionID}

	// Phase 1: import.
	result, err := o.importer.Run(ctx)
	if err != nil {
		outcome.SessionFailed = true
		_ = o.sessions.Finalize(ctx, sessionID, domain.SessionFailed, 0, 0, 0, err.Error())
		return outcome, fmt.Errorf("pipeline: import phase: %w", err)
	}
	outcome.RecordsFetched = len(result.Records)

	for _, rec := range result.Records {
		payload, marshalErr := json.Marshal(rec.Payload)
		if marshalErr != nil {
			o.log.Warn().Err(marshalErr).Msg("raw payload not serializable, skipping provenance record")
			continue
		}
		if _, err := o.rawData.Append(ctx, sessionID, rec.ProviderID, payload, rec.FetchedByAddress); err != nil {
			o.log.Warn().Err(err).Msg("failed to persist raw data provenance")
		}
	}
	for _, cu := range result.Cursors {
		cursor := domain.ProviderCursor{
			UserID: userID, Source: o.sourceID, Provider: cu.Provider, Operation: cu.Operation,
			Address: cu.Address, Type: domain.CursorType(cu.Type), Value: cu.Value, UpdatedAt: cu.UpdatedAt,
		}
		if err := o.cursors.Save(ctx, cursor); err != nil {
			o.log.Warn().Err(err).Msg("failed to persist cursor advancement")
		}
	}

	// Phase 2: normalize.
	normalized := make([]domain.NormalizedRecord, 0, len(result.Records))
	for i, rec := range result.Records {
		mapper, ok := o.mapperFor(rec.ProviderID)
		if !ok {
			mapErr := fmt.Errorf("no mapper registered for provider %q", rec.ProviderID)
			outcome.Batch.Failed = append(outcome.Batch.Failed, FailedItem{
				ID: fmt.Sprintf("%s[%d]", rec.ProviderID, i), Stage: "normalize", Err: mapErr,
			})
			if o.policy.Strict {
				return o.finalizePartial(ctx, sessionID, outcome, mapErr)
			}
			continue
		}
		nr, err := mapper(rec.Payload)
		if err != nil {
			outcome.Batch.Failed = append(outcome.Batch.Failed, FailedItem{ID: fmt.Sprintf("%s[%d]", rec.ProviderID, i), Stage: "normalize", Err: err})
			if o.policy.Strict {
				return o.finalizePartial(ctx, sessionID, outcome, err)
			}
			continue
		}
		normalized = append(normalized, nr)
	}
	outcome.Normalized = len(normalized)

	// Phase 3: process. A failed group loses every ledger entry it held, so
	// unlike normalize/ledgerize this phase aborts the session by default;
	// ContinueOnProcessorFailure opts back into commit-what-validates.
	txs, procErr := o.processor.ProcessGroups(normalized)
	if procErr != nil {
		var pe *processors.ProcessError
		if errors.As(procErr, &pe) {
			for _, f := range pe.Failures {
				outcome.Batch.Failed = append(outcome.Batch.Failed, FailedItem{ID: f.CorrelationID, Stage: "process", Err: f.Err})
			}
		} else {
			outcome.Batch.Failed = append(outcome.Batch.Failed, FailedItem{ID: "", Stage: "process", Err: procErr})
		}
		if o.policy.Strict || !o.policy.ContinueOnProcessorFailure {
			return o.finalizePartial(ctx, sessionID, outcome, procErr)
		}
	}

	// Phase 4: ledgerize.
	for _, tx := range txs {
		created, err := o.transformer.Transform(ctx, userID, tx)
		if err != nil {
			outcome.Batch.Failed = append(outcome.Batch.Failed, FailedItem{ID: tx.ID, Stage: "ledgerize", Err: err})
			if o.policy.Strict {
				return o.finalizePartial(ctx, sessionID, outcome, err)
			}
			continue
		}
		id, err := o.transactions.Save(ctx, userID, created, o.providerID)
		if err != nil {
			outcome.Batch.Failed = append(outcome.Batch.Failed, FailedItem{ID: tx.ID, Stage: "ledgerize", Err: err})
			if o.policy.Strict {
				return o.finalizePartial(ctx, sessionID, outcome, err)
			}
			continue
		}
		outcome.Batch.Successful = append(outcome.Batch.Successful, id)
	}

	// A non-empty Batch.Failed is still a completed session.
	if err := o.sessions.Finalize(ctx, sessionID, domain.SessionCompleted, outcome.RecordsFetched, len(txs), len(outcome.Batch.Failed), ""); err != nil {
		o.log.Warn().Err(err).Msg("failed to finalize session")
	}

	return outcome, nil
}

func (o *Orchestrator) finalizePartial(ctx context.Context, sessionID string, outcome ImportOutcome, err error) (ImportOutcome, error) {
	_ = o.sessions.Finalize(ctx, sessionID, domain.SessionFailed, outcome.RecordsFetched, outcome.Normalized, len(outcome.Batch.Failed), err.Error())
	return outcome, fmt.Errorf("pipeline: aborted: %w", err)
}
