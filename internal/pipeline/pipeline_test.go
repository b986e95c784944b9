package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/importers"
	"github.com/jbelanger/exitbook-sub001/internal/ledger/transform"
	"github.com/jbelanger/exitbook-sub001/internal/processors"
)

type fakeSessions struct {
	finalizedStatus domain.SessionStatus
	finalizedFailed int
}

func (f *fakeSessions) Create(ctx context.Context, s domain.ImportSession) (string, error) {
	return "session-1", nil
}
func (f *fakeSessions) Finalize(ctx context.Context, sessionID string, status domain.SessionStatus, imported, processed, failed int, errMsg string) error {
	f.finalizedStatus = status
	f.finalizedFailed = failed
	return nil
}
func (f *fakeSessions) FindByID(ctx context.Context, sessionID string) (domain.ImportSession, bool, error) {
	return domain.ImportSession{}, false, nil
}

type fakeCursors struct{ saved []domain.ProviderCursor }

func (f *fakeCursors) Load(ctx context.Context, userID, source, provider, operation, address string) (domain.ProviderCursor, bool, error) {
	return domain.ProviderCursor{}, false, nil
}
func (f *fakeCursors) Save(ctx context.Context, cursor domain.ProviderCursor) error {
	f.saved = append(f.saved, cursor)
	return nil
}

type fakeRawData struct{ count int }

func (f *fakeRawData) Append(ctx context.Context, sessionID, providerID string, payload []byte, fetchedByAddress string) (string, error) {
	f.count++
	return fmt.Sprintf("raw-%d", f.count), nil
}

type fakeTransactions struct{ saved int }

func (f *fakeTransactions) Save(ctx context.Context, userID string, tx domain.CreateLedgerTransaction, dataSourceID string) (string, error) {
	f.saved++
	return tx.ExternalID, nil
}

type fakeCurrencies struct{}

func (fakeCurrencies) FindByTicker(ctx context.Context, ticker string) (domain.Currency, bool, error) {
	return domain.Currency{Ticker: ticker, Decimals: 8}, true, nil
}

func kraken(payload map[string]any) (domain.NormalizedRecord, error) {
	return domain.NormalizedRecord{
		ProviderID:    "csv",
		CorrelationID: payload["refid"].(string),
		ExternalID:    payload["refid"].(string),
		Timestamp:     time.Unix(1700000000, 0).UTC(),
		Asset:         payload["asset"].(string),
		Amount:        payload["amount"].(string),
	}, nil
}

func TestRunImportHappyPath(t *testing.T) {
	importer := ImporterFunc(func(ctx context.Context) (importers.Result, error) {
		return importers.Result{
			Records: []importers.RawRecord{
				{ProviderID: "csv", Payload: map[string]any{"refid": "dep-1", "asset": "BTC", "amount": "0.5"}},
			},
		}, nil
	})

	proc := processors.New(processors.ByCorrelationID{}, processors.KrakenLedgerInterpretation{})
	tr := transform.New(fakeCurrencies{}, "csv")

	sessions := &fakeSessions{}
	cursors := &fakeCursors{}
	rawData := &fakeRawData{}
	txRepo := &fakeTransactions{}

	orch := New(
		importer,
		func(providerID string) (Mapper, bool) { return kraken, true },
		proc, tr, sessions, cursors, rawData, txRepo,
		"csv-source", domain.SourceTypeExchangeCSV, "csv", Policy{}, zerolog.Nop(),
	)

	outcome, err := orch.RunImport(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, outcome.SessionFailed)
	assert.Equal(t, 1, outcome.RecordsFetched)
	assert.Len(t, outcome.Batch.Successful, 1)
	assert.Empty(t, outcome.Batch.Failed)
	assert.Equal(t, 1, rawData.count)
	assert.Equal(t, domain.SessionCompleted, sessions.finalizedStatus)
}

func TestRunImportCollapsesOnImporterFailure(t *testing.T) {
	importer := ImporterFunc(func(ctx context.Context) (importers.Result, error) {
		return importers.Result{}, fmt.Errorf("network unreachable")
	})

	proc := processors.New(processors.ByCorrelationID{}, processors.KrakenLedgerInterpretation{})
	tr := transform.New(fakeCurrencies{}, "csv")
	sessions := &fakeSessions{}

	orch := New(
		importer, func(string) (Mapper, bool) { return nil, false },
		proc, tr, sessions, &fakeCursors{}, &fakeRawData{}, &fakeTransactions{},
		"csv-source", domain.SourceTypeExchangeCSV, "csv", Policy{}, zerolog.Nop(),
	)

	outcome, err := orch.RunImport(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, outcome.SessionFailed)
	assert.Equal(t, domain.SessionFailed, sessions.finalizedStatus)
}

func TestRunImportReportsPartialFailureWithoutAborting(t *testing.T) {
	importer := ImporterFunc(func(ctx context.Context) (importers.Result, error) {
		return importers.Result{
			Records: []importers.RawRecord{
				{ProviderID: "csv", Payload: map[string]any{"refid": "dep-1", "asset": "BTC", "amount": "0.5"}},
				{ProviderID: "unknown-provider", Payload: map[string]any{}},
			},
		}, nil
	})

	proc := processors.New(processors.ByCorrelationID{}, processors.KrakenLedgerInterpretation{})
	tr := transform.New(fakeCurrencies{}, "csv")
	sessions := &fakeSessions{}

	orch := New(
		importer,
		func(providerID string) (Mapper, bool) {
			if providerID == "csv" {
				return kraken, true
			}
			return nil, false
		},
		proc, tr, sessions, &fakeCursors{}, &fakeRawData{}, &fakeTransactions{},
		"csv-source", domain.SourceTypeExchangeCSV, "csv", Policy{}, zerolog.Nop(),
	)

	outcome, err := orch.RunImport(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, outcome.SessionFailed)
	assert.Len(t, outcome.Batch.Successful, 1)
	require.Len(t, outcome.Batch.Failed, 1)
	assert.Equal(t, "normalize", outcome.Batch.Failed[0].Stage)
	assert.Equal(t, domain.SessionCompleted, sessions.finalizedStatus)
}

// badAmountImporter yields one well-formed record and one whose amount the
// interpretation strategy cannot parse, failing that record's group in the
// process phase.
func badAmountImporter() Importer {
	return ImporterFunc(func(ctx context.Context) (importers.Result, error) {
		return importers.Result{
			Records: []importers.RawRecord{
				{ProviderID: "csv", Payload: map[string]any{"refid": "dep-1", "asset": "BTC", "amount": "0.5"}},
				{ProviderID: "csv", Payload: map[string]any{"refid": "dep-2", "asset": "BTC", "amount": "not-a-number"}},
			},
		}, nil
	})
}

func TestRunImportProcessorFailureAbortsSessionByDefault(t *testing.T) {
	proc := processors.New(processors.ByCorrelationID{}, processors.KrakenLedgerInterpretation{})
	tr := transform.New(fakeCurrencies{}, "csv")
	sessions := &fakeSessions{}
	txRepo := &fakeTransactions{}

	orch := New(
		badAmountImporter(),
		func(providerID string) (Mapper, bool) { return kraken, true },
		proc, tr, sessions, &fakeCursors{}, &fakeRawData{}, txRepo,
		"csv-source", domain.SourceTypeExchangeCSV, "csv", Policy{}, zerolog.Nop(),
	)

	outcome, err := orch.RunImport(context.Background(), "user-1")
	require.Error(t, err)
	assert.Equal(t, 0, txRepo.saved, "nothing may be ledgerized when a group dropped entries")
	require.NotEmpty(t, outcome.Batch.Failed)
	assert.Equal(t, "process", outcome.Batch.Failed[0].Stage)
	assert.Equal(t, domain.SessionFailed, sessions.finalizedStatus)
}

func TestRunImportProcessorFailureContinuesUnderPolicy(t *testing.T) {
	proc := processors.New(processors.ByCorrelationID{}, processors.KrakenLedgerInterpretation{})
	tr := transform.New(fakeCurrencies{}, "csv")
	sessions := &fakeSessions{}
	txRepo := &fakeTransactions{}

	orch := New(
		badAmountImporter(),
		func(providerID string) (Mapper, bool) { return kraken, true },
		proc, tr, sessions, &fakeCursors{}, &fakeRawData{}, txRepo,
		"csv-source", domain.SourceTypeExchangeCSV, "csv", Policy{ContinueOnProcessorFailure: true}, zerolog.Nop(),
	)

	outcome, err := orch.RunImport(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, txRepo.saved, "the group that processed cleanly still ledgerizes")
	assert.Len(t, outcome.Batch.Successful, 1)
	require.Len(t, outcome.Batch.Failed, 1)
	assert.Equal(t, "process", outcome.Batch.Failed[0].Stage)
	assert.Equal(t, domain.SessionCompleted, sessions.finalizedStatus)
}
