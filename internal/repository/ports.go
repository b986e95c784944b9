// Package repository defines the persistence ports consumed by the core
// (transformer, pipeline, linking engine) and implemented concretely under
// internal/repository/sqlite. Ports are defined by behavior:
// any persistence technology may stand behind them provided it enforces the
// uniqueness and foreign-key constraints described there.
package repository

import (
	"context"
	"time"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

// TransactionRepository persists double-entry transactions atomically and
// enforces the balance/direction/currency invariants at commit time.
type TransactionRepository interface {
	// Save inserts tx and all of its entries within one database transaction,
	// after validating the per-currency balance, direction/sign agreement,
	// and entry/account currency agreement invariants. On a unique-constraint
	// violation of (user_id, external_id, source) it returns the existing
	// transaction's id instead of an error (idempotent replay).
	Save(ctx context.Context, userID string, tx domain.CreateLedgerTransaction, dataSourceID string) (string, error)
}

// AccountRepository resolves AccountSpecs to concrete, persisted Accounts.
type AccountRepository interface {
	// FindOrCreate is race-tolerant: concurrent callers racing on the same
	// spec converge on one row via a unique constraint, never a duplicate.
	FindOrCreate(ctx context.Context, userID string, spec domain.AccountSpec) (domain.Account, error)
}

// CurrencyRepository resolves currency tickers, with a process-level cache
// since Currency rows are effectively immutable after creation.
type CurrencyRepository interface {
	FindByTicker(ctx context.Context, ticker string) (domain.Currency, bool, error)
}

// SessionRepository tracks one import run's lifecycle.
type SessionRepository interface {
	Create(ctx context.Context, session domain.ImportSession) (string, error)
	Finalize(ctx context.Context, sessionID string, status domain.SessionStatus, imported, processed, failed int, errMsg string) error
	FindByID(ctx context.Context, sessionID string) (domain.ImportSession, bool, error)
}

// CursorRepository persists resumable-pagination state per (user, source,
// provider, operation, address).
type CursorRepository interface {
	Load(ctx context.Context, userID, source, provider, operation, address string) (domain.ProviderCursor, bool, error)
	Save(ctx context.Context, cursor domain.ProviderCursor) error
}

// RawDataRepository stores per-session provenance for fetched payloads.
type RawDataRepository interface {
	Append(ctx context.Context, sessionID, providerID string, payload []byte, fetchedByAddress string) (string, error)
}

// LedgerQueryRepository is the read side of the ledger: user-scoped
// balance and transaction-detail queries, including the entry/account join
// the reversal command rebuilds postings from.
type LedgerQueryRepository interface {
	FindTransactionByID(ctx context.Context, userID, txID string) (domain.LedgerTransactionDetail, bool, error)
	// AccountBalance returns *domain.AccountNotFoundError when accountID does
	// not exist for userID; an existing account with no entries balances to "0".
	AccountBalance(ctx context.Context, userID, accountID string) (domain.AccountBalance, error)
	AllBalances(ctx context.Context, userID string) ([]domain.AccountBalance, error)
}

// LinkRepository persists correlations between entries on different
// sources, carrying the suggested/confirmed/rejected state an operator
// drives from outside the core.
type LinkRepository interface {
	Create(ctx context.Context, link domain.Link) (string, error)
	FindPending(ctx context.Context, userID string, since time.Time) ([]domain.Link, error)
	UpdateStatus(ctx context.Context, linkID string, status domain.LinkStatus) error
}

// LinkCandidateRepository projects persisted entries into the shape the
// linking engine matches over, feeding internal/linking.Engine.Run.
type LinkCandidateRepository interface {
	ListSince(ctx context.Context, userID string, since time.Time) ([]domain.LinkCandidate, error)
}
