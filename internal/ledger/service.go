// Package ledger exposes the core's transport-agnostic command/query
// surface: recording and reversing transactions, soft-creating accounts,
// and the balance/detail/session-status reads. A CLI or HTTP adapter calls
// this package; it never reaches into the repositories directly.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/repository"
)

// ManualSource tags transactions recorded directly through RecordTransaction
// rather than through an import pipeline.
const ManualSource = "manual"

// Service implements the command/query surface over the repository ports.
type Service struct {
	transactions repository.TransactionRepository
	queries      repository.LedgerQueryRepository
	accounts     repository.AccountRepository
	sessions     repository.SessionRepository
	log          zerolog.Logger
}

// New constructs a Service.
func New(
	transactions repository.TransactionRepository,
	queries repository.LedgerQueryRepository,
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	log zerolog.Logger,
) *Service {
	return &Service{
		transactions: transactions,
		queries:      queries,
		accounts:     accounts,
		sessions:     sessions,
		log:          log.With().Str("component", "ledger_service").Logger(),
	}
}

// RecordTransaction persists a caller-supplied transaction. The repository
// asserts the balance/direction/currency invariants; an idempotent replay of
// the same (external_id, source) returns the existing id.
func (s *Service) RecordTransaction(ctx context.Context, userID string, tx domain.CreateLedgerTransaction) (string, error) {
	if len(tx.Entries) == 0 {
		return "", &domain.InvalidParamsError{Field: "entries", Reason: "a transaction needs at least one entry"}
	}
	return s.transactions.Save(ctx, userID, tx, ManualSource)
}

// CreateAccount soft-creates (or finds) the account matching spec.
func (s *Service) CreateAccount(ctx context.Context, userID string, spec domain.AccountSpec) (domain.Account, error) {
	if spec.CurrencyTicker == "" {
		return domain.Account{}, &domain.InvalidParamsError{Field: "currency_ticker", Reason: "required"}
	}
	if spec.Type == "" {
		return domain.Account{}, &domain.InvalidParamsError{Field: "type", Reason: "required"}
	}
	return s.accounts.FindOrCreate(ctx, userID, spec)
}

// ReverseTransaction appends a correcting transaction that negates every
// entry of txID against the same accounts. Committed transactions are
// immutable, so the original row is untouched; the reversal's external id
// derives from the original's, making a repeated reversal idempotent rather
// than double-reversing.
func (s *Service) ReverseTransaction(ctx context.Context, userID, txID, reason string) (string, error) {
	detail, ok, err := s.queries.FindTransactionByID(ctx, userID, txID)
	if err != nil {
		return "", fmt.Errorf("ledger: load transaction for reversal: %w", err)
	}
	if !ok {
		return "", &domain.TransactionNotFoundError{TransactionID: txID}
	}

	reversal := domain.CreateLedgerTransaction{
		ExternalID:  detail.Transaction.ExternalID + ":reversal",
		Source:      detail.Transaction.Source,
		Description: fmt.Sprintf("reversal of %s: %s", txID, reason),
		TxDate:      time.Now().UTC(),
	}

	for _, ea := range detail.Entries {
		amount, parseErr := negate(ea.Entry.AmountSmallest)
		if parseErr != nil {
			return "", fmt.Errorf("ledger: reverse entry %s: %w", ea.Entry.ID, parseErr)
		}
		reversal.Entries = append(reversal.Entries, domain.CreateEntry{
			Account: domain.AccountSpec{
				UserID:          userID,
				CurrencyTicker:  ea.Account.CurrencyTicker,
				Type:            ea.Account.Type,
				Source:          ea.Account.Source,
				Network:         ea.Account.Network,
				ExternalAddress: ea.Account.ExternalAddress,
				DisplayName:     ea.Account.DisplayName,
				ParentAccountID: ea.Account.ParentAccountID,
			},
			CurrencyTicker: ea.Entry.CurrencyTicker,
			AmountSmallest: amount,
			Direction:      flip(ea.Entry.Direction),
			EntryType:      ea.Entry.EntryType,
			PriceAmount:    ea.Entry.PriceAmount,
			PriceCurrency:  ea.Entry.PriceCurrency,
		})
	}

	id, err := s.transactions.Save(ctx, userID, reversal, ManualSource)
	if err != nil {
		return "", err
	}
	s.log.Info().Str("reversed_tx", txID).Str("reversal_tx", id).Msg("transaction reversed")
	return id, nil
}

// GetAccountBalance returns one account's committed balance.
func (s *Service) GetAccountBalance(ctx context.Context, userID, accountID string) (domain.AccountBalance, error) {
	return s.queries.AccountBalance(ctx, userID, accountID)
}

// GetAllBalances returns every account's committed balance for the user.
func (s *Service) GetAllBalances(ctx context.Context, userID string) ([]domain.AccountBalance, error) {
	return s.queries.AllBalances(ctx, userID)
}

// FindTransactionByID returns one committed transaction with its entries.
func (s *Service) FindTransactionByID(ctx context.Context, userID, txID string) (domain.LedgerTransactionDetail, error) {
	detail, ok, err := s.queries.FindTransactionByID(ctx, userID, txID)
	if err != nil {
		return domain.LedgerTransactionDetail{}, err
	}
	if !ok {
		return domain.LedgerTransactionDetail{}, &domain.TransactionNotFoundError{TransactionID: txID}
	}
	return detail, nil
}

// GetImportSessionStatus returns the session if it exists and belongs to
// userID. Another user's session is indistinguishable from a missing one.
func (s *Service) GetImportSessionStatus(ctx context.Context, userID, sessionID string) (domain.ImportSession, error) {
	session, ok, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return domain.ImportSession{}, err
	}
	if !ok || session.UserID != userID {
		return domain.ImportSession{}, &domain.SessionNotFoundError{SessionID: sessionID}
	}
	return session, nil
}

func negate(amount string) (string, error) {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return "", fmt.Errorf("non-integer smallest-unit amount %q", amount)
	}
	return v.Neg(v).String(), nil
}

func flip(d domain.EntryDirection) domain.EntryDirection {
	if d == domain.DirectionCredit {
		return domain.DirectionDebit
	}
	return domain.DirectionCredit
}
