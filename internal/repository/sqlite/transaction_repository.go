package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

// TransactionRepository implements repository.TransactionRepository: one
// atomic insert of a transaction plus its entries, guarded by the balance,
// direction, and currency-agreement invariants, with idempotent replay on
// the (user_id, external_id, source) unique constraint.
type TransactionRepository struct {
	db         *sql.DB
	accounts   *AccountRepository
	currencies *CurrencyRepository
	log        zerolog.Logger
}

func NewTransactionRepository(db *sql.DB, accounts *AccountRepository, currencies *CurrencyRepository, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:         db,
		accounts:   accounts,
		currencies: currencies,
		log:        log.With().Str("repository", "transaction").Logger(),
	}
}

// Save implements the five-step commit algorithm: balance validation,
// direction validation, currency validation, atomic insert, and
// idempotent recovery on a unique-constraint collision.
func (r *TransactionRepository) Save(ctx context.Context, userID string, tx domain.CreateLedgerTransaction, dataSourceID string) (string, error) {
	if err := r.assertBalanced(tx); err != nil {
		return "", err
	}
	if err := r.assertDirectionsAgree(tx); err != nil {
		return "", err
	}

	for _, e := range tx.Entries {
		if e.CurrencyTicker != e.Account.CurrencyTicker {
			return "", &domain.CurrencyMismatchError{Expected: e.Account.CurrencyTicker, Actual: e.CurrencyTicker}
		}
		if _, ok, err := r.currencies.FindByTicker(ctx, e.CurrencyTicker); err != nil {
			return "", fmt.Errorf("validate currency %s: %w", e.CurrencyTicker, err)
		} else if !ok {
			return "", &domain.CurrencyNotFoundError{Ticker: e.CurrencyTicker}
		}
	}

	id, err := r.insert(ctx, userID, tx)
	if err != nil {
		if isUniqueViolation(err) {
			existing, ok, findErr := r.findByExternalID(ctx, userID, tx.ExternalID, tx.Source)
			if findErr != nil {
				return "", findErr
			}
			if ok {
				r.log.Debug().Str("external_id", tx.ExternalID).Str("source", tx.Source).Msg("idempotent replay, returning existing transaction")
				return existing, nil
			}
		}
		return "", fmt.Errorf("save transaction: %w", err)
	}

	return id, nil
}

func (r *TransactionRepository) insert(ctx context.Context, userID string, tx domain.CreateLedgerTransaction) (string, error) {
	// Accounts are resolved before the transaction opens: FindOrCreate runs
	// on the pool, which Open limits to a single connection.
	accountIDs := make([]string, len(tx.Entries))
	for i, e := range tx.Entries {
		acc, err := r.accounts.FindOrCreate(ctx, userID, e.Account)
		if err != nil {
			return "", fmt.Errorf("resolve account: %w", err)
		}
		accountIDs[i] = acc.ID
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, user_id, external_id, source, description, tx_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, userID, tx.ExternalID, tx.Source, tx.Description, tx.TxDate.UTC(), now)
	if err != nil {
		return "", err
	}

	for i, e := range tx.Entries {
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO entries
			(id, user_id, transaction_id, account_id, currency_ticker, amount_smallest, direction, entry_type, price_amount, price_currency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			uuid.New().String(), userID, id, accountIDs[i], e.CurrencyTicker, e.AmountSmallest,
			string(e.Direction), string(e.EntryType), nullStringPtr(e.PriceAmount), nullStringPtr(e.PriceCurrency),
		)
		if err != nil {
			return "", err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

func (r *TransactionRepository) findByExternalID(ctx context.Context, userID, externalID, source string) (string, bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM ledger_transactions WHERE user_id = ? AND external_id = ? AND source = ?
	`, userID, externalID, source).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find transaction by external id: %w", err)
	}
	return id, true, nil
}

// assertBalanced sums signed smallest-unit amounts per currency (entries
// already carry their sign: credit non-negative, debit non-positive) and
// requires every currency to net to zero. Mirrors
// the transformer's own check; the repository re-asserts it at commit time
// since Save is the system's actual write boundary.
func (r *TransactionRepository) assertBalanced(tx domain.CreateLedgerTransaction) error {
	sums := make(map[string]*big.Int)
	for _, e := range tx.Entries {
		v, ok := new(big.Int).SetString(e.AmountSmallest, 10)
		if !ok {
			return fmt.Errorf("entry for %s has non-integer smallest-unit amount %q", e.CurrencyTicker, e.AmountSmallest)
		}
		if _, ok := sums[e.CurrencyTicker]; !ok {
			sums[e.CurrencyTicker] = big.NewInt(0)
		}
		sums[e.CurrencyTicker].Add(sums[e.CurrencyTicker], v)
	}

	var unbalanced []domain.CurrencyDelta
	for ticker, sum := range sums {
		if sum.Sign() != 0 {
			unbalanced = append(unbalanced, domain.CurrencyDelta{CurrencyTicker: ticker, Delta: sum.String()})
		}
	}
	if len(unbalanced) > 0 {
		return &domain.LedgerUnbalancedError{Unbalanced: unbalanced}
	}
	return nil
}

// assertDirectionsAgree requires every entry's direction to agree with its
// signed smallest-unit amount: credit must be non-negative, debit must be
// non-positive.
func (r *TransactionRepository) assertDirectionsAgree(tx domain.CreateLedgerTransaction) error {
	for _, e := range tx.Entries {
		v, ok := new(big.Int).SetString(e.AmountSmallest, 10)
		if !ok {
			continue // caught by assertBalanced
		}
		switch e.Direction {
		case domain.DirectionCredit:
			if v.Sign() < 0 {
				return &domain.DirectionMismatchError{Direction: e.Direction, Amount: e.AmountSmallest}
			}
		case domain.DirectionDebit:
			if v.Sign() > 0 {
				return &domain.DirectionMismatchError{Direction: e.Direction, Amount: e.AmountSmallest}
			}
		default:
			return &domain.DirectionMismatchError{Direction: e.Direction, Amount: e.AmountSmallest}
		}
	}
	return nil
}
