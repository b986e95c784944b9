package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

// LedgerQueryRepository implements repository.LedgerQueryRepository: the
// user-scoped read side of the ledger. Balances are summed in Go over the
// stored decimal strings rather than with SQL SUM, which would coerce the
// TEXT amounts to floats and lose precision on large smallest-unit values.
type LedgerQueryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewLedgerQueryRepository(db *sql.DB, log zerolog.Logger) *LedgerQueryRepository {
	return &LedgerQueryRepository{db: db, log: log.With().Str("repository", "ledger_query").Logger()}
}

// FindTransactionByID loads one committed transaction with its entries and
// their resolved accounts.
func (r *LedgerQueryRepository) FindTransactionByID(ctx context.Context, userID, txID string) (domain.LedgerTransactionDetail, bool, error) {
	var detail domain.LedgerTransactionDetail
	tx := &detail.Transaction
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, external_id, source, description, tx_date, created_at
		FROM ledger_transactions WHERE id = ? AND user_id = ?
	`, txID, userID).Scan(&tx.ID, &tx.UserID, &tx.ExternalID, &tx.Source, &tx.Description, &tx.TxDate, &tx.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerTransactionDetail{}, false, nil
	}
	if err != nil {
		return domain.LedgerTransactionDetail{}, false, fmt.Errorf("find transaction: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.user_id, e.transaction_id, e.account_id, e.currency_ticker, e.amount_smallest,
		       e.direction, e.entry_type, e.price_amount, e.price_currency,
		       a.id, a.user_id, a.display_name, a.currency_ticker, a.type, a.source, a.network,
		       a.external_address, a.parent_account_id, a.created_at, a.updated_at
		FROM entries e
		JOIN accounts a ON a.id = e.account_id
		WHERE e.transaction_id = ? AND e.user_id = ?
		ORDER BY e.rowid
	`, txID, userID)
	if err != nil {
		return domain.LedgerTransactionDetail{}, false, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ea domain.EntryWithAccount
		var priceAmount, priceCurrency, parentID sql.NullString
		if err := rows.Scan(
			&ea.Entry.ID, &ea.Entry.UserID, &ea.Entry.TransactionID, &ea.Entry.AccountID,
			&ea.Entry.CurrencyTicker, &ea.Entry.AmountSmallest, &ea.Entry.Direction, &ea.Entry.EntryType,
			&priceAmount, &priceCurrency,
			&ea.Account.ID, &ea.Account.UserID, &ea.Account.DisplayName, &ea.Account.CurrencyTicker,
			&ea.Account.Type, &ea.Account.Source, &ea.Account.Network, &ea.Account.ExternalAddress,
			&parentID, &ea.Account.CreatedAt, &ea.Account.UpdatedAt,
		); err != nil {
			return domain.LedgerTransactionDetail{}, false, fmt.Errorf("scan entry: %w", err)
		}
		if priceAmount.Valid {
			ea.Entry.PriceAmount = &priceAmount.String
		}
		if priceCurrency.Valid {
			ea.Entry.PriceCurrency = &priceCurrency.String
		}
		if parentID.Valid {
			ea.Account.ParentAccountID = &parentID.String
		}
		detail.Entries = append(detail.Entries, ea)
	}
	if err := rows.Err(); err != nil {
		return domain.LedgerTransactionDetail{}, false, fmt.Errorf("iterate entries: %w", err)
	}

	return detail, true, nil
}

// AccountBalance sums one account's entries.
func (r *LedgerQueryRepository) AccountBalance(ctx context.Context, userID, accountID string) (domain.AccountBalance, error) {
	var bal domain.AccountBalance
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, currency_ticker, type FROM accounts WHERE id = ? AND user_id = ?
	`, accountID, userID).Scan(&bal.AccountID, &bal.DisplayName, &bal.CurrencyTicker, &bal.Type)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.AccountBalance{}, &domain.AccountNotFoundError{AccountID: accountID}
	}
	if err != nil {
		return domain.AccountBalance{}, fmt.Errorf("find account: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT amount_smallest FROM entries WHERE account_id = ? AND user_id = ?
	`, accountID, userID)
	if err != nil {
		return domain.AccountBalance{}, fmt.Errorf("load account entries: %w", err)
	}
	defer rows.Close()

	sum := big.NewInt(0)
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return domain.AccountBalance{}, fmt.Errorf("scan amount: %w", err)
		}
		if err := addAmount(sum, amount); err != nil {
			return domain.AccountBalance{}, fmt.Errorf("account %s: %w", accountID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.AccountBalance{}, fmt.Errorf("iterate amounts: %w", err)
	}

	bal.BalanceSmallest = sum.String()
	return bal, nil
}

// AllBalances sums every account the user owns, including accounts with no
// entries yet (those balance to "0").
func (r *LedgerQueryRepository) AllBalances(ctx context.Context, userID string) ([]domain.AccountBalance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.display_name, a.currency_ticker, a.type, e.amount_smallest
		FROM accounts a
		LEFT JOIN entries e ON e.account_id = a.id
		WHERE a.user_id = ?
		ORDER BY a.created_at, a.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	defer rows.Close()

	var order []string
	sums := make(map[string]*big.Int)
	meta := make(map[string]domain.AccountBalance)

	for rows.Next() {
		var bal domain.AccountBalance
		var amount sql.NullString
		if err := rows.Scan(&bal.AccountID, &bal.DisplayName, &bal.CurrencyTicker, &bal.Type, &amount); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		if _, ok := sums[bal.AccountID]; !ok {
			order = append(order, bal.AccountID)
			sums[bal.AccountID] = big.NewInt(0)
			meta[bal.AccountID] = bal
		}
		if amount.Valid {
			if err := addAmount(sums[bal.AccountID], amount.String); err != nil {
				return nil, fmt.Errorf("account %s: %w", bal.AccountID, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}

	out := make([]domain.AccountBalance, 0, len(order))
	for _, id := range order {
		bal := meta[id]
		bal.BalanceSmallest = sums[id].String()
		out = append(out, bal)
	}
	return out, nil
}

func addAmount(sum *big.Int, amount string) error {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("non-integer smallest-unit amount %q", amount)
	}
	sum.Add(sum, v)
	return nil
}
