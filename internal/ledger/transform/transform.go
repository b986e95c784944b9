// Package transform implements the ledger transformer: a pure
// function turning one UniversalTransaction into a balanced double-entry
// CreateLedgerTransaction
package transform

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/money"
)

// CurrencyLookup resolves a ticker to its decimals, the only currency
// metadata the transformer needs.
type CurrencyLookup interface {
	FindByTicker(ctx context.Context, ticker string) (domain.Currency, bool, error)
}

// Transformer converts UniversalTransactions into CreateLedgerTransactions.
// It never persists anything itself — account resolution happens lazily at
// save time via AccountSpec
type Transformer struct {
	currencies CurrencyLookup
	source     string
}

// New constructs a Transformer. source tags every produced entry/account
// spec (the exchange or blockchain name this transaction came from).
func New(currencies CurrencyLookup, source string) *Transformer {
	return &Transformer{currencies: currencies, source: source}
}

// Transform expands one UniversalTransaction by its operation type. The returned
// CreateLedgerTransaction already satisfies the per-currency balance
// invariant; this is the last point at which an unbalanced result can be
// caught before the repository enforces it at commit.
func (t *Transformer) Transform(ctx context.Context, userID string, tx domain.UniversalTransaction) (domain.CreateLedgerTransaction, error) {
	out := domain.CreateLedgerTransaction{
		ExternalID:  tx.ID,
		Source:      t.source,
		Description: string(tx.OperationType),
		TxDate:      tx.Timestamp,
	}

	var err error
	switch tx.OperationType {
	case domain.OperationSwap:
		err = t.transformSwap(ctx, userID, tx, &out)
	case domain.OperationDeposit:
		err = t.transformDeposit(ctx, userID, tx, &out)
	case domain.OperationWithdrawal:
		err = t.transformWithdrawal(ctx, userID, tx, &out)
	case domain.OperationFee:
		err = t.transformFeeOnly(ctx, userID, tx, &out)
	case domain.OperationTransfer, domain.OperationReward:
		err = t.transformReward(ctx, userID, tx, &out)
	default:
		err = fmt.Errorf("unsupported operation type %q", tx.OperationType)
	}
	if err != nil {
		return domain.CreateLedgerTransaction{}, &domain.TransformationFailedError{UniversalTxID: tx.ID, Reason: err.Error()}
	}

	if err := t.assertBalanced(out); err != nil {
		return domain.CreateLedgerTransaction{}, &domain.TransformationFailedError{UniversalTxID: tx.ID, Reason: err.Error()}
	}
	return out, nil
}

// transformSwap: debit source asset for cost, credit target asset for
// amount. Each leg is paired with an offsetting entry in the same currency
// against a trading clearing account (income.trading, reused as a plug
// account) so the per-currency balance invariant holds for both the source
// and target currencies independently — a swap exchanges value across two
// currencies that cannot otherwise cancel each other out. A present fee
// adds its own same-currency expense pair.
func (t *Transformer) transformSwap(ctx context.Context, userID string, tx domain.UniversalTransaction, out *domain.CreateLedgerTransaction) error {
	if len(tx.Outflows) != 1 || len(tx.Inflows) != 1 {
		return fmt.Errorf("swap requires exactly one outflow and one inflow, got %d/%d", len(tx.Outflows), len(tx.Inflows))
	}
	cost := tx.Outflows[0]
	proceeds := tx.Inflows[0]

	if err := t.debitAsset(ctx, userID, cost, domain.AccountTypeAssetExchange, domain.EntryTypeTrade, out); err != nil {
		return err
	}
	if err := t.creditAsset(ctx, userID, cost, domain.AccountTypeIncomeTrading, domain.EntryTypeTrade, out); err != nil {
		return err
	}

	if err := t.creditAsset(ctx, userID, proceeds, domain.AccountTypeAssetExchange, domain.EntryTypeTrade, out); err != nil {
		return err
	}
	if err := t.debitAsset(ctx, userID, proceeds, domain.AccountTypeIncomeTrading, domain.EntryTypeTrade, out); err != nil {
		return err
	}

	return t.applyFees(ctx, userID, tx.Fees.Network, domain.AccountTypeExpenseFeesTrade, out)
}

// transformDeposit: credit the asset account; debit an opening-balance
// equity account for the same amount.
func (t *Transformer) transformDeposit(ctx context.Context, userID string, tx domain.UniversalTransaction, out *domain.CreateLedgerTransaction) error {
	if len(tx.Inflows) == 0 {
		return fmt.Errorf("deposit requires at least one inflow")
	}
	for _, in := range tx.Inflows {
		if err := t.creditAsset(ctx, userID, in, domain.AccountTypeAssetExchange, domain.EntryTypeDeposit, out); err != nil {
			return err
		}
		if err := t.debitEquity(ctx, userID, in, out); err != nil {
			return err
		}
	}
	return t.applyFees(ctx, userID, tx.Fees.Network, domain.AccountTypeExpenseFeesGas, out)
}

// transformWithdrawal: debit the asset account for the net amount, credited
// symmetrically against the opening-balance equity account (the mirror of
// transformDeposit, since leaving the tracked system needs the same
// same-currency offset entering it does); a present fee adds separate fee
// expense entries.
func (t *Transformer) transformWithdrawal(ctx context.Context, userID string, tx domain.UniversalTransaction, out *domain.CreateLedgerTransaction) error {
	if len(tx.Outflows) == 0 {
		return fmt.Errorf("withdrawal requires at least one outflow")
	}
	for _, o := range tx.Outflows {
		if err := t.debitAsset(ctx, userID, o, domain.AccountTypeAssetExchange, domain.EntryTypeWithdrawal, out); err != nil {
			return err
		}
		if err := t.creditEquity(ctx, userID, o, out); err != nil {
			return err
		}
	}
	return t.applyFees(ctx, userID, tx.Fees.Network, domain.AccountTypeExpenseFeesGas, out)
}

// transformReward: credit the asset account; debit an income account for
// the same amount. The income side is always income.staking: tx.Metadata is
// not read, so airdrop and mining income are not told apart. Reused for
// plain transfers that aren't swaps/deposits/withdrawals (e.g. internal
// moves classified "transfer").
func (t *Transformer) transformReward(ctx context.Context, userID string, tx domain.UniversalTransaction, out *domain.CreateLedgerTransaction) error {
	if len(tx.Inflows) == 0 && len(tx.Outflows) == 0 {
		return fmt.Errorf("transfer requires at least one movement")
	}
	for _, in := range tx.Inflows {
		if err := t.creditAsset(ctx, userID, in, domain.AccountTypeAssetExchange, domain.EntryTypeReward, out); err != nil {
			return err
		}
		if err := t.debitIncome(ctx, userID, in, out); err != nil {
			return err
		}
	}
	for _, o := range tx.Outflows {
		if err := t.debitAsset(ctx, userID, o, domain.AccountTypeAssetExchange, domain.EntryTypeTransfer, out); err != nil {
			return err
		}
		if err := t.creditManualAdjustment(ctx, userID, o, out); err != nil {
			return err
		}
	}
	return t.applyFees(ctx, userID, tx.Fees.Network, domain.AccountTypeExpenseFeesGas, out)
}

// transformFeeOnly: credit a fee expense account; debit the paying asset
// account.
func (t *Transformer) transformFeeOnly(ctx context.Context, userID string, tx domain.UniversalTransaction, out *domain.CreateLedgerTransaction) error {
	if len(tx.Fees.Network) == 0 {
		return fmt.Errorf("fee-only transaction requires at least one fee")
	}
	return t.applyFees(ctx, userID, tx.Fees.Network, domain.AccountTypeExpenseFeesGas, out)
}

func (t *Transformer) applyFees(ctx context.Context, userID string, fees []domain.AssetAmount, feeAccountType domain.AccountType, out *domain.CreateLedgerTransaction) error {
	for _, fee := range fees {
		if err := t.debitAsset(ctx, userID, fee, domain.AccountTypeAssetExchange, domain.EntryTypeGas, out); err != nil {
			return err
		}
		if err := t.creditExpense(ctx, userID, fee, feeAccountType, out); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transformer) debitAsset(ctx context.Context, userID string, aa domain.AssetAmount, acctType domain.AccountType, entryType domain.EntryType, out *domain.CreateLedgerTransaction) error {
	return t.appendEntry(ctx, userID, aa, acctType, domain.DirectionDebit, entryType, out)
}

func (t *Transformer) creditAsset(ctx context.Context, userID string, aa domain.AssetAmount, acctType domain.AccountType, entryType domain.EntryType, out *domain.CreateLedgerTransaction) error {
	return t.appendEntry(ctx, userID, aa, acctType, domain.DirectionCredit, entryType, out)
}

func (t *Transformer) debitEquity(ctx context.Context, userID string, aa domain.AssetAmount, out *domain.CreateLedgerTransaction) error {
	return t.appendEntry(ctx, userID, aa, domain.AccountTypeEquityOpeningBalance, domain.DirectionDebit, domain.EntryTypeDeposit, out)
}

func (t *Transformer) creditEquity(ctx context.Context, userID string, aa domain.AssetAmount, out *domain.CreateLedgerTransaction) error {
	return t.appendEntry(ctx, userID, aa, domain.AccountTypeEquityOpeningBalance, domain.DirectionCredit, domain.EntryTypeWithdrawal, out)
}

func (t *Transformer) creditManualAdjustment(ctx context.Context, userID string, aa domain.AssetAmount, out *domain.CreateLedgerTransaction) error {
	return t.appendEntry(ctx, userID, aa, domain.AccountTypeEquityManualAdj, domain.DirectionCredit, domain.EntryTypeTransfer, out)
}

func (t *Transformer) debitIncome(ctx context.Context, userID string, aa domain.AssetAmount, out *domain.CreateLedgerTransaction) error {
	return t.appendEntry(ctx, userID, aa, domain.AccountTypeIncomeStaking, domain.DirectionDebit, domain.EntryTypeReward, out)
}

func (t *Transformer) creditExpense(ctx context.Context, userID string, aa domain.AssetAmount, acctType domain.AccountType, out *domain.CreateLedgerTransaction) error {
	return t.appendEntry(ctx, userID, aa, acctType, domain.DirectionCredit, domain.EntryTypeGas, out)
}

func (t *Transformer) appendEntry(ctx context.Context, userID string, aa domain.AssetAmount, acctType domain.AccountType, direction domain.EntryDirection, entryType domain.EntryType, out *domain.CreateLedgerTransaction) error {
	decimals, err := t.decimalsFor(ctx, aa.Asset)
	if err != nil {
		return err
	}

	magnitude, err := money.DecimalFromString(aa.Amount)
	if err != nil {
		return fmt.Errorf("parsing amount %q for %s: %w", aa.Amount, aa.Asset, err)
	}
	signed := magnitude.Abs()
	if direction == domain.DirectionDebit {
		signed = signed.Neg()
	}

	smallest := money.ToSmallestUnit(signed, decimals)

	out.Entries = append(out.Entries, domain.CreateEntry{
		Account: domain.AccountSpec{
			UserID:         userID,
			CurrencyTicker: aa.Asset,
			Type:           acctType,
			Source:         t.source,
		},
		CurrencyTicker: aa.Asset,
		AmountSmallest: smallest.String(),
		Direction:      direction,
		EntryType:      entryType,
	})
	return nil
}

func (t *Transformer) decimalsFor(ctx context.Context, ticker string) (int, error) {
	currency, ok, err := t.currencies.FindByTicker(ctx, ticker)
	if err != nil {
		return 0, fmt.Errorf("looking up currency %s: %w", ticker, err)
	}
	if !ok {
		return 0, &domain.CurrencyNotFoundError{Ticker: ticker}
	}
	return currency.Decimals, nil
}

// assertBalanced sums every entry's smallest-unit amount grouped by
// currency and fails if any currency's sum is non-zero.
func (t *Transformer) assertBalanced(tx domain.CreateLedgerTransaction) error {
	sums := make(map[string]*big.Int)
	for _, entry := range tx.Entries {
		amount, ok := new(big.Int).SetString(entry.AmountSmallest, 10)
		if !ok {
			return fmt.Errorf("invalid smallest-unit amount %q", entry.AmountSmallest)
		}
		if entry.Direction == domain.DirectionDebit && amount.Sign() > 0 {
			return &domain.DirectionMismatchError{Direction: entry.Direction, Amount: entry.AmountSmallest}
		}
		if entry.Direction == domain.DirectionCredit && amount.Sign() < 0 {
			return &domain.DirectionMismatchError{Direction: entry.Direction, Amount: entry.AmountSmallest}
		}
		if sums[entry.CurrencyTicker] == nil {
			sums[entry.CurrencyTicker] = new(big.Int)
		}
		sums[entry.CurrencyTicker].Add(sums[entry.CurrencyTicker], amount)
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
