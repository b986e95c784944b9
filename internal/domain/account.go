package domain

import "time"

// AccountType enumerates the asset/liability/equity/income/expense account hierarchy.
type AccountType string

const (
	AccountTypeAssetWallet   AccountType = "asset.wallet"
	AccountTypeAssetExchange AccountType = "asset.exchange"
	AccountTypeAssetDefiLP   AccountType = "asset.defi_lp"

	AccountTypeLiabilityLoan AccountType = "liability.loan"

	AccountTypeEquityOpeningBalance AccountType = "equity.opening_balance"
	AccountTypeEquityManualAdj      AccountType = "equity.manual_adjustment"

	AccountTypeIncomeStaking  AccountType = "income.staking"
	AccountTypeIncomeTrading  AccountType = "income.trading"
	AccountTypeIncomeAirdrop  AccountType = "income.airdrop"
	AccountTypeIncomeMining   AccountType = "income.mining"

	AccountTypeExpenseFeesGas   AccountType = "expense.fees_gas"
	AccountTypeExpenseFeesTrade AccountType = "expense.fees_trade"
)

// Account is user-scoped. An entry's currency must equal its account's currency.
type Account struct {
	ID              string
	UserID          string
	DisplayName     string
	CurrencyTicker  string
	Type            AccountType
	Source          string  // provider/exchange name the account was soft-created for
	Network         string  // optional
	ExternalAddress string  // optional
	ParentAccountID *string // optional, for xpub-derived address children
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AccountSpec is the find-or-create key used by the ledger transformer and importers.
// Two specs with equal fields must resolve to the same account (race-tolerant via a
// unique constraint on the repository side).
type AccountSpec struct {
	UserID          string
	CurrencyTicker  string
	Type            AccountType
	Source          string // provider/exchange name, part of the uniqueness key
	Network         string
	ExternalAddress string
	DisplayName     string
	ParentAccountID *string
}
