package domain

import "time"

// EntryDirection is credit or debit; amount sign must agree.
type EntryDirection string

const (
	DirectionCredit EntryDirection = "credit"
	DirectionDebit  EntryDirection = "debit"
)

// EntryType classifies the economic role of one entry.
type EntryType string

const (
	EntryTypeTrade      EntryType = "trade"
	EntryTypeDeposit    EntryType = "deposit"
	EntryTypeWithdrawal EntryType = "withdrawal"
	EntryTypeFee        EntryType = "fee"
	EntryTypeReward     EntryType = "reward"
	EntryTypeStaking    EntryType = "staking"
	EntryTypeAirdrop    EntryType = "airdrop"
	EntryTypeMining     EntryType = "mining"
	EntryTypeTransfer   EntryType = "transfer"
	EntryTypeGas        EntryType = "gas"
)

// LedgerTransaction is a user-scoped atomic fact, unique per (user_id, external_id, source).
type LedgerTransaction struct {
	ID          string
	UserID      string
	ExternalID  string
	Source      string
	Description string
	TxDate      time.Time // UTC instant
	CreatedAt   time.Time
}

// Entry is a single signed smallest-unit amount against one account within one transaction.
type Entry struct {
	ID              string
	UserID          string
	TransactionID   string
	AccountID       string
	CurrencyTicker  string
	AmountSmallest  string // signed arbitrary-precision integer, decimal string
	Direction       EntryDirection
	EntryType       EntryType
	PriceAmount     *string // optional FMV amount, decimal string
	PriceCurrency   *string // optional FMV currency ticker
}

// CreateLedgerTransaction is the pre-persistence DTO produced by the ledger transformer.
// It must already satisfy the per-currency balance invariant before Save is called.
type CreateLedgerTransaction struct {
	ExternalID  string
	Source      string
	Description string
	TxDate      time.Time
	Entries     []CreateEntry
}

// CreateEntry is the pre-persistence DTO for one Entry, addressed by account spec rather
// than account id so the repository can find-or-create the backing account.
type CreateEntry struct {
	Account        AccountSpec
	CurrencyTicker string
	AmountSmallest string
	Direction      EntryDirection
	EntryType      EntryType
	PriceAmount    *string
	PriceCurrency  *string
}
