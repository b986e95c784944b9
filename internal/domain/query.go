package domain

// EntryWithAccount pairs one persisted entry with its resolved account, for
// read paths that need both (transaction detail, reversal construction).
type EntryWithAccount struct {
	Entry   Entry
	Account Account
}

// LedgerTransactionDetail is a committed transaction with all of its entries.
type LedgerTransactionDetail struct {
	Transaction LedgerTransaction
	Entries     []EntryWithAccount
}

// AccountBalance is one account's committed balance: the sum of its entries'
// signed smallest-unit amounts, carried as a decimal string so arbitrary
// precision survives the read path the same way it survives the write path.
type AccountBalance struct {
	AccountID       string
	DisplayName     string
	CurrencyTicker  string
	Type            AccountType
	BalanceSmallest string
}
