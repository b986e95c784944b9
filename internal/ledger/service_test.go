package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/repository/sqlite"
)

func newTestService(t *testing.T) (*Service, *sqlite.SessionRepository) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	currencies := sqlite.NewCurrencyRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, currencies.Upsert(context.Background(), domain.Currency{Ticker: "BTC", DisplayName: "Bitcoin", Decimals: 8, AssetClass: domain.AssetClassCrypto}))
	require.NoError(t, currencies.Upsert(context.Background(), domain.Currency{Ticker: "USD", DisplayName: "US Dollar", Decimals: 2, AssetClass: domain.AssetClassFiat}))

	accounts := sqlite.NewAccountRepository(db.Conn(), zerolog.Nop())
	transactions := sqlite.NewTransactionRepository(db.Conn(), accounts, currencies, zerolog.Nop())
	queries := sqlite.NewLedgerQueryRepository(db.Conn(), zerolog.Nop())
	sessions := sqlite.NewSessionRepository(db.Conn(), zerolog.Nop())

	return New(transactions, queries, accounts, sessions, zerolog.Nop()), sessions
}

func btcDeposit(externalID, amount string) domain.CreateLedgerTransaction {
	return domain.CreateLedgerTransaction{
		ExternalID: externalID,
		Source:     "blockstream",
		TxDate:     time.Unix(1700000000, 0).UTC(),
		Entries: []domain.CreateEntry{
			{
				Account:        domain.AccountSpec{UserID: "user-1", CurrencyTicker: "BTC", Type: domain.AccountTypeAssetWallet, Source: "blockstream"},
				CurrencyTicker: "BTC",
				AmountSmallest: amount,
				Direction:      domain.DirectionCredit,
				EntryType:      domain.EntryTypeDeposit,
			},
			{
				Account:        domain.AccountSpec{UserID: "user-1", CurrencyTicker: "BTC", Type: domain.AccountTypeEquityOpeningBalance, Source: "blockstream"},
				CurrencyTicker: "BTC",
				AmountSmallest: "-" + amount,
				Direction:      domain.DirectionDebit,
				EntryType:      domain.EntryTypeDeposit,
			},
		},
	}
}

func TestRecordTransactionAndFindByID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.RecordTransaction(ctx, "user-1", btcDeposit("dep-1", "50000000"))
	require.NoError(t, err)

	detail, err := svc.FindTransactionByID(ctx, "user-1", id)
	require.NoError(t, err)
	assert.Equal(t, "dep-1", detail.Transaction.ExternalID)
	require.Len(t, detail.Entries, 2)
	assert.Equal(t, "50000000", detail.Entries[0].Entry.AmountSmallest)
	assert.Equal(t, domain.AccountTypeAssetWallet, detail.Entries[0].Account.Type)

	_, err = svc.FindTransactionByID(ctx, "other-user", id)
	var notFound *domain.TransactionNotFoundError
	require.ErrorAs(t, err, &notFound, "queries must be user-scoped")
}

func TestRecordTransactionRejectsEmptyAndUnbalanced(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, "user-1", domain.CreateLedgerTransaction{ExternalID: "empty", Source: "manual"})
	var invalid *domain.InvalidParamsError
	require.ErrorAs(t, err, &invalid)

	tx := btcDeposit("bad-1", "100")
	tx.Entries = tx.Entries[:1]
	_, err = svc.RecordTransaction(ctx, "user-1", tx)
	var unbalanced *domain.LedgerUnbalancedError
	require.ErrorAs(t, err, &unbalanced)
}

func TestGetBalancesReflectCommittedWrites(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, "user-1", btcDeposit("dep-1", "50000000"))
	require.NoError(t, err)
	_, err = svc.RecordTransaction(ctx, "user-1", btcDeposit("dep-2", "25000000"))
	require.NoError(t, err)

	balances, err := svc.GetAllBalances(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, balances, 2)

	byType := make(map[domain.AccountType]domain.AccountBalance)
	for _, b := range balances {
		byType[b.Type] = b
	}
	assert.Equal(t, "75000000", byType[domain.AccountTypeAssetWallet].BalanceSmallest)
	assert.Equal(t, "-75000000", byType[domain.AccountTypeEquityOpeningBalance].BalanceSmallest)

	wallet := byType[domain.AccountTypeAssetWallet]
	single, err := svc.GetAccountBalance(ctx, "user-1", wallet.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "75000000", single.BalanceSmallest)

	_, err = svc.GetAccountBalance(ctx, "user-1", "missing")
	var accNotFound *domain.AccountNotFoundError
	require.ErrorAs(t, err, &accNotFound)
}

func TestReverseTransactionZeroesBalancesAndIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.RecordTransaction(ctx, "user-1", btcDeposit("dep-1", "50000000"))
	require.NoError(t, err)

	rev1, err := svc.ReverseTransaction(ctx, "user-1", id, "fat-finger import")
	require.NoError(t, err)
	require.NotEqual(t, id, rev1)

	balances, err := svc.GetAllBalances(ctx, "user-1")
	require.NoError(t, err)
	for _, b := range balances {
		assert.Equal(t, "0", b.BalanceSmallest, "account %s should net to zero after reversal", b.AccountID)
	}

	rev2, err := svc.ReverseTransaction(ctx, "user-1", id, "fat-finger import")
	require.NoError(t, err)
	assert.Equal(t, rev1, rev2, "re-reversing must replay the existing reversal, not stack another")

	_, err = svc.ReverseTransaction(ctx, "user-1", "missing", "nope")
	var notFound *domain.TransactionNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestGetImportSessionStatusIsUserScoped(t *testing.T) {
	svc, sessions := newTestService(t)
	ctx := context.Background()

	sessionID, err := sessions.Create(ctx, domain.ImportSession{
		UserID: "user-1", SourceID: "kraken", SourceType: domain.SourceTypeExchangeCSV,
	})
	require.NoError(t, err)

	got, err := svc.GetImportSessionStatus(ctx, "user-1", sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStarted, got.Status)

	_, err = svc.GetImportSessionStatus(ctx, "other-user", sessionID)
	var notFound *domain.SessionNotFoundError
	require.ErrorAs(t, err, &notFound)
}
