package kraken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapTransactionTrade(t *testing.T) {
	raw := map[string]any{
		"refid": "order-1", "time": "1700000000", "type": "trade",
		"asset": "XXBT", "amount": "0.002", "fee": "0",
	}
	rec, err := MapTransaction(raw, "kraken")
	require.NoError(t, err)
	assert.Equal(t, "BTC", rec.Asset)
	assert.Equal(t, "order-1", rec.CorrelationID)
	assert.Equal(t, "trade", rec.Direction)
}

func TestMapTransactionDepositWithFee(t *testing.T) {
	raw := map[string]any{
		"txid": "tx-1", "time": "1700000000", "type": "deposit",
		"asset": "ZUSD", "amount": "100.00", "fee": "0.50",
	}
	rec, err := MapTransaction(raw, "csv")
	require.NoError(t, err)
	assert.Equal(t, "USD", rec.Asset)
	assert.Equal(t, "transfer_in", rec.Direction)
	assert.Equal(t, "0.50", rec.FeeAmount)
	assert.Equal(t, "USD", rec.FeeAsset)
}

func TestMapTransactionMissingAssetFails(t *testing.T) {
	raw := map[string]any{"time": "1700000000", "amount": "1"}
	_, err := MapTransaction(raw, "csv")
	require.Error(t, err)
}

func TestMapTransactionMissingTimestampFails(t *testing.T) {
	raw := map[string]any{"asset": "BTC", "amount": "1"}
	_, err := MapTransaction(raw, "csv")
	require.Error(t, err)
}
