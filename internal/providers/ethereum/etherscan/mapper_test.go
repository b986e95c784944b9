package etherscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook-sub001/internal/money"
)

func TestMapTransactionInbound(t *testing.T) {
	raw := map[string]any{
		"hash":      "0xaaa",
		"from":      "0xother",
		"to":        "0xMyWallet",
		"value":     "1500000000000000000", // 1.5 ETH
		"gasUsed":   "21000",
		"gasPrice":  "10000000000",
		"timeStamp": "1700000000",
	}

	record, err := MapTransaction(raw, SessionContext{WalletAddress: "0xmywallet"})
	require.NoError(t, err)

	assert.Equal(t, "transfer_in", record.Direction)
	assert.Equal(t, "ETH", record.Asset)
	assert.Equal(t, money.MustDecimal("1.5").String(), record.Amount)
	assert.Equal(t, money.Zero().String(), record.FeeAmount, "receiving side pays no gas")
}

func TestMapTransactionOutboundIsNegative(t *testing.T) {
	raw := map[string]any{
		"hash":      "0xbbb",
		"from":      "0xMyWallet",
		"to":        "0xother",
		"value":     "2000000000000000000", // 2 ETH
		"gasUsed":   "21000",
		"gasPrice":  "10000000000",
		"timeStamp": "1700000000",
	}

	record, err := MapTransaction(raw, SessionContext{WalletAddress: "0xmywallet"})
	require.NoError(t, err)

	assert.Equal(t, "transfer_out", record.Direction)
	assert.Equal(t, money.MustDecimal("-2").String(), record.Amount, "outflows must carry a negative signed amount")
	assert.Equal(t, money.MustDecimal("0.00021").String(), record.FeeAmount, "gas attributed to the sending side")
	assert.Equal(t, "ETH", record.FeeAsset)
}

func TestMapTransactionERC20UsesTokenAssetAndDecimals(t *testing.T) {
	raw := map[string]any{
		"hash":            "0xccc",
		"from":            "0xother",
		"to":              "0xMyWallet",
		"value":           "2500000", // 2.5 USDC at 6 decimals
		"tokenSymbol":     "usdc",
		"tokenDecimal":    "6",
		"contractAddress": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		"gasUsed":         "65000",
		"gasPrice":        "10000000000",
		"timeStamp":       "1700000000",
	}

	record, err := MapTransaction(raw, SessionContext{WalletAddress: "0xmywallet"})
	require.NoError(t, err)

	assert.Equal(t, "USDC", record.Asset)
	assert.Equal(t, money.MustDecimal("2.5").String(), record.Amount)
	assert.Equal(t, "ETH", record.FeeAsset, "gas stays ETH-denominated for token transfers")
}

func TestMapTransactionMissingHashFails(t *testing.T) {
	_, err := MapTransaction(map[string]any{"value": "1"}, SessionContext{WalletAddress: "0xmywallet"})
	require.Error(t, err)
}
