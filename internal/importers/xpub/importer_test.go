package xpub

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook-sub001/internal/providers"
	"github.com/jbelanger/exitbook-sub001/internal/providers/manager"
)

// fakeGapManager answers OpGetAddressTransactions for a fixed set of
// addresses considered non-empty; everything else is empty.
type fakeGapManager struct {
	nonEmpty map[string]bool
	probes   int
}

func (f *fakeGapManager) ExecuteWithFailover(ctx context.Context, op providers.Operation) (manager.Result, error) {
	f.probes++
	if f.nonEmpty[op.Address] {
		return manager.Result{
			ProviderName: "blockstream",
			Data: map[string]any{
				"result": []any{map[string]any{"txid": "tx-" + op.Address}},
			},
		}, nil
	}
	return manager.Result{ProviderName: "blockstream", Data: map[string]any{"result": []any{}}}, nil
}

func fakeDeriveAddress(xpubStr string, chain Chain, index uint32) (string, error) {
	return fmt.Sprintf("addr-%d-%d", chain, index), nil
}

// TestScanChainStopsAfterGapLimit: addresses at
// indices {0, 1, 5} are non-empty, gap=20, and the external chain scan
// must issue exactly 26 probes (indices 0..25) before stopping, returning
// exactly the three non-empty addresses.
func TestScanChainStopsAfterGapLimit(t *testing.T) {
	orig := deriveAddressFn
	deriveAddressFn = fakeDeriveAddress
	defer func() { deriveAddressFn = orig }()

	fm := &fakeGapManager{nonEmpty: map[string]bool{
		"addr-0-0": true,
		"addr-0-1": true,
		"addr-0-5": true,
	}}

	imp := New("bitcoin", fm, NewMemoryCache(), zerolog.Nop())
	scan, err := imp.scanChain(context.Background(), "xpub-test", ChainExternal)
	require.NoError(t, err)

	assert.Equal(t, 26, scan.probed)
	assert.ElementsMatch(t, []string{"addr-0-0", "addr-0-1", "addr-0-5"}, scan.nonEmpty)
	assert.Equal(t, 26, fm.probes)
}

func TestScanChainCachesEmptyIndices(t *testing.T) {
	orig := deriveAddressFn
	deriveAddressFn = fakeDeriveAddress
	defer func() { deriveAddressFn = orig }()

	fm := &fakeGapManager{nonEmpty: map[string]bool{"addr-0-0": true}}
	cache := NewMemoryCache()

	imp := New("bitcoin", fm, cache, zerolog.Nop())
	imp.gapLimit = 5
	_, err := imp.scanChain(context.Background(), "xpub-test", ChainExternal)
	require.NoError(t, err)

	assert.True(t, cache.IsKnownEmpty(ChainExternal, 1))
	assert.False(t, cache.IsKnownEmpty(ChainExternal, 0))
}

func TestExtractTxIDPrefersTxidField(t *testing.T) {
	assert.Equal(t, "abc", extractTxID(map[string]any{"txid": "abc", "hash": "def"}))
	assert.Equal(t, "def", extractTxID(map[string]any{"hash": "def"}))
	assert.Equal(t, "", extractTxID(map[string]any{}))
}
