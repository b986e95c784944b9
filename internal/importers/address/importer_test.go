package address

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook-sub001/internal/providers"
	"github.com/jbelanger/exitbook-sub001/internal/providers/manager"
)

type fakeManager struct {
	responses map[providers.OperationType]manager.Result
	errs      map[providers.OperationType]error
}

func (f *fakeManager) ExecuteWithFailover(ctx context.Context, op providers.Operation) (manager.Result, error) {
	if err, ok := f.errs[op.Type]; ok {
		return manager.Result{}, err
	}
	return f.responses[op.Type], nil
}

func TestImporterRunExtractsResultArray(t *testing.T) {
	fm := &fakeManager{
		responses: map[providers.OperationType]manager.Result{
			providers.OpGetAddressTransactions: {
				ProviderName: "etherscan",
				Data: map[string]any{
					"result": []any{
						map[string]any{"hash": "0xabc"},
						map[string]any{"hash": "0xdef"},
					},
				},
			},
		},
	}

	imp := New("ethereum", fm, zerolog.Nop())
	result, err := imp.Run(context.Background(), "0xwallet", []providers.OperationType{providers.OpGetAddressTransactions})
	require.NoError(t, err)

	assert.Len(t, result.Records, 2)
	assert.Equal(t, "etherscan", result.Records[0].ProviderID)
	assert.Equal(t, "0xwallet", result.Records[0].FetchedByAddress)
}

func TestImporterRunSingleObjectBody(t *testing.T) {
	fm := &fakeManager{
		responses: map[providers.OperationType]manager.Result{
			providers.OpGetAddressBalances: {
				ProviderName: "blockstream",
				Data:         map[string]any{"address": "bc1q...", "chain_stats": map[string]any{"funded_txo_sum": float64(100)}},
			},
		},
	}

	imp := New("bitcoin", fm, zerolog.Nop())
	result, err := imp.Run(context.Background(), "bc1q...", []providers.OperationType{providers.OpGetAddressBalances})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
}

func TestImporterRunOperationFailureCollected(t *testing.T) {
	fm := &fakeManager{errs: map[providers.OperationType]error{
		providers.OpGetAddressTransactions: assert.AnError,
	}}

	imp := New("bitcoin", fm, zerolog.Nop())
	result, err := imp.Run(context.Background(), "addr", []providers.OperationType{providers.OpGetAddressTransactions})
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	require.Len(t, result.Issues, 1)
}
