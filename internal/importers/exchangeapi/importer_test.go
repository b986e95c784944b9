package exchangeapi

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook-sub001/internal/providers"
)

type fakeExecutor struct {
	batches []providers.StreamBatch
}

func (f *fakeExecutor) ExecuteStreaming(ctx context.Context, op providers.Operation, resumeCursor *providers.Cursor) (<-chan providers.StreamBatch, error) {
	out := make(chan providers.StreamBatch, len(f.batches))
	for _, b := range f.batches {
		out <- b
	}
	close(out)
	return out, nil
}

func TestImporterRunAdvancesCursor(t *testing.T) {
	exec := &fakeExecutor{batches: []providers.StreamBatch{
		{
			Records:    []map[string]any{{"id": "1"}, {"id": "2"}},
			NextCursor: &providers.Cursor{Type: "pageToken", Value: "next-page"},
		},
	}}

	imp := New("kraken", exec, zerolog.Nop())
	result, err := imp.Run(context.Background(), nil, nil, nil)
	require.NoError(t, err)

	assert.Len(t, result.Records, 2)
	require.Len(t, result.Cursors, 1)
	assert.Equal(t, "next-page", result.Cursors[0].Value)
	assert.Equal(t, "kraken", result.Records[0].ProviderID)
}
