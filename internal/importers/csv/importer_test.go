package csv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempCSV(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestImporterRunValidRows(t *testing.T) {
	dir := t.TempDir()
	writeTempCSV(t, dir, "export.csv", "timestamp,type,asset,amount\n2024-01-01T00:00:00Z,deposit,BTC,0.5\n")

	imp := New(dir, zerolog.Nop())
	result, err := imp.Run()
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Empty(t, result.Issues)
	assert.Equal(t, ProviderID, result.Records[0].ProviderID)
	assert.Equal(t, "BTC", result.Records[0].Payload["asset"])
}

func TestImporterRunMissingColumnsCollected(t *testing.T) {
	dir := t.TempDir()
	writeTempCSV(t, dir, "bad.csv", "timestamp,type\n2024-01-01T00:00:00Z,deposit\n")

	imp := New(dir, zerolog.Nop())
	result, err := imp.Run()
	require.NoError(t, err)

	assert.Empty(t, result.Records)
	require.Len(t, result.Issues, 1)
	assert.Contains(t, result.Issues[0].Reason, "missing required columns")
}
