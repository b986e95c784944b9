package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook-sub001/internal/providers"
)

func testRegistry() *providers.Registry {
	r := providers.NewRegistry()
	r.Register(providers.Descriptor{
		Name: "blockstream", Blockchain: "bitcoin",
		New: func(cfg providers.ProviderConfig, log zerolog.Logger) (providers.ApiClient, error) { return nil, nil },
	})
	return r
}

func TestLoadDefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")

	cfg, err := Load("", testRegistry())
	require.NoError(t, err)
	assert.Equal(t, "./data/ledger.db", cfg.DatabaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "/tmp/custom.db")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := Load("", testRegistry())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.DatabaseURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogPretty)
}

func TestLoadParsesProviderFile(t *testing.T) {
	t.Setenv("MY_API_KEY", "secret-123")
	path := filepath.Join(t.TempDir(), "providers.json")
	body := `{
		"bitcoin": [
			{"name": "blockstream", "priority": 1, "enabled": true, "apiKeyEnvVar": "MY_API_KEY", "timeoutSeconds": 10, "retries": 2, "rateLimitPerSecond": 5}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path, testRegistry())
	require.NoError(t, err)
	require.Len(t, cfg.Providers["bitcoin"], 1)
	pc := cfg.Providers["bitcoin"][0]
	assert.Equal(t, "blockstream", pc.Name)
	assert.Equal(t, 1, pc.Priority)
	assert.True(t, pc.Enabled)
	assert.Equal(t, "secret-123", pc.APIKey)
	assert.Equal(t, 2, pc.Retries)
	assert.Equal(t, 5, pc.RateLimit.PerSecond)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	body := `{"bitcoin": [{"name": "not-a-real-provider", "priority": 1, "enabled": true}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path, testRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-real-provider")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"), testRegistry())
	require.Error(t, err)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err := Load(path, testRegistry())
	require.Error(t, err)
	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}
