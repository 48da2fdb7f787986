package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
mode = "full"

[[exchange]]
id = "btcturk"
default_endpoint = "ping"
[exchange.endpoints]
ping = "https://api.btcturk.com/api/v2/server/exchangeinfo"
orderbook = "https://api.btcturk.com/api/v2/orderbook?pairSymbol=BTCTRY"
`

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Exchanges, 1)
	assert.Equal(t, "btcturk", cfg.Exchanges[0].ID)
	assert.Equal(t, "ping", cfg.Exchanges[0].DefaultEndpoint)

	// Untouched sections keep their defaults.
	assert.Equal(t, 20, cfg.Probe.SamplesPerEndpoint)
	assert.Equal(t, 5*time.Minute, cfg.Probe.Interval.Duration)
	assert.Equal(t, 60*time.Second, cfg.Router.CacheTTL.Duration)
	assert.Equal(t, 41.5, cfg.Rate.FallbackRate)
	assert.Equal(t, "info", cfg.LogLevel)

	require.NoError(t, cfg.Validate())
}

func TestLoadParsesDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
[probe]
interval = "90s"
timeout = "2500ms"
`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Probe.Interval.Duration)
	assert.Equal(t, 2500*time.Millisecond, cfg.Probe.Timeout.Duration)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARBCORE_MODE", "probe")
	t.Setenv("ARBCORE_POSTGRES_PASSWORD", "sekret")
	t.Setenv("ARBCORE_RATE_FALLBACK_RATE", "43.25")
	t.Setenv("ARBCORE_ROUTER_CACHE_TTL", "45s")
	t.Setenv("ARBCORE_TUNER_ENABLED", "false")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "probe", cfg.Mode)
	assert.Equal(t, "sekret", cfg.Postgres.Password)
	assert.Equal(t, 43.25, cfg.Rate.FallbackRate)
	assert.Equal(t, 45*time.Second, cfg.Router.CacheTTL.Duration)
	assert.False(t, cfg.Tuner.Enabled)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "banana"
	cfg.LogLevel = "loud"
	cfg.Sizing.MinLot = 105
	cfg.Rate.FallbackRate = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "banana"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), "at least one [[exchange]] block is required")
	assert.Contains(t, err.Error(), "min_lot must be a multiple of 10")
	assert.Contains(t, err.Error(), "fallback_rate must be positive")
}

func TestValidateExchangeBlocks(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
mode = "full"

[[exchange]]
id = "btcturk"
default_endpoint = "teleport"
[exchange.endpoints]
warp = "https://example.com"
`))
	require.NoError(t, err)

	verr := cfg.Validate()
	require.Error(t, verr)
	assert.Contains(t, verr.Error(), `default_endpoint "teleport" is not a valid endpoint kind`)
	assert.Contains(t, verr.Error(), `unknown endpoint kind "warp"`)
}

func TestValidateDuplicateExchangeIDs(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
[[exchange]]
id = "btcturk"
default_endpoint = "ping"
`))
	require.NoError(t, err)

	verr := cfg.Validate()
	require.Error(t, verr)
	assert.Contains(t, verr.Error(), "duplicate id")
}

func TestValidateSizingBounds(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	cfg.Sizing.MinLot = 6000
	cfg.Sizing.MaxPosition = 5000
	verr := cfg.Validate()
	require.Error(t, verr)
	assert.Contains(t, verr.Error(), "min_lot must not exceed max_position")
}

func TestValidateArchiveRequiresS3Credentials(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	cfg.Mode = "archive"
	verr := cfg.Validate()
	require.Error(t, verr)
	assert.Contains(t, verr.Error(), "access_key and secret_key are required")

	cfg.S3.AccessKey = "minio"
	cfg.S3.SecretKey = "minio123"
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "topsecret"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// The original is untouched, and mutating the copy's nested maps must
	// not leak back.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	red.Exchanges[0].Endpoints["ping"] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Exchanges[0].Endpoints["ping"])
}
