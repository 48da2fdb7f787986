package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBCORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Probe ──
	setBool(&cfg.Probe.Enabled, "ARBCORE_PROBE_ENABLED")
	setDuration(&cfg.Probe.Interval, "ARBCORE_PROBE_INTERVAL")
	setInt(&cfg.Probe.SamplesPerEndpoint, "ARBCORE_PROBE_SAMPLES_PER_ENDPOINT")
	setDuration(&cfg.Probe.Timeout, "ARBCORE_PROBE_TIMEOUT")

	// ── Router ──
	setBool(&cfg.Router.PreferFastest, "ARBCORE_ROUTER_PREFER_FASTEST")
	setFloat64(&cfg.Router.MinHealthScore, "ARBCORE_ROUTER_MIN_HEALTH_SCORE")
	setDuration(&cfg.Router.CacheTTL, "ARBCORE_ROUTER_CACHE_TTL")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.MinLot, "ARBCORE_SIZING_MIN_LOT")
	setFloat64(&cfg.Sizing.MaxPosition, "ARBCORE_SIZING_MAX_POSITION")

	// ── Tuner ──
	setBool(&cfg.Tuner.Enabled, "ARBCORE_TUNER_ENABLED")
	setDuration(&cfg.Tuner.Interval, "ARBCORE_TUNER_INTERVAL")
	setInt(&cfg.Tuner.HistorySessions, "ARBCORE_TUNER_HISTORY_SESSIONS")
	setInt(&cfg.Tuner.ShadowDiffSamples, "ARBCORE_TUNER_SHADOW_DIFF_SAMPLES")

	// ── Rate ──
	setStr(&cfg.Rate.PrimaryURL, "ARBCORE_RATE_PRIMARY_URL")
	setStr(&cfg.Rate.SecondaryURL, "ARBCORE_RATE_SECONDARY_URL")
	setDuration(&cfg.Rate.TTL, "ARBCORE_RATE_TTL")
	setDuration(&cfg.Rate.RefreshEvery, "ARBCORE_RATE_REFRESH_EVERY")
	setFloat64(&cfg.Rate.FallbackRate, "ARBCORE_RATE_FALLBACK_RATE")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "ARBCORE_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "ARBCORE_FEED_WS_URL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARBCORE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARBCORE_ARCHIVE_RETENTION_DAYS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBCORE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBCORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBCORE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBCORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBCORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBCORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBCORE_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBCORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBCORE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBCORE_MODE")
	setStr(&cfg.LogLevel, "ARBCORE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
