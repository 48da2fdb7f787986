// Package config defines the top-level configuration for the arbcore daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBCORE_* environment variables.
type Config struct {
	Exchanges []ExchangeConfig `toml:"exchange"`
	Probe     ProbeConfig      `toml:"probe"`
	Router    RouterConfig     `toml:"router"`
	Sizing    SizingConfig     `toml:"sizing"`
	Tuner     TunerConfig      `toml:"tuner"`
	Rate      RateConfig       `toml:"rate"`
	Feed      FeedConfig       `toml:"feed"`
	Archive   ArchiveConfig    `toml:"archive"`
	Postgres  PostgresConfig   `toml:"postgres"`
	Redis     RedisConfig      `toml:"redis"`
	S3        S3Config         `toml:"s3"`
	Notify    NotifyConfig     `toml:"notify"`
	Mode      string           `toml:"mode"`
	LogLevel  string           `toml:"log_level"`
}

// ExchangeConfig describes one venue and its candidate API endpoints.
type ExchangeConfig struct {
	ID              string `toml:"id"`
	DefaultEndpoint string `toml:"default_endpoint"`
	// Endpoints maps an endpoint kind (ping, ping_alt, orderbook) to its URL.
	Endpoints map[string]string `toml:"endpoints"`
}

// ProbeConfig holds latency-probe parameters.
type ProbeConfig struct {
	Enabled            bool     `toml:"enabled"`
	Interval           duration `toml:"interval"`
	SamplesPerEndpoint int      `toml:"samples_per_endpoint"`
	Timeout            duration `toml:"timeout"`
	InterCallDelay     duration `toml:"inter_call_delay"`
}

// RouterConfig holds endpoint-selection parameters.
type RouterConfig struct {
	PreferFastest     bool     `toml:"prefer_fastest"`
	MinHealthScore    float64  `toml:"min_health_score"`
	CacheTTL          duration `toml:"cache_ttl"`
	ErrorWindowSize   int      `toml:"error_window_size"`
	LatencyWindowSize int      `toml:"latency_window_size"`
}

// SizingConfig holds position-sizing parameters. Amounts are TL.
type SizingConfig struct {
	MinLot      float64 `toml:"min_lot"`
	MaxPosition float64 `toml:"max_position"`
}

// TunerConfig holds the adaptive-tuning schedule and window sizes. The rule
// thresholds themselves are part of the tuning decision table and are not
// configurable.
type TunerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Interval          duration `toml:"interval"`
	HistorySessions   int      `toml:"history_sessions"`
	ShadowDiffSamples int      `toml:"shadow_diff_samples"`
	AuditLogCap       int      `toml:"audit_log_cap"`
}

// RateConfig holds currency-rate provider parameters.
type RateConfig struct {
	PrimaryURL   string   `toml:"primary_url"`
	SecondaryURL string   `toml:"secondary_url"`
	TTL          duration `toml:"ttl"`
	RefreshEvery duration `toml:"refresh_every"`
	FallbackRate float64  `toml:"fallback_rate"`
}

// FeedConfig holds the execution-metrics WebSocket feed parameters.
type FeedConfig struct {
	Enabled bool   `toml:"enabled"`
	WsURL   string `toml:"ws_url"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Probe: ProbeConfig{
			Enabled:            true,
			Interval:           duration{5 * time.Minute},
			SamplesPerEndpoint: 20,
			Timeout:            duration{5 * time.Second},
			InterCallDelay:     duration{100 * time.Millisecond},
		},
		Router: RouterConfig{
			PreferFastest:     true,
			MinHealthScore:    0.7,
			CacheTTL:          duration{60 * time.Second},
			ErrorWindowSize:   50,
			LatencyWindowSize: 100,
		},
		Sizing: SizingConfig{
			MinLot:      100,
			MaxPosition: 5000,
		},
		Tuner: TunerConfig{
			Enabled:           true,
			Interval:          duration{15 * time.Minute},
			HistorySessions:   3,
			ShadowDiffSamples: 100,
			AuditLogCap:       100,
		},
		Rate: RateConfig{
			PrimaryURL:   "https://open.er-api.com/v6/latest/USD",
			SecondaryURL: "https://api.binance.com/api/v3/ticker/price?symbol=USDTTRY",
			TTL:          duration{30 * time.Second},
			RefreshEvery: duration{20 * time.Second},
			FallbackRate: 41.5,
		},
		Feed: FeedConfig{
			Enabled: false,
			WsURL:   "ws://localhost:8750/metrics",
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbcore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbcore-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"params_adjusted", "route_fallback", "rate_fallback", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"probe":   true,
	"tune":    true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validEndpointKinds enumerates the endpoint kinds a venue may declare.
var validEndpointKinds = map[string]bool{
	"ping":      true,
	"ping_alt":  true,
	"orderbook": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: probe, tune, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchanges
	if len(c.Exchanges) == 0 {
		errs = append(errs, "at least one [[exchange]] block is required")
	}
	seen := map[string]bool{}
	for i, ex := range c.Exchanges {
		if ex.ID == "" {
			errs = append(errs, fmt.Sprintf("exchange[%d]: id is required", i))
			continue
		}
		if seen[ex.ID] {
			errs = append(errs, fmt.Sprintf("exchange %q: duplicate id", ex.ID))
		}
		seen[ex.ID] = true
		if ex.DefaultEndpoint == "" {
			errs = append(errs, fmt.Sprintf("exchange %q: default_endpoint is required", ex.ID))
		} else if !validEndpointKinds[ex.DefaultEndpoint] {
			errs = append(errs, fmt.Sprintf("exchange %q: default_endpoint %q is not a valid endpoint kind", ex.ID, ex.DefaultEndpoint))
		}
		for kind := range ex.Endpoints {
			if !validEndpointKinds[kind] {
				errs = append(errs, fmt.Sprintf("exchange %q: unknown endpoint kind %q (valid: ping, ping_alt, orderbook)", ex.ID, kind))
			}
		}
	}

	// Probe
	if c.Probe.SamplesPerEndpoint <= 0 {
		errs = append(errs, "probe: samples_per_endpoint must be positive")
	}
	if c.Probe.Timeout.Duration <= 0 {
		errs = append(errs, "probe: timeout must be positive")
	}
	if c.Probe.Enabled && c.Probe.Interval.Duration <= 0 {
		errs = append(errs, "probe: interval must be positive when enabled")
	}

	// Router
	if c.Router.MinHealthScore < 0 || c.Router.MinHealthScore > 1 {
		errs = append(errs, "router: min_health_score must be in [0, 1]")
	}
	if c.Router.CacheTTL.Duration <= 0 {
		errs = append(errs, "router: cache_ttl must be positive")
	}
	if c.Router.ErrorWindowSize <= 0 {
		errs = append(errs, "router: error_window_size must be positive")
	}
	if c.Router.LatencyWindowSize <= 0 {
		errs = append(errs, "router: latency_window_size must be positive")
	}

	// Sizing — lots are TL amounts rounded to the nearest 10, so the bounds
	// must themselves sit on the grid.
	if c.Sizing.MinLot <= 0 {
		errs = append(errs, "sizing: min_lot must be positive")
	} else if math.Mod(c.Sizing.MinLot, 10) != 0 {
		errs = append(errs, "sizing: min_lot must be a multiple of 10")
	}
	if c.Sizing.MaxPosition <= 0 {
		errs = append(errs, "sizing: max_position must be positive")
	} else if math.Mod(c.Sizing.MaxPosition, 10) != 0 {
		errs = append(errs, "sizing: max_position must be a multiple of 10")
	}
	if c.Sizing.MinLot > 0 && c.Sizing.MaxPosition > 0 && c.Sizing.MinLot > c.Sizing.MaxPosition {
		errs = append(errs, "sizing: min_lot must not exceed max_position")
	}

	// Tuner
	if c.Tuner.Enabled && c.Tuner.Interval.Duration <= 0 {
		errs = append(errs, "tuner: interval must be positive when enabled")
	}
	if c.Tuner.HistorySessions <= 0 {
		errs = append(errs, "tuner: history_sessions must be positive")
	}
	if c.Tuner.ShadowDiffSamples <= 0 {
		errs = append(errs, "tuner: shadow_diff_samples must be positive")
	}
	if c.Tuner.AuditLogCap <= 0 {
		errs = append(errs, "tuner: audit_log_cap must be positive")
	}

	// Rate
	if c.Rate.TTL.Duration <= 0 {
		errs = append(errs, "rate: ttl must be positive")
	}
	if c.Rate.FallbackRate <= 0 {
		errs = append(errs, "rate: fallback_rate must be positive")
	}

	// Feed
	if c.Feed.Enabled && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url is required when enabled")
	}

	// Archive
	if c.Archive.Enabled && c.Archive.RetentionDays <= 0 {
		errs = append(errs, "archive: retention_days must be positive when enabled")
	}

	// Postgres — the probe, tune and archive paths persist state.
	needsDB := c.Mode == "probe" || c.Mode == "tune" || c.Mode == "archive" || c.Mode == "full"
	if needsDB && c.Postgres.DSN == "" {
		if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
			errs = append(errs, "postgres: either dsn or host/database/user must be set for mode "+c.Mode)
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required")
	}

	// S3 — only the archive path uploads.
	needsS3 := c.Archive.Enabled || c.Mode == "archive"
	if needsS3 {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when archiving is enabled")
		}
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			errs = append(errs, "s3: access_key and secret_key are required when archiving is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
