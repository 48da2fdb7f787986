package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/ekinsoy/arbcore/internal/blob/s3"
	"github.com/ekinsoy/arbcore/internal/cache/redis"
	"github.com/ekinsoy/arbcore/internal/config"
	"github.com/ekinsoy/arbcore/internal/domain"
	"github.com/ekinsoy/arbcore/internal/notify"
	"github.com/ekinsoy/arbcore/internal/probe"
	"github.com/ekinsoy/arbcore/internal/rate"
	"github.com/ekinsoy/arbcore/internal/router"
	"github.com/ekinsoy/arbcore/internal/scoring"
	"github.com/ekinsoy/arbcore/internal/store/postgres"
	"github.com/ekinsoy/arbcore/internal/tuner"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Heatmaps domain.HeatmapStore
	Params   domain.ParamsStore
	AuditLog domain.AdjustmentLogStore
	Sessions domain.SessionStore

	// Caches
	RateCache domain.RateCache
	SignalBus domain.SignalBus

	// Blob storage
	BlobWriter *s3blob.Writer
	Archiver   *s3blob.Archiver

	// Core components
	Prober   *probe.Prober
	Selector *router.Selector
	Scorer   *scoring.Scorer
	Sizer    *scoring.Sizer
	Tuner    *tuner.Tuner
	Rates    *rate.Provider

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "probe", "tune", "archive", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that require object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || (cfg.Mode == "full" && cfg.Archive.Enabled)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Heatmaps = postgres.NewHeatmapStore(pool)
		deps.Params = postgres.NewParamsStore(pool)
		deps.AuditLog = postgres.NewAdjustmentLogStore(pool)
		deps.Sessions = postgres.NewSessionStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateCache = redis.NewRateCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when archiving) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		if deps.Heatmaps != nil && deps.AuditLog != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Heatmaps, deps.AuditLog, logger)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Core components ---
	deps.Prober = probe.New(probe.Config{
		SamplesPerEndpoint: cfg.Probe.SamplesPerEndpoint,
		Timeout:            cfg.Probe.Timeout.Duration,
		InterCallDelay:     cfg.Probe.InterCallDelay.Duration,
	}, probeTargets(cfg.Exchanges), deps.Heatmaps, logger)

	deps.Selector = router.NewSelector(router.Config{
		PreferFastest:     cfg.Router.PreferFastest,
		MinHealthScore:    cfg.Router.MinHealthScore,
		CacheTTL:          cfg.Router.CacheTTL.Duration,
		ErrorWindowSize:   cfg.Router.ErrorWindowSize,
		LatencyWindowSize: cfg.Router.LatencyWindowSize,
	}, routeDefaults(cfg.Exchanges), logger)
	deps.Selector.SetNotifier(deps.Notifier)

	deps.Scorer = scoring.NewScorer(logger)
	deps.Sizer = scoring.NewSizer(scoring.SizerConfig{
		MinLot:      cfg.Sizing.MinLot,
		MaxPosition: cfg.Sizing.MaxPosition,
	})

	tunerCfg := tuner.DefaultConfig()
	tunerCfg.HistorySessions = cfg.Tuner.HistorySessions
	tunerCfg.ShadowDiffSamples = cfg.Tuner.ShadowDiffSamples
	tunerCfg.AuditLogCap = cfg.Tuner.AuditLogCap
	deps.Tuner = tuner.New(tunerCfg, deps.Sessions, deps.Params, deps.AuditLog, deps.Notifier, logger)

	deps.Rates = rate.NewProvider(rate.Config{
		PrimaryURL:   cfg.Rate.PrimaryURL,
		SecondaryURL: cfg.Rate.SecondaryURL,
		TTL:          cfg.Rate.TTL.Duration,
		FallbackRate: cfg.Rate.FallbackRate,
	}, deps.RateCache, logger)
	deps.Rates.SetNotifier(deps.Notifier)

	return deps, cleanup, nil
}

// probeTargets converts the configured exchanges into probe targets.
func probeTargets(exchanges []config.ExchangeConfig) []probe.ExchangeEndpoints {
	targets := make([]probe.ExchangeEndpoints, 0, len(exchanges))
	for _, ex := range exchanges {
		eps := make(map[domain.EndpointKind]string, len(ex.Endpoints))
		for kind, url := range ex.Endpoints {
			eps[domain.EndpointKind(kind)] = url
		}
		targets = append(targets, probe.ExchangeEndpoints{
			ID:        domain.ExchangeID(ex.ID),
			Endpoints: eps,
		})
	}
	return targets
}

// routeDefaults maps each configured exchange to its default endpoint kind.
func routeDefaults(exchanges []config.ExchangeConfig) map[domain.ExchangeID]domain.EndpointKind {
	defaults := make(map[domain.ExchangeID]domain.EndpointKind, len(exchanges))
	for _, ex := range exchanges {
		defaults[domain.ExchangeID(ex.ID)] = domain.EndpointKind(ex.DefaultEndpoint)
	}
	return defaults
}
