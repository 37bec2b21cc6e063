// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the CLI and the HTTP server.
package app

import (
	"context"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/indicator-analyzer/internal/analyzer"
	"github.com/JakeFAU/indicator-analyzer/internal/backup"
	"github.com/JakeFAU/indicator-analyzer/internal/clock/system"
	"github.com/JakeFAU/indicator-analyzer/internal/config"
	"github.com/JakeFAU/indicator-analyzer/internal/export"
	collyfetcher "github.com/JakeFAU/indicator-analyzer/internal/fetcher/colly"
	"github.com/JakeFAU/indicator-analyzer/internal/fetcher/headless"
	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/logging"
	"github.com/JakeFAU/indicator-analyzer/internal/pipeline"
	"github.com/JakeFAU/indicator-analyzer/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/indicator-analyzer/internal/publisher/pubsub"
	"github.com/JakeFAU/indicator-analyzer/internal/storage/gcs"
	"github.com/JakeFAU/indicator-analyzer/internal/storage/postgres"
	"github.com/JakeFAU/indicator-analyzer/internal/storage/sqlite"
	"github.com/JakeFAU/indicator-analyzer/internal/urllist"
)

// App holds the shared services built from one Config. Every outbound call
// made through Fetcher and Analyzer passes the same Limiter.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Limiter      *ratelimit.Limiter
	Fetcher      indicator.Fetcher
	Analyzer     *analyzer.Analyzer
	Repo         indicator.Repository
	Publisher    indicator.Publisher
	Exporter     *export.Exporter
	Backup       *backup.Service
	URLs         *urllist.List
	Orchestrator *pipeline.Orchestrator

	snapshots backup.Snapshotter
	closers   []func()
}

// New wires every service described by cfg. Cloud clients are only created
// when their section is configured. On error, anything already opened is
// released before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	logger = logging.OrNop(logger)
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Limiter = ratelimit.New(ratelimit.Config{CallsPerMinute: cfg.RateLimit.CallsPerMinute, Scope: "outbound"})
	logger.Info("rate limiter ready", zap.Duration("interval", a.Limiter.Interval()))

	if err = a.initFetcher(); err != nil {
		return nil, err
	}

	a.Analyzer = analyzer.New(analyzer.Config{
		APIKey:  cfg.Analyzer.APIKey,
		Model:   cfg.Analyzer.Model,
		BaseURL: cfg.Analyzer.BaseURL,
		Timeout: cfg.AnalyzerTimeout(),
	}, a.Limiter, analyzer.WithLogger(logger))
	if a.Analyzer.Placeholder() {
		logger.Warn("no valid analysis credential configured; analyses will be placeholders")
	}

	if err = a.initRepository(ctx); err != nil {
		return nil, err
	}

	targets := export.Targets{}
	if cfg.GCS.Bucket != "" {
		client, cerr := gstorage.NewClient(ctx)
		if cerr != nil {
			return nil, fmt.Errorf("create storage client: %w", cerr)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		if targets.GCS, err = gcs.New(client, cfg.GCS); err != nil {
			return nil, err
		}
		logger.Info("cloud storage exports enabled", zap.String("bucket", cfg.GCS.Bucket))
	}
	a.Exporter = export.New(a.Repo, targets, logger)
	a.Backup = backup.New(a.snapshots, targets, nil, logger)

	if cfg.PubSub.Topic != "" {
		client, cerr := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if cerr != nil {
			return nil, fmt.Errorf("create pubsub client: %w", cerr)
		}
		pub := pubsubpublisher.New(client, cfg.PubSub.Topic)
		a.closers = append(a.closers, func() {
			pub.Stop()
			_ = client.Close()
		})
		a.Publisher = pub
		logger.Info("analysis events enabled", zap.String("topic", cfg.PubSub.Topic))
	}

	validator := indicator.NewValidator(cfg.Pipeline.AllowedPrefixes...)
	a.URLs = urllist.New(cfg.Pipeline.URLFile, validator)

	opts := []pipeline.Option{pipeline.WithLogger(logger), pipeline.WithValidator(validator)}
	if a.Publisher != nil {
		opts = append(opts, pipeline.WithPublisher(a.Publisher))
	}
	a.Orchestrator = pipeline.New(a.Fetcher, a.Analyzer, a.Repo, pipeline.Config{
		Topic:        cfg.PubSub.Topic,
		Retries:      cfg.Pipeline.Retries,
		RetryBackoff: cfg.RetryBackoff(),
	}, opts...)

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) initFetcher() error {
	cfg := a.Config
	delayMin, delayMax := cfg.DelayRange()
	if cfg.Fetcher.Headless {
		f, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Fetcher.HeadlessMaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			Referer:           cfg.Fetcher.Referer,
			NavigationTimeout: cfg.HeadlessTimeout(),
			DelayMin:          delayMin,
			DelayMax:          delayMax,
		}, a.Limiter, a.Logger)
		if err != nil {
			return fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		a.Fetcher = f
		return nil
	}
	a.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetcher.UserAgent,
		Referer:   cfg.Fetcher.Referer,
		Timeout:   cfg.FetchTimeout(),
		DelayMin:  delayMin,
		DelayMax:  delayMax,
	}, a.Limiter, a.Logger)
	return nil
}

func (a *App) initRepository(ctx context.Context) error {
	db := a.Config.DB
	switch db.Driver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:         db.DSN,
			MaxConns:    int32(db.MaxConns), //nolint:gosec // validated config value
			ApplySchema: db.ApplySchema,
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.Repo = store
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, db.DSN, system.New())
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		a.Repo = store
		a.snapshots = store
	default:
		return fmt.Errorf("unknown db driver: %s", db.Driver)
	}
	a.closers = append(a.closers, a.Repo.Close)
	a.Logger.Info("record store ready", zap.String("driver", db.Driver))
	return nil
}

// Close releases every service in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.Logger.Sync()
}
