// Package app composes the sync pipeline from configuration. The server and
// the operator CLI both start from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	appintegration "github.com/erp/crmsync/internal/application/integration"
	"github.com/erp/crmsync/internal/application/projection"
	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/erp/crmsync/internal/infrastructure/cache"
	"github.com/erp/crmsync/internal/infrastructure/config"
	"github.com/erp/crmsync/internal/infrastructure/connector"
	"github.com/erp/crmsync/internal/infrastructure/event"
	"github.com/erp/crmsync/internal/infrastructure/logger"
	"github.com/erp/crmsync/internal/infrastructure/mapping"
	"github.com/erp/crmsync/internal/infrastructure/persistence"
	"github.com/erp/crmsync/internal/infrastructure/scheduler"
	"github.com/erp/crmsync/internal/infrastructure/storage"
	"github.com/erp/crmsync/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Version is reported by the system endpoint and the CLI
const Version = "1.0.0"

// Options tune Build for the calling binary
type Options struct {
	// Meter receives pipeline metrics; nil disables them
	Meter metric.Meter
	// Cadence starts the interval trigger with the scheduler
	Cadence bool
}

// Pipeline holds every long-lived component of one process
type Pipeline struct {
	Config *config.Config
	DB     *persistence.Database

	Events     *event.GormEventStore
	Bus        *event.InMemoryBus
	Leases     shared.LeaseStore
	Reconciler *appintegration.Reconciler
	Engine     *projection.Engine
	Views      *projection.Views
	Scheduler  *scheduler.Scheduler
	Trigger    *scheduler.CadenceTrigger
	Sync       *appintegration.SyncService
	Query      *appintegration.QueryService
	Metrics    *telemetry.SyncMetrics

	logger  *zap.Logger
	cadence bool
}

// Build connects to storage and wires the pipeline. Nothing runs until Start.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*Pipeline, error) {
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
	)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Config: cfg, DB: db, logger: log, cadence: opts.Cadence}

	if err := p.wire(ctx, opts); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) wire(ctx context.Context, opts Options) error {
	cfg, log, db := p.Config, p.logger, p.DB.DB

	dbSystem := "postgresql"
	if cfg.Database.Driver == config.DriverSQLite {
		dbSystem = "sqlite"
		if err := p.DB.AutoMigrate(); err != nil {
			return fmt.Errorf("failed to create sqlite schema: %w", err)
		}
	}
	if err := telemetry.RegisterDBTracing(db, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        dbSystem,
	}, log); err != nil {
		return fmt.Errorf("failed to register database tracing: %w", err)
	}

	if opts.Meter != nil {
		metrics, err := telemetry.NewSyncMetrics(opts.Meter)
		if err != nil {
			return fmt.Errorf("failed to create sync metrics: %w", err)
		}
		p.Metrics = metrics
	}

	mappings, err := mapping.Load(cfg.Mapping.Path)
	if err != nil {
		return err
	}
	for _, entityType := range cfg.Sync.EntityTypes {
		if _, ok := mappings.For(entityType); !ok {
			return fmt.Errorf("sync.entity_types: %q has no mapping in %s", entityType, cfg.Mapping.Path)
		}
	}

	source, err := connector.New(cfg.Connector, cfg.Sync.Source, cfg.Sync.MaxRetries, log)
	if err != nil {
		return err
	}
	archive, err := storage.NewArchive(ctx, &cfg.Archive, log)
	if err != nil {
		return err
	}

	leases, err := cache.NewLeaseStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStore()
	if err != nil {
		return err
	}
	p.Leases = leases

	p.Events = event.NewGormEventStore(db)
	p.Bus = event.NewInMemoryBus(log)
	runs := persistence.NewSyncRunRepository(db)

	p.Reconciler = appintegration.NewReconciler(appintegration.ReconcilerDeps{
		Connector:  source,
		Normalizer: appintegration.NewNormalizer(mappings),
		Raw:        persistence.NewRawRecordRepository(db),
		Archive:    archive,
		Canonical:  persistence.NewCanonicalEntityRepository(db),
		Ledger:     persistence.NewGormLedger(db, p.Events),
		Runs:       runs,
		Watermarks: persistence.NewSourceWatermarkRepository(db),
		Leases:     leases,
		Publisher:  p.Bus,
		Metrics:    p.Metrics,
	}, appintegration.ReconcilerConfig{
		BatchSize: cfg.Sync.BatchSize,
		LeaseTTL:  cfg.Sync.LeaseTTL,
		MaxPages:  cfg.Sync.MaxPages,
	}, log.Named("reconciler"))

	store := persistence.NewProjectionStore(db)
	p.Engine = projection.NewEngine(p.Events, store, p.Metrics,
		projection.Config{PageSize: cfg.Projection.ReplayPageSize}, log.Named("projection"))
	p.Engine.Register(projection.NewServingProjection())
	p.Engine.Register(projection.NewProfileProjection())
	p.Engine.Register(projection.NewAccessMatrixProjection(cfg.Projection.MaxHierarchyDepth,
		projection.WithCycleHandler(p.onHierarchyCycle),
	))
	if cfg.Projection.RunOnSync {
		p.Bus.Subscribe(projection.NewSyncPassHandler(p.Engine, log.Named("projection")))
	}
	p.Views = projection.NewViews(store)

	executor := appintegration.NewPassExecutor(p.Reconciler, cfg.Sync.Workers, log)
	schedCfg := scheduler.DefaultConfig()
	schedCfg.Workers = cfg.Sync.Workers
	schedCfg.QueueSize = cfg.Sync.QueueSize
	schedCfg.JobTimeout = cfg.Sync.JobTimeout
	schedCfg.RetryAttempts = cfg.Sync.MaxRetries
	schedCfg.RetryDelay = cfg.Sync.RetryDelay
	p.Scheduler, err = scheduler.NewScheduler(schedCfg, executor, persistence.NewSyncJobRepository(db), log.Named("scheduler"))
	if err != nil {
		return err
	}
	p.Trigger = scheduler.NewCadenceTrigger(scheduler.TriggerConfig{
		EntityTypes:         cfg.Sync.EntityTypes,
		FullInterval:        cfg.Sync.FullInterval,
		IncrementalInterval: cfg.Sync.IncrementalInterval,
	}, p.Scheduler, log.Named("trigger"))

	p.Sync = appintegration.NewSyncService(p.Scheduler, executor, cfg.Sync.EntityTypes, log)
	p.Query = appintegration.NewQueryService(p.Views, runs, p.Reconciler, log)
	return nil
}

func (p *Pipeline) onHierarchyCycle(tx *projection.Tx, err *integration.HierarchyCycleError) {
	p.Metrics.RecordHierarchyCycle(tx.Context())
	p.logger.Warn("Subordinate graph loops, access entry left unchanged",
		zap.String("user_id", err.UserID.String()),
		zap.Int("path_length", len(err.Path)),
		zap.Bool("depth_exceeded", err.DepthExceeded),
	)
}

// Start runs the notification bus, the job scheduler and, when enabled, the
// interval trigger
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.Bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notification bus: %w", err)
	}
	if err := p.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if p.cadence {
		if err := p.Trigger.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sync trigger: %w", err)
		}
	}
	p.logger.Info("Pipeline started",
		zap.Strings("entity_types", p.Config.Sync.EntityTypes),
		zap.Strings("projections", p.Engine.Names()),
		zap.Bool("cadence", p.cadence),
	)
	return nil
}

// Stop drains background work: the trigger first, then queued jobs, then
// in-flight notifications
func (p *Pipeline) Stop(ctx context.Context) error {
	var errs []error
	if p.cadence {
		errs = append(errs, p.Trigger.Stop())
	}
	if p.Scheduler.IsRunning() {
		errs = append(errs, p.Scheduler.Stop(ctx))
	}
	errs = append(errs, p.Bus.Stop(ctx))
	return errors.Join(errs...)
}

// Close releases leases and the database connection
func (p *Pipeline) Close() error {
	var errs []error
	if p.Leases != nil {
		errs = append(errs, p.Leases.Close())
	}
	if p.DB != nil {
		errs = append(errs, p.DB.Close())
	}
	return errors.Join(errs...)
}

// CatchUp runs every projection to the log head, bounded by timeout
func (p *Pipeline) CatchUp(ctx context.Context, timeout time.Duration) ([]projection.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Engine.Run(ctx)
}
