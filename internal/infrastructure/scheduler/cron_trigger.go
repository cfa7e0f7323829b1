package scheduler

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Submitter queues sync jobs
type Submitter interface {
	Submit(ctx context.Context, entityTypes []string, mode integration.SyncMode) (*integration.SyncJob, error)
}

// TriggerConfig holds the sync cadences. A zero interval disables that mode.
type TriggerConfig struct {
	EntityTypes []string
	// FullInterval is how often every entity type is fully enumerated;
	// only full passes detect upstream deletions
	FullInterval time.Duration
	// IncrementalInterval is how often changes after the watermark are pulled
	IncrementalInterval time.Duration
	// FullOnStart submits a full job as soon as the trigger starts
	FullOnStart bool
}

// CadenceTrigger submits full and incremental sync jobs on fixed intervals
type CadenceTrigger struct {
	config    TriggerConfig
	submitter Submitter
	logger    *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	group     *errgroup.Group
	isRunning bool
}

// NewCadenceTrigger creates a trigger
func NewCadenceTrigger(config TriggerConfig, submitter Submitter, logger *zap.Logger) *CadenceTrigger {
	return &CadenceTrigger{
		config:    config,
		submitter: submitter,
		logger:    logger,
	}
}

// Start runs one loop per enabled cadence
func (c *CadenceTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return nil
	}
	if len(c.config.EntityTypes) == 0 {
		return ErrNoEntityTypes
	}
	c.isRunning = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.group, ctx = errgroup.WithContext(ctx)

	if c.config.FullOnStart {
		c.submit(ctx, integration.SyncModeFull)
	}
	if c.config.FullInterval > 0 {
		c.group.Go(func() error { return c.loop(ctx, integration.SyncModeFull, c.config.FullInterval) })
	}
	if c.config.IncrementalInterval > 0 {
		c.group.Go(func() error { return c.loop(ctx, integration.SyncModeIncremental, c.config.IncrementalInterval) })
	}

	c.logger.Info("Sync cadence trigger started",
		zap.Strings("entity_types", c.config.EntityTypes),
		zap.Duration("full_interval", c.config.FullInterval),
		zap.Duration("incremental_interval", c.config.IncrementalInterval),
	)
	return nil
}

// Stop stops the loops and waits for them to exit
func (c *CadenceTrigger) Stop() error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.cancel()
	g := c.group
	c.mu.Unlock()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	c.logger.Info("Sync cadence trigger stopped")
	return nil
}

func (c *CadenceTrigger) loop(ctx context.Context, mode integration.SyncMode, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.submit(ctx, mode)
		}
	}
}

func (c *CadenceTrigger) submit(ctx context.Context, mode integration.SyncMode) {
	job, err := c.submitter.Submit(ctx, slices.Clone(c.config.EntityTypes), mode)
	if err != nil {
		c.logger.Warn("Scheduled sync not submitted", zap.String("mode", string(mode)), zap.Error(err))
		return
	}
	c.logger.Debug("Scheduled sync submitted", zap.String("job_id", job.ID.String()), zap.String("mode", string(mode)))
}
