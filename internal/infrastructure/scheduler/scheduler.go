// Package scheduler runs sync jobs on a bounded worker pool, retries jobs
// whose source was unreachable, and triggers jobs on fixed cadences.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Executor runs the reconciliation passes of one job and reports the
// outcome of each entity type
type Executor interface {
	Execute(ctx context.Context, entityTypes []string, mode integration.SyncMode) (map[string]integration.EntityTypeSummary, error)
}

// Config holds scheduler configuration
type Config struct {
	// Workers is the number of jobs run concurrently
	Workers int
	// QueueSize bounds jobs waiting for a worker
	QueueSize int
	// JobTimeout is the maximum time a job can run
	JobTimeout time.Duration
	// RetryAttempts is the number of retries of a job whose source was unavailable
	RetryAttempts int
	// RetryDelay is the first retry delay; later retries back off exponentially
	RetryDelay time.Duration
	// MaxRetryDelay caps the retry delay
	MaxRetryDelay time.Duration
	// HistorySize bounds the jobs kept in memory
	HistorySize int
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Workers:       2,
		QueueSize:     64,
		JobTimeout:    30 * time.Minute,
		RetryAttempts: 3,
		RetryDelay:    30 * time.Second,
		MaxRetryDelay: 10 * time.Minute,
		HistorySize:   100,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue size must be positive", ErrInvalidConfig)
	case c.JobTimeout <= 0:
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	case c.RetryAttempts < 0:
		return fmt.Errorf("%w: retry attempts cannot be negative", ErrInvalidConfig)
	case c.HistorySize <= 0:
		return fmt.Errorf("%w: history size must be positive", ErrInvalidConfig)
	}
	return nil
}

type tracked struct {
	job     integration.SyncJob
	backoff *backoff.ExponentialBackOff
	timer   *time.Timer
}

// Scheduler manages sync jobs
type Scheduler struct {
	config   Config
	executor Executor
	repo     integration.SyncJobRepository
	logger   *zap.Logger

	queue  chan uuid.UUID
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	jobs      map[uuid.UUID]*tracked
	order     []uuid.UUID
}

// NewScheduler creates a scheduler. repo may be nil, in which case jobs
// only live in the in-memory history.
func NewScheduler(config Config, executor Executor, repo integration.SyncJobRepository, logger *zap.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		config:   config,
		executor: executor,
		repo:     repo,
		logger:   logger,
		queue:    make(chan uuid.UUID, config.QueueSize),
		jobs:     make(map[uuid.UUID]*tracked),
	}, nil
}

// Start starts the worker pool
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Sync scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers to exit
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	for _, t := range s.jobs {
		if t.timer != nil {
			t.timer.Stop()
		}
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the worker pool accepts jobs
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Submit queues a job syncing entityTypes in the given mode
func (s *Scheduler) Submit(ctx context.Context, entityTypes []string, mode integration.SyncMode) (*integration.SyncJob, error) {
	if len(entityTypes) == 0 {
		return nil, ErrNoEntityTypes
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("invalid sync mode %q", mode)
	}

	job := integration.NewSyncJob(slices.Clone(entityTypes), mode, s.config.RetryAttempts)

	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil, ErrSchedulerNotRunning
	}
	select {
	case s.queue <- job.ID:
	default:
		s.mu.Unlock()
		return nil, ErrJobQueueFull
	}
	s.remember(job)
	snapshot := cloneJob(*job)
	s.mu.Unlock()

	s.persist(ctx, &snapshot)
	s.logger.Debug("Sync job submitted",
		zap.String("job_id", job.ID.String()),
		zap.Strings("entity_types", entityTypes),
		zap.String("mode", string(mode)),
	)
	return &snapshot, nil
}

// Get returns a job from the history, falling back to the repository
func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error) {
	s.mu.Lock()
	t, ok := s.jobs[id]
	if ok {
		job := cloneJob(t.job)
		s.mu.Unlock()
		return &job, nil
	}
	s.mu.Unlock()

	if s.repo != nil {
		job, err := s.repo.FindByID(ctx, id)
		if err == nil {
			return job, nil
		}
		s.logger.Debug("Sync job lookup failed", zap.String("job_id", id.String()), zap.Error(err))
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// Recent returns the newest jobs in the history, newest first
func (s *Scheduler) Recent(limit int) []integration.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]integration.SyncJob, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneJob(s.jobs[s.order[i]].job))
	}
	return out
}

// remember adds a job to the history, evicting the oldest finished jobs
// beyond HistorySize. Caller holds s.mu.
func (s *Scheduler) remember(job *integration.SyncJob) {
	b := backoff.NewExponentialBackOff()
	if s.config.RetryDelay > 0 {
		b.InitialInterval = s.config.RetryDelay
	}
	if s.config.MaxRetryDelay > 0 {
		b.MaxInterval = s.config.MaxRetryDelay
	}
	b.MaxElapsedTime = 0
	b.Reset()

	s.jobs[job.ID] = &tracked{job: *job, backoff: b}
	s.order = append(s.order, job.ID)

	for i := 0; len(s.order) > s.config.HistorySize && i < len(s.order); {
		id := s.order[i]
		if !s.jobs[id].job.Status.IsTerminal() {
			i++
			continue
		}
		delete(s.jobs, id)
		s.order = slices.Delete(s.order, i, i+1)
	}
}

func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			s.process(ctx, id, workerID)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, id uuid.UUID, workerID int) {
	s.mu.Lock()
	t, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.timer = nil
	t.job.Start()
	entityTypes := slices.Clone(t.job.EntityTypes)
	mode := t.job.Mode
	started := cloneJob(t.job)
	s.mu.Unlock()
	s.persist(ctx, &started)

	jobCtx, log := logger.WithJobID(ctx, s.logger, id.String())
	log.Info("Processing sync job",
		zap.Int("worker_id", workerID),
		zap.Strings("entity_types", entityTypes),
		zap.String("mode", string(mode)),
	)

	jobCtx, cancel := context.WithTimeout(jobCtx, s.config.JobTimeout)
	summary, err := s.executor.Execute(jobCtx, entityTypes, mode)
	cancel()

	s.mu.Lock()
	maps.Copy(t.job.Summary, summary)
	if err == nil {
		t.job.Complete()
		log.Info("Sync job completed")
	} else {
		t.job.Fail(err.Error())
		log.Error("Sync job failed",
			zap.Int("retry_count", t.job.RetryCount),
			zap.Error(err),
		)
		s.scheduleRetry(ctx, t, err)
	}
	done := cloneJob(t.job)
	s.mu.Unlock()
	s.persist(context.WithoutCancel(ctx), &done)
}

// scheduleRetry requeues a job whose source was transiently unavailable.
// Caller holds s.mu.
func (s *Scheduler) scheduleRetry(ctx context.Context, t *tracked, err error) {
	if !retryable(err) || !t.job.ShouldRetry() || ctx.Err() != nil || !s.isRunning {
		return
	}
	delay := t.backoff.NextBackOff()
	if delay == backoff.Stop {
		return
	}
	t.job.ScheduleRetry(delay)
	id := t.job.ID
	t.timer = time.AfterFunc(delay, func() {
		s.requeue(id)
	})
	s.logger.Info("Sync job scheduled for retry",
		zap.String("job_id", id.String()),
		zap.Int("retry_count", t.job.RetryCount),
		zap.Int("max_retries", t.job.MaxRetries),
		zap.Duration("delay", delay),
	)
}

func (s *Scheduler) requeue(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	select {
	case s.queue <- id:
	default:
		if t, ok := s.jobs[id]; ok {
			t.job.Fail(ErrJobQueueFull.Error())
		}
		s.logger.Warn("Failed to re-queue sync job for retry", zap.String("job_id", id.String()))
	}
}

func (s *Scheduler) persist(ctx context.Context, job *integration.SyncJob) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Warn("Failed to persist sync job", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// retryable reports whether a failure came from a source that may recover
func retryable(err error) bool {
	var cu *integration.ConnectorUnavailableError
	return errors.As(err, &cu) && cu.Retryable
}

func cloneJob(j integration.SyncJob) integration.SyncJob {
	j.EntityTypes = slices.Clone(j.EntityTypes)
	j.Summary = maps.Clone(j.Summary)
	if j.Summary == nil {
		j.Summary = make(map[string]integration.EntityTypeSummary)
	}
	for k, v := range j.Summary {
		v.Errors = slices.Clone(v.Errors)
		j.Summary[k] = v
	}
	j.NextRetryAt = clonePtr(j.NextRetryAt)
	j.StartedAt = clonePtr(j.StartedAt)
	j.CompletedAt = clonePtr(j.CompletedAt)
	return j
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
