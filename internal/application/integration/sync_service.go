package integration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownEntityType is returned when a sync names a type with no mapping
var ErrUnknownEntityType = shared.NewDomainError("UNKNOWN_ENTITY_TYPE", "Entity type is not configured for sync")

// codePassNotStarted marks an entity type whose pass was refused before it
// fetched anything (lease held, pipeline halted)
const codePassNotStarted = "PASS_NOT_STARTED"

// PassRunner runs one reconciliation pass
type PassRunner interface {
	Reconcile(ctx context.Context, entityType string, mode integration.SyncMode) (*integration.SyncRun, error)
}

// JobQueue accepts and tracks asynchronous sync jobs
type JobQueue interface {
	Submit(ctx context.Context, entityTypes []string, mode integration.SyncMode) (*integration.SyncJob, error)
	Get(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error)
	// Recent lists the newest jobs, newest first
	Recent(limit int) []integration.SyncJob
}

// PassExecutor runs the passes of a job, several entity types at a time
type PassExecutor struct {
	runner  PassRunner
	workers int
	logger  *zap.Logger
}

// NewPassExecutor creates an executor running at most workers passes at once
func NewPassExecutor(runner PassRunner, workers int, logger *zap.Logger) *PassExecutor {
	if workers <= 0 {
		workers = 1
	}
	return &PassExecutor{runner: runner, workers: workers, logger: logger}
}

// Execute reconciles every entity type. One failing type does not stop the
// others; the returned error joins every failure.
func (e *PassExecutor) Execute(ctx context.Context, entityTypes []string, mode integration.SyncMode) (map[string]integration.EntityTypeSummary, error) {
	var (
		mu      sync.Mutex
		summary = make(map[string]integration.EntityTypeSummary, len(entityTypes))
		errs    []error
	)

	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, et := range entityTypes {
		g.Go(func() error {
			run, err := e.runner.Reconcile(ctx, et, mode)

			mu.Lock()
			defer mu.Unlock()
			if run != nil {
				summary[et] = integration.EntityTypeSummary{
					RunID:  run.ID,
					Status: run.Status,
					Counts: run.Counts,
					Errors: run.Errors,
				}
			} else if err != nil {
				summary[et] = integration.EntityTypeSummary{
					Status: integration.SyncRunStatusFailed,
					Errors: []integration.RecordError{{Code: codePassNotStarted, Message: err.Error()}},
				}
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", et, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return summary, errors.Join(errs...)
}

// SyncService is the operational entry point for starting and inspecting
// sync jobs
type SyncService struct {
	queue       JobQueue
	executor    *PassExecutor
	entityTypes []string
	logger      *zap.Logger
}

// NewSyncService creates a sync service for the configured entity types
func NewSyncService(queue JobQueue, executor *PassExecutor, entityTypes []string, logger *zap.Logger) *SyncService {
	return &SyncService{
		queue:       queue,
		executor:    executor,
		entityTypes: slices.Clone(entityTypes),
		logger:      logger,
	}
}

// EntityTypes returns the configured entity types
func (s *SyncService) EntityTypes() []string {
	return slices.Clone(s.entityTypes)
}

// TriggerSync queues a job. No entity types means every configured type;
// an empty mode means full.
func (s *SyncService) TriggerSync(ctx context.Context, entityTypes []string, mode integration.SyncMode) (uuid.UUID, error) {
	types, mode, err := s.resolve(entityTypes, mode)
	if err != nil {
		return uuid.Nil, err
	}
	job, err := s.queue.Submit(ctx, types, mode)
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("Sync job triggered",
		zap.String("job_id", job.ID.String()),
		zap.Strings("entity_types", types),
		zap.String("mode", string(mode)),
	)
	return job.ID, nil
}

// GetSyncJob returns a job's status and per entity type summary
func (s *SyncService) GetSyncJob(ctx context.Context, id uuid.UUID) (*SyncJobResponse, error) {
	job, err := s.queue.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrNotFound, err)
	}
	resp := ToSyncJobResponse(job)
	return &resp, nil
}

// ListSyncJobs returns up to limit of the newest jobs
func (s *SyncService) ListSyncJobs(limit int) []SyncJobResponse {
	if limit <= 0 {
		limit = 20
	}
	jobs := s.queue.Recent(limit)
	out := make([]SyncJobResponse, len(jobs))
	for i := range jobs {
		out[i] = ToSyncJobResponse(&jobs[i])
	}
	return out
}

// RunNow runs a job in the calling goroutine and returns it finished
func (s *SyncService) RunNow(ctx context.Context, entityTypes []string, mode integration.SyncMode) (*SyncJobResponse, error) {
	types, mode, err := s.resolve(entityTypes, mode)
	if err != nil {
		return nil, err
	}
	job := integration.NewSyncJob(types, mode, 0)
	job.Start()
	summary, runErr := s.executor.Execute(ctx, types, mode)
	for _, et := range types {
		if sum, ok := summary[et]; ok {
			job.Summary[et] = sum
		}
	}
	if runErr != nil {
		job.Fail(runErr.Error())
	} else {
		job.Complete()
	}
	resp := ToSyncJobResponse(job)
	return &resp, runErr
}

func (s *SyncService) resolve(entityTypes []string, mode integration.SyncMode) ([]string, integration.SyncMode, error) {
	if mode == "" {
		mode = integration.SyncModeFull
	}
	if !mode.IsValid() {
		return nil, "", shared.WrapDomainError("INVALID_SYNC_MODE", "Invalid sync mode", fmt.Errorf("%q", mode))
	}
	if len(entityTypes) == 0 {
		return s.EntityTypes(), mode, nil
	}
	seen := make(map[string]bool, len(entityTypes))
	var types []string
	for _, et := range entityTypes {
		if !slices.Contains(s.entityTypes, et) {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknownEntityType, et)
		}
		if !seen[et] {
			seen[et] = true
			types = append(types, et)
		}
	}
	return types, mode, nil
}
