package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/google/uuid"
)

// SyncRunStore keeps sync run summaries in memory
type SyncRunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]integration.SyncRun
}

// NewSyncRunStore creates an empty run store
func NewSyncRunStore() *SyncRunStore {
	return &SyncRunStore{runs: make(map[uuid.UUID]integration.SyncRun)}
}

// Save inserts or replaces a run
func (s *SyncRunStore) Save(_ context.Context, run *integration.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	cp.Errors = slices.Clone(run.Errors)
	s.runs[run.ID] = cp
	return nil
}

// Latest returns the most recent run of an entity type
func (s *SyncRunStore) Latest(ctx context.Context, entityType string) (*integration.SyncRun, error) {
	runs, _ := s.ListRecent(ctx, entityType, 1)
	if len(runs) == 0 {
		return nil, shared.ErrNotFound
	}
	return &runs[0], nil
}

// ListRecent returns the most recent runs, newest first
func (s *SyncRunStore) ListRecent(_ context.Context, entityType string, limit int) ([]integration.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []integration.SyncRun
	for _, r := range s.runs {
		if entityType == "" || r.EntityType == entityType {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b integration.SyncRun) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ integration.SyncRunRepository = (*SyncRunStore)(nil)

// WatermarkStore keeps source cursors in memory
type WatermarkStore struct {
	mu    sync.RWMutex
	marks map[string]string
}

// NewWatermarkStore creates an empty watermark store
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{marks: make(map[string]string)}
}

// Get returns the stored cursor, empty when none
func (s *WatermarkStore) Get(_ context.Context, source, entityType string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marks[source+"/"+entityType], nil
}

// Set stores the cursor
func (s *WatermarkStore) Set(_ context.Context, source, entityType, watermark string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[source+"/"+entityType] = watermark
	return nil
}

var _ integration.SourceWatermarkRepository = (*WatermarkStore)(nil)

// SyncJobStore keeps sync jobs in memory
type SyncJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]integration.SyncJob
}

// NewSyncJobStore creates an empty job store
func NewSyncJobStore() *SyncJobStore {
	return &SyncJobStore{jobs: make(map[uuid.UUID]integration.SyncJob)}
}

// Save inserts or replaces a job
func (s *SyncJobStore) Save(_ context.Context, job *integration.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(*job)
	return nil
}

// FindByID returns the job or shared.ErrNotFound
func (s *SyncJobStore) FindByID(_ context.Context, id uuid.UUID) (*integration.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	out := cloneJob(job)
	return &out, nil
}

// ListRecent returns the newest jobs first
func (s *SyncJobStore) ListRecent(_ context.Context, limit int) ([]integration.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]integration.SyncJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	slices.SortFunc(out, func(a, b integration.SyncJob) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneJob(j integration.SyncJob) integration.SyncJob {
	j.EntityTypes = slices.Clone(j.EntityTypes)
	summary := make(map[string]integration.EntityTypeSummary, len(j.Summary))
	for k, v := range j.Summary {
		summary[k] = v
	}
	j.Summary = summary
	return j
}

var _ integration.SyncJobRepository = (*SyncJobStore)(nil)
