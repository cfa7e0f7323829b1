package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a sync job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal returns true once the job will not change again
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// EntityTypeSummary is the outcome of one entity type within a job
type EntityTypeSummary struct {
	RunID  uuid.UUID       `json:"run_id"`
	Status SyncRunStatus   `json:"status"`
	Counts PartitionCounts `json:"counts"`
	Errors []RecordError   `json:"errors"`
}

// SyncJob is an operator or schedule triggered sync of one or more entity types
type SyncJob struct {
	ID          uuid.UUID
	EntityTypes []string
	Mode        SyncMode
	Status      JobStatus
	// Summary holds per entity type results
	Summary     map[string]EntityTypeSummary
	Error       string
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewSyncJob creates a pending job
func NewSyncJob(entityTypes []string, mode SyncMode, maxRetries int) *SyncJob {
	return &SyncJob{
		ID:          uuid.New(),
		EntityTypes: entityTypes,
		Mode:        mode,
		Status:      JobStatusPending,
		Summary:     make(map[string]EntityTypeSummary),
		MaxRetries:  maxRetries,
		CreatedAt:   time.Now(),
	}
}

// Start marks the job as running
func (j *SyncJob) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *SyncJob) Complete() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *SyncJob) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job should be retried
func (j *SyncJob) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry puts a failed job back to pending
func (j *SyncJob) ScheduleRetry(delay time.Duration) {
	j.RetryCount++
	j.Status = JobStatusPending
	next := time.Now().Add(delay)
	j.NextRetryAt = &next
	j.CompletedAt = nil
}

// RecordRun stores the outcome of one entity type
func (j *SyncJob) RecordRun(run *SyncRun) {
	if j.Summary == nil {
		j.Summary = make(map[string]EntityTypeSummary)
	}
	j.Summary[run.EntityType] = EntityTypeSummary{
		RunID:  run.ID,
		Status: run.Status,
		Counts: run.Counts,
		Errors: run.Errors,
	}
}

// SyncJobRepository stores sync jobs
type SyncJobRepository interface {
	Save(ctx context.Context, job *SyncJob) error
	// FindByID returns the job or shared.ErrNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*SyncJob, error)
	ListRecent(ctx context.Context, limit int) ([]SyncJob, error)
}
