package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MaxReportedErrors caps the errors kept on a sync run summary
const MaxReportedErrors = 10

// SyncMode selects how much of the source a pass enumerates
type SyncMode string

const (
	// SyncModeFull enumerates every source entity and detects deletions
	SyncModeFull SyncMode = "full"
	// SyncModeIncremental fetches only changes after the stored watermark.
	// It cannot detect upstream deletions.
	SyncModeIncremental SyncMode = "incremental"
)

// IsValid returns true if the mode is known
func (m SyncMode) IsValid() bool {
	switch m {
	case SyncModeFull, SyncModeIncremental:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncMode
func (m SyncMode) String() string {
	return string(m)
}

// SyncRunStatus is the outcome of a reconciliation pass
type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
	SyncRunStatusCancelled SyncRunStatus = "cancelled"
)

// PartitionCounts counts the reconciled changes of a pass
type PartitionCounts struct {
	Fetched     int `json:"fetched"`
	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	Unchanged   int `json:"unchanged"`
	SoftDeleted int `json:"soft_deleted"`
	Restored    int `json:"restored"`
	Invalid     int `json:"invalid"`
	Errors      int `json:"errors"`
}

// Events returns the number of events the counted changes produced
func (c PartitionCounts) Events() int {
	return c.Inserted + c.Updated + c.SoftDeleted + c.Restored
}

// RecordError is a structured per-record failure
type RecordError struct {
	SourceID string `json:"source_id,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// SyncRun is the operational summary of one reconciliation pass.
// It is stored apart from the event log.
type SyncRun struct {
	// ID is the run identifier
	ID uuid.UUID
	// BatchID tags the raw records and events of this pass
	BatchID uuid.UUID
	// Source is the upstream system
	Source string
	// EntityType is the reconciled entity type
	EntityType string
	// Mode is full or incremental
	Mode SyncMode
	// Status is the run outcome
	Status SyncRunStatus
	// Counts holds the per-partition counts
	Counts PartitionCounts
	// Errors holds the first MaxReportedErrors errors
	Errors []RecordError
	// Watermark is the source cursor the pass started from
	Watermark string
	// HighWatermark is the source cursor reached by the pass
	HighWatermark string
	// FirstEventID and LastEventID bound the events appended by the pass
	FirstEventID int64
	LastEventID  int64
	// StartedAt and FinishedAt bound the run
	StartedAt  time.Time
	FinishedAt *time.Time
}

// NewSyncRun creates a running sync run
func NewSyncRun(source, entityType string, mode SyncMode, startedAt time.Time) *SyncRun {
	return &SyncRun{
		ID:         uuid.New(),
		BatchID:    uuid.New(),
		Source:     source,
		EntityType: entityType,
		Mode:       mode,
		Status:     SyncRunStatusRunning,
		StartedAt:  startedAt,
	}
}

// RecordFailure counts an error and keeps it if there is room
func (r *SyncRun) RecordFailure(e RecordError) {
	r.Counts.Errors++
	if len(r.Errors) < MaxReportedErrors {
		r.Errors = append(r.Errors, e)
	}
}

// NoteEvent tracks the event id range of the run
func (r *SyncRun) NoteEvent(eventID int64) {
	if r.FirstEventID == 0 || eventID < r.FirstEventID {
		r.FirstEventID = eventID
	}
	if eventID > r.LastEventID {
		r.LastEventID = eventID
	}
}

// Finish closes the run with a status
func (r *SyncRun) Finish(status SyncRunStatus, at time.Time) {
	r.Status = status
	r.FinishedAt = &at
}

// Duration returns how long the run took, or zero while running
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// SyncRunRepository stores sync run summaries
type SyncRunRepository interface {
	Save(ctx context.Context, run *SyncRun) error
	// Latest returns the most recent run of an entity type or shared.ErrNotFound
	Latest(ctx context.Context, entityType string) (*SyncRun, error)
	// ListRecent returns the most recent runs of an entity type, newest first
	ListRecent(ctx context.Context, entityType string, limit int) ([]SyncRun, error)
}

// SourceWatermarkRepository stores incremental cursors per source and entity type
type SourceWatermarkRepository interface {
	// Get returns the stored cursor, empty when none
	Get(ctx context.Context, source, entityType string) (string, error)
	Set(ctx context.Context, source, entityType, watermark string) error
}

// SyncStatus is the operational status of one entity type
type SyncStatus struct {
	EntityType string          `json:"entity_type"`
	LastRunAt  *time.Time      `json:"last_run_at,omitempty"`
	LastStatus SyncRunStatus   `json:"last_status,omitempty"`
	LastMode   SyncMode        `json:"last_mode,omitempty"`
	Counts     PartitionCounts `json:"counts"`
	Errors     []RecordError   `json:"errors"`
}
