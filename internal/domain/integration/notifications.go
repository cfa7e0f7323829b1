package integration

import (
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/google/uuid"
)

// TopicSyncPassCompleted is raised after a reconciliation pass committed events
const TopicSyncPassCompleted = "sync.pass_completed"

// SyncPassCompleted tells downstream consumers that new events may be available
type SyncPassCompleted struct {
	shared.BaseNotification
	RunID       uuid.UUID     `json:"run_id"`
	EntityType  string        `json:"entity_type"`
	Status      SyncRunStatus `json:"status"`
	LastEventID int64         `json:"last_event_id"`
}

// NewSyncPassCompleted creates the notification for a finished run
func NewSyncPassCompleted(run *SyncRun) *SyncPassCompleted {
	return &SyncPassCompleted{
		BaseNotification: shared.NewBaseNotification(TopicSyncPassCompleted),
		RunID:            run.ID,
		EntityType:       run.EntityType,
		Status:           run.Status,
		LastEventID:      run.LastEventID,
	}
}
