package integration

import (
	"time"

	"github.com/erp/crmsync/internal/application/projection"
	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Entity DTOs
// ---------------------------------------------------------------------------

// EntityResponse represents a canonical entity in API responses
type EntityResponse struct {
	CanonicalID      uuid.UUID                    `json:"canonical_id"`
	EntityType       string                       `json:"entity_type"`
	Fields           map[string]any               `json:"fields"`
	SourceRefs       []integration.SourceRef      `json:"source_refs"`
	ValidationStatus integration.ValidationStatus `json:"validation_status"`
	QualityScore     float64                      `json:"quality_score"`
	FirstSeenAt      time.Time                    `json:"first_seen_at"`
	LastUpdatedAt    time.Time                    `json:"last_updated_at"`
	IsActive         bool                         `json:"is_active"`
	LastEventID      int64                        `json:"last_event_id"`
}

// VisibleEntitiesFilter narrows ListVisibleEntities
type VisibleEntitiesFilter struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
	// Fields keeps entities whose field renders equal to the value
	Fields map[string]string `form:"-"`
}

// AccessEntryResponse represents a user's access matrix entry
type AccessEntryResponse struct {
	UserID             uuid.UUID   `json:"user_id"`
	IsManager          bool        `json:"is_manager"`
	SubordinateUserIDs []uuid.UUID `json:"subordinate_user_ids"`
	VisibleEntityIDs   []uuid.UUID `json:"visible_entity_ids"`
	VisibleCount       int         `json:"visible_count"`
	ComputedAt         time.Time   `json:"computed_at"`
}

// ---------------------------------------------------------------------------
// Sync DTOs
// ---------------------------------------------------------------------------

// TriggerSyncRequest represents a request to start a sync job
type TriggerSyncRequest struct {
	EntityTypes []string `json:"entity_types" binding:"omitempty,dive,entity_type"`
	Mode        string   `json:"mode" binding:"omitempty,sync_mode"`
}

// SyncJobResponse represents a sync job in API responses
type SyncJobResponse struct {
	ID          uuid.UUID                                `json:"id"`
	EntityTypes []string                                 `json:"entity_types"`
	Mode        integration.SyncMode                     `json:"mode"`
	Status      integration.JobStatus                    `json:"status"`
	Summary     map[string]integration.EntityTypeSummary `json:"summary"`
	Error       string                                   `json:"error,omitempty"`
	RetryCount  int                                      `json:"retry_count"`
	NextRetryAt *time.Time                               `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time                                `json:"created_at"`
	StartedAt   *time.Time                               `json:"started_at,omitempty"`
	CompletedAt *time.Time                               `json:"completed_at,omitempty"`
}

// SyncStatusResponse is the operational status of one entity type
type SyncStatusResponse struct {
	integration.SyncStatus
	// Halted carries the ordering violation that stopped the entity type
	Halted string `json:"halted,omitempty"`
}

// ---------------------------------------------------------------------------
// Conversion functions
// ---------------------------------------------------------------------------

// ToEntityResponse converts a serving row to a response DTO
func ToEntityResponse(e *projection.ServingEntity) EntityResponse {
	return EntityResponse{
		CanonicalID:      e.CanonicalID,
		EntityType:       e.EntityType,
		Fields:           e.Fields,
		SourceRefs:       e.SourceRefs,
		ValidationStatus: e.ValidationStatus,
		QualityScore:     e.QualityScore,
		FirstSeenAt:      e.FirstSeenAt,
		LastUpdatedAt:    e.LastUpdatedAt,
		IsActive:         e.IsActive,
		LastEventID:      e.LastEventID,
	}
}

// ToAccessEntryResponse converts a matrix entry to a response DTO
func ToAccessEntryResponse(e *integration.AccessMatrixEntry) AccessEntryResponse {
	return AccessEntryResponse{
		UserID:             e.UserID,
		IsManager:          e.IsManager,
		SubordinateUserIDs: e.SubordinateUserIDs,
		VisibleEntityIDs:   e.VisibleEntityIDs,
		VisibleCount:       len(e.VisibleEntityIDs),
		ComputedAt:         e.ComputedAt,
	}
}

// ToSyncJobResponse converts a domain SyncJob to a response DTO
func ToSyncJobResponse(j *integration.SyncJob) SyncJobResponse {
	return SyncJobResponse{
		ID:          j.ID,
		EntityTypes: j.EntityTypes,
		Mode:        j.Mode,
		Status:      j.Status,
		Summary:     j.Summary,
		Error:       j.Error,
		RetryCount:  j.RetryCount,
		NextRetryAt: j.NextRetryAt,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
