package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncJobModel is the GORM model for sync jobs
type SyncJobModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	EntityTypes string    `gorm:"type:jsonb;not null"`
	Mode        string    `gorm:"type:varchar(16);not null"`
	Status      string    `gorm:"type:varchar(16);not null;index"`
	Summary     string    `gorm:"type:jsonb;not null"`
	Error       string    `gorm:"type:text"`
	RetryCount  int       `gorm:"not null"`
	MaxRetries  int       `gorm:"not null"`
	NextRetryAt *time.Time
	CreatedAt   time.Time `gorm:"not null;index"`
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// TableName returns the table name for the model
func (SyncJobModel) TableName() string {
	return "sync_jobs"
}

// ToEntity converts the model to a domain job
func (m *SyncJobModel) ToEntity() (*integration.SyncJob, error) {
	job := &integration.SyncJob{
		ID:          m.ID,
		Mode:        integration.SyncMode(m.Mode),
		Status:      integration.JobStatus(m.Status),
		Error:       m.Error,
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		NextRetryAt: m.NextRetryAt,
		CreatedAt:   m.CreatedAt.UTC(),
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
	if err := decodeJSON(m.EntityTypes, &job.EntityTypes); err != nil {
		return nil, err
	}
	if err := decodeJSON(m.Summary, &job.Summary); err != nil {
		return nil, err
	}
	if job.Summary == nil {
		job.Summary = make(map[string]integration.EntityTypeSummary)
	}
	return job, nil
}

// SyncJobModelFromEntity creates a model from a domain job
func SyncJobModelFromEntity(job *integration.SyncJob) (*SyncJobModel, error) {
	types, err := encodeJSON(job.EntityTypes)
	if err != nil {
		return nil, err
	}
	summary, err := encodeJSON(job.Summary)
	if err != nil {
		return nil, err
	}
	return &SyncJobModel{
		ID:          job.ID,
		EntityTypes: types,
		Mode:        string(job.Mode),
		Status:      string(job.Status),
		Summary:     summary,
		Error:       job.Error,
		RetryCount:  job.RetryCount,
		MaxRetries:  job.MaxRetries,
		NextRetryAt: job.NextRetryAt,
		CreatedAt:   job.CreatedAt.UTC(),
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// SyncJobRepository implements integration.SyncJobRepository
type SyncJobRepository struct {
	db *gorm.DB
}

// NewSyncJobRepository creates a new sync job repository
func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Save inserts or replaces a job
func (r *SyncJobRepository) Save(ctx context.Context, job *integration.SyncJob) error {
	model, err := SyncJobModelFromEntity(job)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model).Error
}

// FindByID retrieves a job by its id
func (r *SyncJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error) {
	var model SyncJobModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity()
}

// ListRecent returns the newest jobs first
func (r *SyncJobRepository) ListRecent(ctx context.Context, limit int) ([]integration.SyncJob, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []SyncJobModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]integration.SyncJob, 0, len(models))
	for i := range models {
		job, err := models[i].ToEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, nil
}

var _ integration.SyncJobRepository = (*SyncJobRepository)(nil)
