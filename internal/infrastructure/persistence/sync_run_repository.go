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

// SyncRunModel is the GORM model for sync run summaries
type SyncRunModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	BatchID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Source        string    `gorm:"type:varchar(64);not null"`
	EntityType    string    `gorm:"type:varchar(64);not null;index:idx_sync_runs_type_started,priority:1"`
	Mode          string    `gorm:"type:varchar(16);not null"`
	Status        string    `gorm:"type:varchar(16);not null"`
	Counts        string    `gorm:"type:jsonb;not null"`
	Errors        string    `gorm:"type:jsonb;not null"`
	Watermark     string    `gorm:"type:varchar(255)"`
	HighWatermark string    `gorm:"type:varchar(255)"`
	FirstEventID  int64     `gorm:"not null"`
	LastEventID   int64     `gorm:"not null"`
	StartedAt     time.Time `gorm:"not null;index:idx_sync_runs_type_started,priority:2"`
	FinishedAt    *time.Time
}

// TableName returns the table name for the model
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToEntity converts the model to a domain run
func (m *SyncRunModel) ToEntity() (*integration.SyncRun, error) {
	run := &integration.SyncRun{
		ID:            m.ID,
		BatchID:       m.BatchID,
		Source:        m.Source,
		EntityType:    m.EntityType,
		Mode:          integration.SyncMode(m.Mode),
		Status:        integration.SyncRunStatus(m.Status),
		Watermark:     m.Watermark,
		HighWatermark: m.HighWatermark,
		FirstEventID:  m.FirstEventID,
		LastEventID:   m.LastEventID,
		StartedAt:     m.StartedAt.UTC(),
		FinishedAt:    m.FinishedAt,
	}
	if err := decodeJSON(m.Counts, &run.Counts); err != nil {
		return nil, err
	}
	if err := decodeJSON(m.Errors, &run.Errors); err != nil {
		return nil, err
	}
	return run, nil
}

// SyncRunModelFromEntity creates a model from a domain run
func SyncRunModelFromEntity(run *integration.SyncRun) (*SyncRunModel, error) {
	counts, err := encodeJSON(run.Counts)
	if err != nil {
		return nil, err
	}
	errs := run.Errors
	if errs == nil {
		errs = []integration.RecordError{}
	}
	encodedErrs, err := encodeJSON(errs)
	if err != nil {
		return nil, err
	}
	return &SyncRunModel{
		ID:            run.ID,
		BatchID:       run.BatchID,
		Source:        run.Source,
		EntityType:    run.EntityType,
		Mode:          string(run.Mode),
		Status:        string(run.Status),
		Counts:        counts,
		Errors:        encodedErrs,
		Watermark:     run.Watermark,
		HighWatermark: run.HighWatermark,
		FirstEventID:  run.FirstEventID,
		LastEventID:   run.LastEventID,
		StartedAt:     run.StartedAt.UTC(),
		FinishedAt:    run.FinishedAt,
	}, nil
}

// SyncRunRepository implements integration.SyncRunRepository
type SyncRunRepository struct {
	db *gorm.DB
}

// NewSyncRunRepository creates a new sync run repository
func NewSyncRunRepository(db *gorm.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Save inserts or replaces a run
func (r *SyncRunRepository) Save(ctx context.Context, run *integration.SyncRun) error {
	model, err := SyncRunModelFromEntity(run)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model).Error
}

// Latest returns the most recent run of an entity type
func (r *SyncRunRepository) Latest(ctx context.Context, entityType string) (*integration.SyncRun, error) {
	var model SyncRunModel
	err := r.db.WithContext(ctx).
		Where("entity_type = ?", entityType).
		Order("started_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity()
}

// ListRecent returns the most recent runs of an entity type, newest first
func (r *SyncRunRepository) ListRecent(ctx context.Context, entityType string, limit int) ([]integration.SyncRun, error) {
	q := r.db.WithContext(ctx).Order("started_at DESC")
	if entityType != "" {
		q = q.Where("entity_type = ?", entityType)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []SyncRunModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]integration.SyncRun, 0, len(models))
	for i := range models {
		run, err := models[i].ToEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, nil
}

var _ integration.SyncRunRepository = (*SyncRunRepository)(nil)

// SourceWatermarkModel stores the incremental cursor of a source entity type
type SourceWatermarkModel struct {
	Source     string    `gorm:"type:varchar(64);primaryKey"`
	EntityType string    `gorm:"type:varchar(64);primaryKey"`
	Watermark  string    `gorm:"type:varchar(255);not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (SourceWatermarkModel) TableName() string {
	return "source_watermarks"
}

// SourceWatermarkRepository implements integration.SourceWatermarkRepository
type SourceWatermarkRepository struct {
	db *gorm.DB
}

// NewSourceWatermarkRepository creates a new source watermark repository
func NewSourceWatermarkRepository(db *gorm.DB) *SourceWatermarkRepository {
	return &SourceWatermarkRepository{db: db}
}

// Get returns the stored cursor, empty when none
func (r *SourceWatermarkRepository) Get(ctx context.Context, source, entityType string) (string, error) {
	var model SourceWatermarkModel
	err := r.db.WithContext(ctx).
		Where("source = ? AND entity_type = ?", source, entityType).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return model.Watermark, nil
}

// Set stores the cursor
func (r *SourceWatermarkRepository) Set(ctx context.Context, source, entityType, watermark string) error {
	model := &SourceWatermarkModel{
		Source:     source,
		EntityType: entityType,
		Watermark:  watermark,
		UpdatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}, {Name: "entity_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"watermark", "updated_at"}),
	}).Create(model).Error
}

var _ integration.SourceWatermarkRepository = (*SourceWatermarkRepository)(nil)
