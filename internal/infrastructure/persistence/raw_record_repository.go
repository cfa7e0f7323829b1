package persistence

import (
	"context"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// rawInsertBatch bounds the rows of one INSERT statement
const rawInsertBatch = 500

// RawRecordModel is the GORM model of the raw landing zone
type RawRecordModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Source     string    `gorm:"type:varchar(64);not null;index:idx_raw_records_source,priority:1"`
	EntityType string    `gorm:"type:varchar(64);not null;index:idx_raw_records_source,priority:2"`
	SourceID   string    `gorm:"type:varchar(255);not null;index:idx_raw_records_source,priority:3"`
	Payload    string    `gorm:"type:jsonb;not null"`
	IngestedAt time.Time `gorm:"not null"`
	BatchID    uuid.UUID `gorm:"type:uuid;not null;index"`
}

// TableName returns the table name for the model
func (RawRecordModel) TableName() string {
	return "raw_records"
}

// ToEntity converts the model to a domain record
func (m *RawRecordModel) ToEntity() (integration.RawRecord, error) {
	var payload integration.Payload
	if err := decodeJSON(m.Payload, &payload); err != nil {
		return integration.RawRecord{}, err
	}
	return integration.RawRecord{
		ID:         m.ID,
		Source:     m.Source,
		EntityType: m.EntityType,
		SourceID:   m.SourceID,
		Payload:    payload,
		IngestedAt: m.IngestedAt.UTC(),
		BatchID:    m.BatchID,
	}, nil
}

// RawRecordModelFromEntity creates a model from a domain record
func RawRecordModelFromEntity(r integration.RawRecord) (*RawRecordModel, error) {
	payload, err := encodeJSON(r.Payload)
	if err != nil {
		return nil, err
	}
	return &RawRecordModel{
		ID:         r.ID,
		Source:     r.Source,
		EntityType: r.EntityType,
		SourceID:   r.SourceID,
		Payload:    payload,
		IngestedAt: r.IngestedAt.UTC(),
		BatchID:    r.BatchID,
	}, nil
}

// RawRecordRepository implements integration.RawStore
type RawRecordRepository struct {
	db *gorm.DB
}

// NewRawRecordRepository creates a new raw record repository
func NewRawRecordRepository(db *gorm.DB) *RawRecordRepository {
	return &RawRecordRepository{db: db}
}

// Append lands records in one transaction
func (r *RawRecordRepository) Append(ctx context.Context, records []integration.RawRecord) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]*RawRecordModel, 0, len(records))
	for _, rec := range records {
		m, err := RawRecordModelFromEntity(rec)
		if err != nil {
			return err
		}
		models = append(models, m)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(models, rawInsertBatch).Error
	})
}

// ListBySource returns the landing history of one source record, oldest first
func (r *RawRecordRepository) ListBySource(ctx context.Context, source, entityType, sourceID string) ([]integration.RawRecord, error) {
	var models []RawRecordModel
	err := r.db.WithContext(ctx).
		Where("source = ? AND entity_type = ? AND source_id = ?", source, entityType, sourceID).
		Order("ingested_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return rawRecordsFromModels(models)
}

// ListByBatch returns every record landed by a sync pass
func (r *RawRecordRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]integration.RawRecord, error) {
	var models []RawRecordModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("source_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return rawRecordsFromModels(models)
}

func rawRecordsFromModels(models []RawRecordModel) ([]integration.RawRecord, error) {
	out := make([]integration.RawRecord, 0, len(models))
	for i := range models {
		rec, err := models[i].ToEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ integration.RawStore = (*RawRecordRepository)(nil)
