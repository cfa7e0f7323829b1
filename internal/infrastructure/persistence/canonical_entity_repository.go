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

// CanonicalEntityModel is the GORM model of canonical entity state
type CanonicalEntityModel struct {
	CanonicalID      uuid.UUID `gorm:"column:canonical_id;type:uuid;primaryKey"`
	EntityType       string    `gorm:"type:varchar(64);not null;index:idx_canonical_type_active,priority:1"`
	NormalizedFields string    `gorm:"type:jsonb;not null"`
	SourceRefs       string    `gorm:"type:jsonb;not null"`
	ValidationStatus string    `gorm:"type:varchar(16);not null"`
	QualityScore     float64   `gorm:"not null"`
	ContentHash      string    `gorm:"type:varchar(64);not null"`
	FirstSeenAt      time.Time `gorm:"not null"`
	LastUpdatedAt    time.Time `gorm:"not null"`
	IsActive         bool      `gorm:"not null;index:idx_canonical_type_active,priority:2"`
}

// TableName returns the table name for the model
func (CanonicalEntityModel) TableName() string {
	return "canonical_entities"
}

// ToEntity converts the model to a domain entity
func (m *CanonicalEntityModel) ToEntity() (*integration.CanonicalEntity, error) {
	e := &integration.CanonicalEntity{
		CanonicalID:      m.CanonicalID,
		EntityType:       m.EntityType,
		ValidationStatus: integration.ValidationStatus(m.ValidationStatus),
		QualityScore:     m.QualityScore,
		ContentHash:      m.ContentHash,
		FirstSeenAt:      m.FirstSeenAt.UTC(),
		LastUpdatedAt:    m.LastUpdatedAt.UTC(),
		IsActive:         m.IsActive,
	}
	if err := decodeJSON(m.NormalizedFields, &e.NormalizedFields); err != nil {
		return nil, err
	}
	if err := decodeJSON(m.SourceRefs, &e.SourceRefs); err != nil {
		return nil, err
	}
	return e, nil
}

// CanonicalEntityModelFromEntity creates a model from a domain entity
func CanonicalEntityModelFromEntity(e *integration.CanonicalEntity) (*CanonicalEntityModel, error) {
	fields, err := encodeJSON(e.NormalizedFields)
	if err != nil {
		return nil, err
	}
	refs, err := encodeJSON(e.SourceRefs)
	if err != nil {
		return nil, err
	}
	return &CanonicalEntityModel{
		CanonicalID:      e.CanonicalID,
		EntityType:       e.EntityType,
		NormalizedFields: fields,
		SourceRefs:       refs,
		ValidationStatus: string(e.ValidationStatus),
		QualityScore:     e.QualityScore,
		ContentHash:      e.ContentHash,
		FirstSeenAt:      e.FirstSeenAt.UTC(),
		LastUpdatedAt:    e.LastUpdatedAt.UTC(),
		IsActive:         e.IsActive,
	}, nil
}

// CanonicalEntityRepository implements integration.CanonicalRepository
type CanonicalEntityRepository struct {
	db *gorm.DB
}

// NewCanonicalEntityRepository creates a new canonical entity repository
func NewCanonicalEntityRepository(db *gorm.DB) *CanonicalEntityRepository {
	return &CanonicalEntityRepository{db: db}
}

// FindByID retrieves a canonical entity by its id
func (r *CanonicalEntityRepository) FindByID(ctx context.Context, canonicalID uuid.UUID) (*integration.CanonicalEntity, error) {
	var model CanonicalEntityModel
	if err := r.db.WithContext(ctx).First(&model, "canonical_id = ?", canonicalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity()
}

// ListByType returns every entity of a type ordered by canonical id
func (r *CanonicalEntityRepository) ListByType(ctx context.Context, entityType string) ([]integration.CanonicalEntity, error) {
	var models []CanonicalEntityModel
	err := r.db.WithContext(ctx).
		Where("entity_type = ?", entityType).
		Order("canonical_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return canonicalFromModels(models)
}

// List returns a page of entities and the total match count
func (r *CanonicalEntityRepository) List(ctx context.Context, filter integration.CanonicalFilter) ([]integration.CanonicalEntity, int64, error) {
	q := r.db.WithContext(ctx).Model(&CanonicalEntityModel{})
	if filter.EntityType != "" {
		q = q.Where("entity_type = ?", filter.EntityType)
	}
	if !filter.IncludeInactive {
		q = q.Where("is_active = ?", true)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	field := ValidateSortField(filter.SortBy, CanonicalSortFields, "canonical_id")
	dir := ValidateSortOrder(filter.SortOrder, "ASC")
	q = q.Order(orderClause(field, dir, "canonical_id")).Offset(filter.Offset)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var models []CanonicalEntityModel
	if err := q.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out, err := canonicalFromModels(models)
	return out, total, err
}

// upsertCanonical writes entities inside tx, replacing existing rows
func upsertCanonical(tx *gorm.DB, entities []*integration.CanonicalEntity) error {
	if len(entities) == 0 {
		return nil
	}
	models := make([]*CanonicalEntityModel, 0, len(entities))
	for _, e := range entities {
		m, err := CanonicalEntityModelFromEntity(e)
		if err != nil {
			return err
		}
		models = append(models, m)
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "canonical_id"}},
		UpdateAll: true,
	}).CreateInBatches(models, rawInsertBatch).Error
}

func canonicalFromModels(models []CanonicalEntityModel) ([]integration.CanonicalEntity, error) {
	out := make([]integration.CanonicalEntity, 0, len(models))
	for i := range models {
		e, err := models[i].ToEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

var _ integration.CanonicalRepository = (*CanonicalEntityRepository)(nil)
