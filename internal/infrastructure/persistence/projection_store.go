package persistence

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/erp/crmsync/internal/domain/projection"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProjectionStateModel is one key of a projection's materialized state
type ProjectionStateModel struct {
	Projection string `gorm:"type:varchar(64);primaryKey"`
	StateKey   string `gorm:"type:varchar(255);primaryKey"`
	Value      []byte `gorm:"not null"`
}

// TableName returns the table name for the model
func (ProjectionStateModel) TableName() string {
	return "projection_states"
}

// ProjectionWatermarkModel is the last applied event id per projection and entity type
type ProjectionWatermarkModel struct {
	Projection string    `gorm:"type:varchar(64);primaryKey"`
	EntityType string    `gorm:"type:varchar(64);primaryKey"`
	EventID    int64     `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (ProjectionWatermarkModel) TableName() string {
	return "projection_watermarks"
}

// ProjectionStatusModel records a halted projection
type ProjectionStatusModel struct {
	Projection    string    `gorm:"type:varchar(64);primaryKey"`
	Halted        bool      `gorm:"not null"`
	FailedEventID int64     `gorm:"not null"`
	LastError     string    `gorm:"type:text"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (ProjectionStatusModel) TableName() string {
	return "projection_status"
}

// keyBatch bounds the keys bound into one IN list, well under the bind
// variable limits of sqlite and postgres
const keyBatch = 500

// ProjectionStore implements projection.Store on GORM
type ProjectionStore struct {
	db *gorm.DB
}

// NewProjectionStore creates a new projection store
func NewProjectionStore(db *gorm.DB) *ProjectionStore {
	return &ProjectionStore{db: db}
}

// Get returns one state value
func (s *ProjectionStore) Get(ctx context.Context, name, key string) ([]byte, bool, error) {
	var model ProjectionStateModel
	err := s.db.WithContext(ctx).
		Where("projection = ? AND state_key = ?", name, key).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return model.Value, true, nil
}

// GetMany returns the values of the keys that exist
func (s *ProjectionStore) GetMany(ctx context.Context, name string, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	for chunk := range slices.Chunk(keys, keyBatch) {
		var models []ProjectionStateModel
		err := s.db.WithContext(ctx).
			Where("projection = ? AND state_key IN ?", name, chunk).
			Find(&models).Error
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			out[m.StateKey] = m.Value
		}
	}
	return out, nil
}

// Scan returns every entry whose key starts with prefix, ordered by key
func (s *ProjectionStore) Scan(ctx context.Context, name, prefix string) ([]projection.KV, error) {
	var models []ProjectionStateModel
	err := s.db.WithContext(ctx).
		Where("projection = ? AND state_key LIKE ? ESCAPE '!'", name, escapeLike(prefix)+"%").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]projection.KV, 0, len(models))
	for _, m := range models {
		// LIKE is case-insensitive on sqlite
		if !strings.HasPrefix(m.StateKey, prefix) {
			continue
		}
		out = append(out, projection.KV{Key: m.StateKey, Value: m.Value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Watermark returns the last applied event id for an entity type
func (s *ProjectionStore) Watermark(ctx context.Context, name, entityType string) (int64, error) {
	var model ProjectionWatermarkModel
	err := s.db.WithContext(ctx).
		Where("projection = ? AND entity_type = ?", name, entityType).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return model.EventID, nil
}

// Commit applies writes and moves the watermark in one transaction
func (s *ProjectionStore) Commit(ctx context.Context, name, entityType string, watermark int64, writes []projection.Write) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var deletes []string
		upserts := make([]*ProjectionStateModel, 0, len(writes))
		for _, w := range writes {
			if w.Delete {
				deletes = append(deletes, w.Key)
				continue
			}
			upserts = append(upserts, &ProjectionStateModel{Projection: name, StateKey: w.Key, Value: w.Value})
		}
		for chunk := range slices.Chunk(deletes, keyBatch) {
			err := tx.Where("projection = ? AND state_key IN ?", name, chunk).
				Delete(&ProjectionStateModel{}).Error
			if err != nil {
				return err
			}
		}
		if len(upserts) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "projection"}, {Name: "state_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value"}),
			}).CreateInBatches(upserts, rawInsertBatch).Error
			if err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "projection"}, {Name: "entity_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"event_id", "updated_at"}),
		}).Create(&ProjectionWatermarkModel{
			Projection: name,
			EntityType: entityType,
			EventID:    watermark,
			UpdatedAt:  time.Now().UTC(),
		}).Error
	})
}

// Halt marks the projection stopped on a failing event
func (s *ProjectionStore) Halt(ctx context.Context, name string, eventID int64, reason string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "projection"}},
		DoUpdates: clause.AssignmentColumns([]string{"halted", "failed_event_id", "last_error", "updated_at"}),
	}).Create(&ProjectionStatusModel{
		Projection:    name,
		Halted:        true,
		FailedEventID: eventID,
		LastError:     reason,
		UpdatedAt:     time.Now().UTC(),
	}).Error
}

// ClearHalt removes the halt flag; watermarks are kept
func (s *ProjectionStore) ClearHalt(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).
		Where("projection = ?", name).
		Delete(&ProjectionStatusModel{}).Error
}

// Status reports halt state and watermarks
func (s *ProjectionStore) Status(ctx context.Context, name string) (*projection.Status, error) {
	st := &projection.Status{Name: name, Watermarks: make(map[string]int64)}

	var status ProjectionStatusModel
	err := s.db.WithContext(ctx).Where("projection = ?", name).First(&status).Error
	switch {
	case err == nil:
		st.Halted = status.Halted
		st.FailedEventID = status.FailedEventID
		st.LastError = status.LastError
		st.UpdatedAt = status.UpdatedAt.UTC()
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	var marks []ProjectionWatermarkModel
	if err := s.db.WithContext(ctx).Where("projection = ?", name).Find(&marks).Error; err != nil {
		return nil, err
	}
	for _, m := range marks {
		st.Watermarks[m.EntityType] = m.EventID
		if m.UpdatedAt.After(st.UpdatedAt) {
			st.UpdatedAt = m.UpdatedAt.UTC()
		}
	}
	return st, nil
}

// Reset drops all state, watermarks and halt flags of a projection
func (s *ProjectionStore) Reset(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&ProjectionStateModel{}, &ProjectionWatermarkModel{}, &ProjectionStatusModel{}} {
			if err := tx.Where("projection = ?", name).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

var _ projection.Store = (*ProjectionStore)(nil)
