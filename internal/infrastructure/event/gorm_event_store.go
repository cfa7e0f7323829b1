package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// eventLogLockKey is the advisory lock serializing appends on PostgreSQL
const eventLogLockKey int64 = 0x45524c4f47 // "ERLOG"

// DomainEventModel is the persistence model of the event log
type DomainEventModel struct {
	EventID          int64     `gorm:"column:event_id;primaryKey;autoIncrement:false"`
	EventType        string    `gorm:"column:event_type;type:varchar(32);not null"`
	EntityType       string    `gorm:"column:entity_type;type:varchar(64);not null;index:idx_domain_events_type_id,priority:1"`
	CanonicalID      uuid.UUID `gorm:"column:canonical_id;type:uuid;not null;index"`
	Payload          string    `gorm:"column:payload;type:jsonb;not null"`
	OccurredAt       time.Time `gorm:"column:occurred_at;not null"`
	CausationBatchID uuid.UUID `gorm:"column:causation_batch_id;type:uuid;not null"`
}

// TableName returns the table name for GORM
func (DomainEventModel) TableName() string {
	return "domain_events"
}

// ToDomain converts the model to a domain event
func (m *DomainEventModel) ToDomain() (integration.DomainEvent, error) {
	payload, err := DecodePayload([]byte(m.Payload))
	if err != nil {
		return integration.DomainEvent{}, fmt.Errorf("event %d: %w", m.EventID, err)
	}
	return integration.DomainEvent{
		EventID:          m.EventID,
		EventType:        integration.EventType(m.EventType),
		EntityType:       m.EntityType,
		CanonicalID:      m.CanonicalID,
		PayloadDelta:     payload,
		OccurredAt:       m.OccurredAt.UTC(),
		CausationBatchID: m.CausationBatchID,
	}, nil
}

// DomainEventModelFrom converts a domain event to its model
func DomainEventModelFrom(e *integration.DomainEvent) (*DomainEventModel, error) {
	payload, err := json.Marshal(e.PayloadDelta)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &DomainEventModel{
		EventID:          e.EventID,
		EventType:        string(e.EventType),
		EntityType:       e.EntityType,
		CanonicalID:      e.CanonicalID,
		Payload:          string(payload),
		OccurredAt:       e.OccurredAt.UTC(),
		CausationBatchID: e.CausationBatchID,
	}, nil
}

// DecodePayload decodes a stored payload, keeping numbers exact
func DecodePayload(data []byte) (integration.EventPayload, error) {
	var p integration.EventPayload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// GormEventStore implements EventStore using GORM
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GORM-based event store
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// Append stores one event in its own transaction
func (s *GormEventStore) Append(ctx context.Context, event *integration.DomainEvent) (int64, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.AppendWithin(tx, []*integration.DomainEvent{event})
	})
	if err != nil {
		return 0, err
	}
	return event.EventID, nil
}

// AppendWithin appends events inside the caller's transaction. Ids are
// assigned from the current head under an exclusive lock, so ids are
// committed in order and readers never skip over a later-committed id.
func (s *GormEventStore) AppendWithin(tx *gorm.DB, events []*integration.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	if tx.Dialector.Name() == "postgres" {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", eventLogLockKey).Error; err != nil {
			return fmt.Errorf("lock event log: %w", err)
		}
	}

	var head int64
	if err := tx.Raw("SELECT COALESCE(MAX(event_id), 0) FROM domain_events").Scan(&head).Error; err != nil {
		return fmt.Errorf("read event head: %w", err)
	}

	next := head
	models := make([]*DomainEventModel, 0, len(events))
	ids := make([]int64, len(events))
	for i, ev := range events {
		if ev.EventID == 0 {
			next++
			ids[i] = next
		} else {
			if ev.EventID <= next {
				return &integration.OutOfOrderError{EntityType: ev.EntityType, Supplied: ev.EventID, Head: next}
			}
			next = ev.EventID
			ids[i] = next
		}
		withID := *ev
		withID.EventID = ids[i]
		m, err := DomainEventModelFrom(&withID)
		if err != nil {
			return err
		}
		models = append(models, m)
	}

	if err := tx.Create(&models).Error; err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	for i, ev := range events {
		ev.EventID = ids[i]
	}
	return nil
}

// ListAfter returns up to limit events after afterID in id order
func (s *GormEventStore) ListAfter(ctx context.Context, entityType string, afterID int64, limit int) ([]integration.DomainEvent, error) {
	q := s.db.WithContext(ctx).Where("event_id > ?", afterID)
	if entityType != "" {
		q = q.Where("entity_type = ?", entityType)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []DomainEventModel
	if err := q.Order("event_id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]integration.DomainEvent, 0, len(models))
	for i := range models {
		ev, err := models[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Head returns the highest event id
func (s *GormEventStore) Head(ctx context.Context) (int64, error) {
	var head int64
	err := s.db.WithContext(ctx).Raw("SELECT COALESCE(MAX(event_id), 0) FROM domain_events").Scan(&head).Error
	return head, err
}

// TypeHead returns the highest event id of one entity type
func (s *GormEventStore) TypeHead(ctx context.Context, entityType string) (int64, error) {
	var head int64
	err := s.db.WithContext(ctx).Model(&DomainEventModel{}).
		Where("entity_type = ?", entityType).
		Select("COALESCE(MAX(event_id), 0)").
		Scan(&head).Error
	return head, err
}

// EntityTypes returns the entity types present in the log
func (s *GormEventStore) EntityTypes(ctx context.Context) ([]string, error) {
	var types []string
	err := s.db.WithContext(ctx).Model(&DomainEventModel{}).
		Distinct("entity_type").
		Order("entity_type").
		Pluck("entity_type", &types).Error
	return types, err
}

var _ integration.EventStore = (*GormEventStore)(nil)
