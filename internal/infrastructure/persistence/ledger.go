package persistence

import (
	"context"
	"fmt"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/infrastructure/event"
	"gorm.io/gorm"
)

// GormLedger commits canonical rows and their events in one database transaction
type GormLedger struct {
	db     *gorm.DB
	events *event.GormEventStore
}

// NewGormLedger creates a ledger over db. events must use the same database.
func NewGormLedger(db *gorm.DB, events *event.GormEventStore) *GormLedger {
	return &GormLedger{db: db, events: events}
}

// Commit upserts every entity and appends every event atomically
func (l *GormLedger) Commit(ctx context.Context, changes []integration.Change) error {
	if len(changes) == 0 {
		return nil
	}
	entities := make([]*integration.CanonicalEntity, len(changes))
	events := make([]*integration.DomainEvent, len(changes))
	for i := range changes {
		entities[i] = &changes[i].Entity
		events[i] = &changes[i].Event
	}

	// ids are assigned on copies so a rolled back commit leaves callers untouched
	pending := make([]integration.DomainEvent, len(events))
	ptrs := make([]*integration.DomainEvent, len(events))
	for i, ev := range events {
		pending[i] = *ev
		ptrs[i] = &pending[i]
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertCanonical(tx, entities); err != nil {
			return fmt.Errorf("upsert canonical entities: %w", err)
		}
		return l.events.AppendWithin(tx, ptrs)
	})
	if err != nil {
		return err
	}
	for i, ev := range events {
		ev.EventID = pending[i].EventID
	}
	return nil
}

var _ integration.Ledger = (*GormLedger)(nil)
