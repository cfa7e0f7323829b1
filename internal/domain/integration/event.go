package integration

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"github.com/google/uuid"
)

// EventType is the kind of change a domain event records
type EventType string

const (
	// EventTypeCreated records the first sighting of an entity
	EventTypeCreated EventType = "Created"
	// EventTypeUpdated records a change of normalized content
	EventTypeUpdated EventType = "Updated"
	// EventTypeSoftDeleted records an entity missing from a full sync
	EventTypeSoftDeleted EventType = "SoftDeleted"
	// EventTypeRestored records a soft-deleted entity reappearing upstream
	EventTypeRestored EventType = "Restored"
)

// IsValid returns true if the event type is known
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeCreated, EventTypeUpdated, EventTypeSoftDeleted, EventTypeRestored:
		return true
	default:
		return false
	}
}

// String returns the string representation of EventType
func (t EventType) String() string {
	return string(t)
}

// EventPayload is the change carried by a domain event.
// Created and Restored carry the full field snapshot; Updated carries an
// RFC 6902 patch from the previous field set to the new one.
type EventPayload struct {
	Fields           map[string]any   `json:"fields,omitempty"`
	Patch            json.RawMessage  `json:"patch,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status,omitempty"`
	QualityScore     float64          `json:"quality_score"`
	SourceRefs       []SourceRef      `json:"source_refs,omitempty"`
	ContentHash      string           `json:"content_hash,omitempty"`
}

// DomainEvent is one immutable entry of the event log
type DomainEvent struct {
	// EventID is assigned by the store; strictly increasing
	EventID int64
	// EventType is the kind of change
	EventType EventType
	// EntityType is the type of the changed entity
	EntityType string
	// CanonicalID identifies the changed entity
	CanonicalID uuid.UUID
	// PayloadDelta carries the change
	PayloadDelta EventPayload
	// OccurredAt is the reconciliation time of the change
	OccurredAt time.Time
	// CausationBatchID is the sync pass that produced the change
	CausationBatchID uuid.UUID
}

// EventStore is the append-only, ordered domain event log
type EventStore interface {
	// Append stores an event and returns its id. A zero EventID is assigned by
	// the store; a caller-supplied id at or below the current head fails with
	// OutOfOrderError.
	Append(ctx context.Context, event *DomainEvent) (int64, error)
	// ListAfter returns up to limit events with id greater than afterID, in id
	// order. An empty entityType lists every type.
	ListAfter(ctx context.Context, entityType string, afterID int64, limit int) ([]DomainEvent, error)
	// Head returns the highest event id written so far (0 when empty)
	Head(ctx context.Context) (int64, error)
	// TypeHead returns the highest event id of one entity type (0 when none)
	TypeHead(ctx context.Context, entityType string) (int64, error)
	// EntityTypes returns the distinct entity types present in the log, sorted
	EntityTypes(ctx context.Context) ([]string, error)
}

// Replay lazily yields every event of entityType after fromEventID, fetching
// pageSize events at a time. Events appended while iterating are picked up
// on the next page. Iteration stops at the first error.
func Replay(ctx context.Context, store EventStore, entityType string, fromEventID int64, pageSize int) iter.Seq2[DomainEvent, error] {
	if pageSize <= 0 {
		pageSize = 200
	}
	return func(yield func(DomainEvent, error) bool) {
		after := fromEventID
		for {
			if err := ctx.Err(); err != nil {
				yield(DomainEvent{}, err)
				return
			}
			page, err := store.ListAfter(ctx, entityType, after, pageSize)
			if err != nil {
				yield(DomainEvent{}, err)
				return
			}
			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
				after = ev.EventID
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}
