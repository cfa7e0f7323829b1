package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Payload is an opaque structured document exactly as delivered by a source.
// No schema is assumed until normalization.
type Payload map[string]any

// Clone returns a shallow copy of the payload
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RawRecord is one source payload in the raw landing zone.
// Raw records are immutable; every sync pass lands a fresh copy.
type RawRecord struct {
	// ID is the row identifier of this landing
	ID uuid.UUID
	// Source names the upstream system (e.g. "erp")
	Source string
	// EntityType is the source entity type (e.g. "account")
	EntityType string
	// SourceID is the identifier of the record in the source system
	SourceID string
	// Payload is the unmodified source document
	Payload Payload
	// IngestedAt is when the record landed
	IngestedAt time.Time
	// BatchID identifies the sync pass that landed the record
	BatchID uuid.UUID
}

// NewRawRecord creates a raw record for the given batch
func NewRawRecord(source, entityType, sourceID string, payload Payload, batchID uuid.UUID, at time.Time) RawRecord {
	return RawRecord{
		ID:         uuid.New(),
		Source:     source,
		EntityType: entityType,
		SourceID:   sourceID,
		Payload:    payload,
		IngestedAt: at,
		BatchID:    batchID,
	}
}

// RawStore is the append-only raw landing zone
type RawStore interface {
	// Append lands records. Existing records are never touched.
	Append(ctx context.Context, records []RawRecord) error
	// ListBySource returns the landing history of one source record, oldest first
	ListBySource(ctx context.Context, source, entityType, sourceID string) ([]RawRecord, error)
	// ListByBatch returns every record landed by a sync pass
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]RawRecord, error)
}

// RawArchive keeps an out-of-band copy of each landed batch (e.g. object storage).
// Archive failures never fail a sync pass.
type RawArchive interface {
	ArchiveBatch(ctx context.Context, entityType string, batchID uuid.UUID, records []RawRecord) error
}
