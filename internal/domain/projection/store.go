// Package projection defines the storage port of materialized views.
//
// Every projection owns a keyed state space and one applied watermark per
// entity type. State is only ever written together with a watermark advance,
// so a view never reflects half of an event batch.
package projection

import (
	"context"
	"time"
)

// Write is one pending state mutation
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// KV is one stored state entry
type KV struct {
	Key   string
	Value []byte
}

// Status is the health of one projection
type Status struct {
	Name          string           `json:"name"`
	Halted        bool             `json:"halted"`
	FailedEventID int64            `json:"failed_event_id,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	Watermarks    map[string]int64 `json:"watermarks"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Store persists projection state, watermarks and halt flags
type Store interface {
	// Get returns one state value
	Get(ctx context.Context, projection, key string) ([]byte, bool, error)
	// GetMany returns the values of the keys that exist
	GetMany(ctx context.Context, projection string, keys []string) (map[string][]byte, error)
	// Scan returns every entry whose key starts with prefix, ordered by key
	Scan(ctx context.Context, projection, prefix string) ([]KV, error)
	// Watermark returns the last applied event id for an entity type (0 if none)
	Watermark(ctx context.Context, projection, entityType string) (int64, error)
	// Commit applies writes and moves the watermark in one atomic step
	Commit(ctx context.Context, projection, entityType string, watermark int64, writes []Write) error
	// Halt marks the projection stopped on a failing event
	Halt(ctx context.Context, projection string, eventID int64, reason string) error
	// ClearHalt removes the halt flag; watermarks are kept
	ClearHalt(ctx context.Context, projection string) error
	// Status reports halt state and watermarks
	Status(ctx context.Context, projection string) (*Status, error)
	// Reset drops all state, watermarks and halt flags of a projection
	Reset(ctx context.Context, projection string) error
}
