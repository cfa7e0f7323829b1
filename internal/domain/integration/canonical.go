package integration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// canonicalNamespace seeds the name-based canonical identifiers
var canonicalNamespace = uuid.MustParse("6f1f3c8e-52a4-4b4e-9d0f-8b2f4a7c1e55")

// OverflowField holds source keys that no mapping declares
const OverflowField = "_overflow"

// ValidationStatus is the outcome of required-field validation
type ValidationStatus string

const (
	// ValidationStatusValid marks a record with every required field present
	ValidationStatusValid ValidationStatus = "valid"
	// ValidationStatusInvalid marks a record missing at least one required field
	ValidationStatusInvalid ValidationStatus = "invalid"
)

// IsValid returns true if the status is a known value
func (s ValidationStatus) IsValid() bool {
	switch s {
	case ValidationStatusValid, ValidationStatusInvalid:
		return true
	default:
		return false
	}
}

// String returns the string representation of ValidationStatus
func (s ValidationStatus) String() string {
	return string(s)
}

// SourceRef points back at the source record of a canonical entity
type SourceRef struct {
	Source   string `json:"source"`
	SourceID string `json:"source_id"`
}

// DeriveCanonicalID returns the deterministic canonical id of a source record
func DeriveCanonicalID(source, entityType, sourceID string) uuid.UUID {
	return uuid.NewSHA1(canonicalNamespace, []byte(source+"|"+entityType+"|"+sourceID))
}

// ContentHash fingerprints the normalized content of an entity.
// encoding/json writes map keys in sorted order, so equal content hashes equal.
func ContentHash(fields map[string]any, status ValidationStatus) (string, error) {
	doc := struct {
		Fields map[string]any   `json:"fields"`
		Status ValidationStatus `json:"status"`
	}{Fields: fields, Status: status}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalEntity is the normalized, source-agnostic form of one business object
type CanonicalEntity struct {
	// CanonicalID is derived from source, entity type and source id
	CanonicalID uuid.UUID
	// EntityType is the entity type (e.g. "account", "user")
	EntityType string
	// NormalizedFields holds typed field values keyed by internal field name
	NormalizedFields map[string]any
	// SourceRefs lists the source records this entity was built from
	SourceRefs []SourceRef
	// ValidationStatus is invalid when a required field is missing
	ValidationStatus ValidationStatus
	// QualityScore is the fraction of required fields present (0.0-1.0)
	QualityScore float64
	// ContentHash fingerprints NormalizedFields and ValidationStatus
	ContentHash string
	// FirstSeenAt is when the entity was first reconciled
	FirstSeenAt time.Time
	// LastUpdatedAt is when the entity last changed
	LastUpdatedAt time.Time
	// IsActive is false once the entity disappeared from a full sync
	IsActive bool
}

// Field returns a normalized field value
func (e *CanonicalEntity) Field(name string) (any, bool) {
	v, ok := e.NormalizedFields[name]
	return v, ok
}

// CanonicalFilter narrows canonical entity listings
type CanonicalFilter struct {
	EntityType      string
	IncludeInactive bool
	Offset          int
	Limit           int
	// SortBy is one of canonical_id, entity_type, quality_score,
	// first_seen_at, last_updated_at; anything else sorts by canonical_id
	SortBy string
	// SortOrder is ASC (default) or DESC
	SortOrder string
}

// CanonicalRepository reads canonical entity state.
// Writes go through Ledger so that canonical rows and events commit together.
type CanonicalRepository interface {
	// FindByID returns the entity or shared.ErrNotFound
	FindByID(ctx context.Context, canonicalID uuid.UUID) (*CanonicalEntity, error)
	// ListByType returns every entity of a type, active or not, ordered by canonical id
	ListByType(ctx context.Context, entityType string) ([]CanonicalEntity, error)
	// List returns a page of entities matching the filter
	List(ctx context.Context, filter CanonicalFilter) ([]CanonicalEntity, int64, error)
}
