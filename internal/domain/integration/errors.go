package integration

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error codes surfaced on sync summaries
const (
	CodeConnectorUnavailable = "CONNECTOR_UNAVAILABLE"
	CodeNormalization        = "NORMALIZATION_ERROR"
	CodeOutOfOrder           = "OUT_OF_ORDER"
	CodeHierarchyCycle       = "HIERARCHY_CYCLE"
	CodeProjectionReplay     = "PROJECTION_REPLAY_ERROR"
)

// ConnectorUnavailableError means the upstream source could not be reached.
// The pass is aborted before any canonical write.
type ConnectorUnavailableError struct {
	Source     string
	EntityType string
	// Retryable is false for failures a retry cannot fix (e.g. bad credentials)
	Retryable bool
	Err       error
}

func (e *ConnectorUnavailableError) Error() string {
	return fmt.Sprintf("connector %s unavailable for %s: %v", e.Source, e.EntityType, e.Err)
}

func (e *ConnectorUnavailableError) Unwrap() error { return e.Err }

// FieldIssue is a single field-level normalization problem
type FieldIssue struct {
	Field  string
	Reason string
}

// NormalizationError reports a record that could not be fully normalized.
// When Fatal is false the entity was still produced, flagged where needed.
type NormalizationError struct {
	EntityType string
	SourceID   string
	Issues     []FieldIssue
	Fatal      bool
}

func (e *NormalizationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		parts = append(parts, i.Field+": "+i.Reason)
	}
	return fmt.Sprintf("normalize %s/%s: %s", e.EntityType, e.SourceID, strings.Join(parts, "; "))
}

// OutOfOrderError means an append would break event id ordering.
// It halts the pipeline of the entity type.
type OutOfOrderError struct {
	EntityType string
	Supplied   int64
	Head       int64
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("event %d for %s is not after head %d", e.Supplied, e.EntityType, e.Head)
}

// HierarchyCycleError means a user's subordinate traversal looped or ran
// past the depth bound. The user's access matrix entry is left untouched.
type HierarchyCycleError struct {
	UserID        uuid.UUID
	Path          []uuid.UUID
	DepthExceeded bool
}

func (e *HierarchyCycleError) Error() string {
	if e.DepthExceeded {
		return fmt.Sprintf("hierarchy below %s exceeds max depth", e.UserID)
	}
	ids := make([]string, 0, len(e.Path))
	for _, id := range e.Path {
		ids = append(ids, id.String())
	}
	return fmt.Sprintf("hierarchy cycle below %s: %s", e.UserID, strings.Join(ids, " -> "))
}

// ProjectionReplayError means a projection failed to apply an event.
// Only that projection halts; it stays at its last good watermark.
type ProjectionReplayError struct {
	Projection string
	EventID    int64
	EntityType string
	Err        error
}

func (e *ProjectionReplayError) Error() string {
	return fmt.Sprintf("projection %s failed on event %d (%s): %v", e.Projection, e.EventID, e.EntityType, e.Err)
}

func (e *ProjectionReplayError) Unwrap() error { return e.Err }
