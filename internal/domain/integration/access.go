package integration

import (
	"time"

	"github.com/google/uuid"
)

// Field names that carry hierarchy and ownership facts
const (
	// UserEntityType is the entity type whose records are application users
	UserEntityType = "user"
	// ManagerField on a user record points at the user's manager
	ManagerField = "manager_id"
	// OwnerField on any other record points at the owning user
	OwnerField = "owner_id"
)

// HierarchyEdge is one manager to subordinate assignment
type HierarchyEdge struct {
	ManagerID     uuid.UUID `json:"manager_id"`
	SubordinateID uuid.UUID `json:"subordinate_id"`
}

// AccessMatrixEntry is the precomputed visibility of one user
type AccessMatrixEntry struct {
	UserID             uuid.UUID   `json:"user_id"`
	VisibleEntityIDs   []uuid.UUID `json:"visible_entity_ids"`
	IsManager          bool        `json:"is_manager"`
	SubordinateUserIDs []uuid.UUID `json:"subordinate_user_ids"`
	ComputedAt         time.Time   `json:"computed_at"`
}

// CanSee reports whether the entity is in the visible set
func (e *AccessMatrixEntry) CanSee(canonicalID uuid.UUID) bool {
	for _, id := range e.VisibleEntityIDs {
		if id == canonicalID {
			return true
		}
	}
	return false
}
