package projection

import (
	"fmt"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/google/uuid"
)

// ProfileName names the user profile view
const ProfileName = "profile"

const profilePrefix = "profile:"

// profile fields read from user records
const (
	displayNameField = "display_name"
	emailField       = "email"
	titleField       = "title"
)

// UserProfile is the identity view of one user
type UserProfile struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Title       string    `json:"title,omitempty"`
	ManagerID   string    `json:"manager_id,omitempty"`
	Active      bool      `json:"active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfileProjection derives user profiles from user events
type ProfileProjection struct{}

// NewProfileProjection creates the profile projection
func NewProfileProjection() *ProfileProjection {
	return &ProfileProjection{}
}

// Name returns the projection name
func (*ProfileProjection) Name() string { return ProfileName }

// Handles accepts user events only
func (*ProfileProjection) Handles(entityType string) bool {
	return entityType == integration.UserEntityType
}

// Apply folds one user event into the profile
func (*ProfileProjection) Apply(tx *Tx, ev integration.DomainEvent) error {
	key := profilePrefix + ev.CanonicalID.String()
	var prof UserProfile
	found, err := tx.GetJSON(key, &prof)
	if err != nil {
		return err
	}
	at := ev.OccurredAt.UTC()

	switch ev.EventType {
	case integration.EventTypeCreated, integration.EventTypeRestored:
		fields := snapshotFields(ev)
		prof = UserProfile{
			UserID:      ev.CanonicalID,
			DisplayName: stringField(fields[displayNameField]),
			Email:       stringField(fields[emailField]),
			Title:       stringField(fields[titleField]),
			ManagerID:   stringField(fields[integration.ManagerField]),
			Active:      true,
		}
	case integration.EventTypeUpdated:
		if !found {
			return fmt.Errorf("update of unknown user %s", ev.CanonicalID)
		}
		changes, err := watchFields(ev.PayloadDelta.Patch, displayNameField, emailField, titleField, integration.ManagerField)
		if err != nil {
			return err
		}
		for name, c := range changes {
			v := stringField(c.Value)
			switch name {
			case displayNameField:
				prof.DisplayName = v
			case emailField:
				prof.Email = v
			case titleField:
				prof.Title = v
			case integration.ManagerField:
				prof.ManagerID = v
			}
		}
	case integration.EventTypeSoftDeleted:
		if !found {
			return fmt.Errorf("soft delete of unknown user %s", ev.CanonicalID)
		}
		prof.Active = false
	default:
		return fmt.Errorf("unknown event type %q", ev.EventType)
	}

	prof.UpdatedAt = at
	return tx.PutJSON(key, prof)
}
