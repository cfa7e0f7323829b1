package shared

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an in-process signal passed between pipeline stages.
// Notifications are not persisted; the event log remains the source of truth.
type Notification interface {
	NotificationID() uuid.UUID
	Topic() string
	OccurredAt() time.Time
}

// BaseNotification provides common fields for notifications
type BaseNotification struct {
	ID        uuid.UUID `json:"id"`
	TopicName string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationID returns the unique notification identifier
func (n *BaseNotification) NotificationID() uuid.UUID {
	return n.ID
}

// Topic returns the notification topic
func (n *BaseNotification) Topic() string {
	return n.TopicName
}

// OccurredAt returns when the notification was raised
func (n *BaseNotification) OccurredAt() time.Time {
	return n.Timestamp
}

// NewBaseNotification creates a base notification for the given topic
func NewBaseNotification(topic string) BaseNotification {
	return BaseNotification{
		ID:        uuid.New(),
		TopicName: topic,
		Timestamp: time.Now(),
	}
}
