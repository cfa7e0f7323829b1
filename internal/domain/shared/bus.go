package shared

import "context"

// NotificationHandler handles notifications
type NotificationHandler interface {
	// Handle processes a notification
	Handle(ctx context.Context, n Notification) error
	// Topics returns the topics this handler is interested in.
	// An empty slice means the handler receives all notifications
	Topics() []string
}

// NotificationPublisher publishes notifications
type NotificationPublisher interface {
	Publish(ctx context.Context, notifications ...Notification) error
}

// NotificationSubscriber subscribes to notifications
type NotificationSubscriber interface {
	// Subscribe registers a handler for specific topics.
	// If no topics are provided, the handler receives all notifications
	Subscribe(handler NotificationHandler, topics ...string)
	// Unsubscribe removes a handler from the subscription list
	Unsubscribe(handler NotificationHandler)
}

// NotificationBus combines publisher and subscriber capabilities
type NotificationBus interface {
	NotificationPublisher
	NotificationSubscriber
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
