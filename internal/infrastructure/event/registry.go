package event

import (
	"sync"

	"github.com/erp/crmsync/internal/domain/shared"
)

// HandlerRegistry manages notification handler registrations
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string][]shared.NotificationHandler // topic -> handlers
	wildcard []shared.NotificationHandler            // handlers for all topics
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string][]shared.NotificationHandler),
		wildcard: make([]shared.NotificationHandler, 0),
	}
}

// Register adds a handler for specific topics.
// If no topics are provided, the handler receives everything
func (r *HandlerRegistry) Register(handler shared.NotificationHandler, topics ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(topics) == 0 {
		r.wildcard = append(r.wildcard, handler)
		return
	}
	for _, topic := range topics {
		r.handlers[topic] = append(r.handlers[topic], handler)
	}
}

// Unregister removes a handler from all topics
func (r *HandlerRegistry) Unregister(handler shared.NotificationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.wildcard = removeHandler(r.wildcard, handler)
	for topic, handlers := range r.handlers {
		r.handlers[topic] = removeHandler(handlers, handler)
		if len(r.handlers[topic]) == 0 {
			delete(r.handlers, topic)
		}
	}
}

// GetHandlers returns topic-specific handlers followed by wildcard handlers
func (r *HandlerRegistry) GetHandlers(topic string) []shared.NotificationHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	typeHandlers := r.handlers[topic]
	result := make([]shared.NotificationHandler, 0, len(typeHandlers)+len(r.wildcard))
	result = append(result, typeHandlers...)
	result = append(result, r.wildcard...)
	return result
}

// Len returns the number of distinct registered handlers
func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[shared.NotificationHandler]bool)
	for _, h := range r.wildcard {
		seen[h] = true
	}
	for _, handlers := range r.handlers {
		for _, h := range handlers {
			seen[h] = true
		}
	}
	return len(seen)
}

func removeHandler(handlers []shared.NotificationHandler, target shared.NotificationHandler) []shared.NotificationHandler {
	result := make([]shared.NotificationHandler, 0, len(handlers))
	for _, h := range handlers {
		if h != target {
			result = append(result, h)
		}
	}
	return result
}
