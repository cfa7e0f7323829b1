package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/erp/crmsync/internal/domain/shared"
	"go.uber.org/zap"
)

// InMemoryBus implements NotificationBus with in-process pub/sub.
// Handlers run on their own goroutine so publishers never wait on consumers;
// Stop waits for in-flight deliveries.
type InMemoryBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger
	running  atomic.Bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
}

// NewInMemoryBus creates a new in-memory notification bus
func NewInMemoryBus(logger *zap.Logger) *InMemoryBus {
	return &InMemoryBus{
		registry: NewHandlerRegistry(),
		logger:   logger,
	}
}

// Publish hands notifications to their handlers. Notifications published
// while the bus is stopped are dropped.
func (b *InMemoryBus) Publish(ctx context.Context, notifications ...shared.Notification) error {
	if !b.running.Load() {
		b.logger.Debug("bus not running, dropping notifications", zap.Int("count", len(notifications)))
		return nil
	}
	b.mu.Lock()
	base := b.baseCtx
	b.mu.Unlock()

	for _, n := range notifications {
		for _, handler := range b.registry.GetHandlers(n.Topic()) {
			b.wg.Add(1)
			go func(h shared.NotificationHandler, n shared.Notification) {
				defer b.wg.Done()
				if err := b.dispatchToHandler(base, h, n); err != nil {
					b.logger.Error("handler failed to process notification",
						zap.String("topic", n.Topic()),
						zap.String("notification_id", n.NotificationID().String()),
						zap.Error(err),
					)
				}
			}(handler, n)
		}
	}
	return nil
}

// Subscribe registers a handler for specific topics
func (b *InMemoryBus) Subscribe(handler shared.NotificationHandler, topics ...string) {
	if len(topics) == 0 {
		topics = handler.Topics()
	}
	b.registry.Register(handler, topics...)
	b.logger.Debug("handler subscribed", zap.Strings("topics", topics))
}

// Unsubscribe removes a handler
func (b *InMemoryBus) Unsubscribe(handler shared.NotificationHandler) {
	b.registry.Unregister(handler)
	b.logger.Debug("handler unsubscribed")
}

// Start starts the bus. Handler contexts derive from ctx.
func (b *InMemoryBus) Start(ctx context.Context) error {
	b.mu.Lock()
	b.baseCtx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.mu.Unlock()
	b.running.Store(true)
	b.logger.Info("notification bus started")
	return nil
}

// Stop stops accepting notifications and waits for in-flight handlers
func (b *InMemoryBus) Stop(ctx context.Context) error {
	b.running.Store(false)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("notification bus stopped")
	case <-ctx.Done():
		b.mu.Lock()
		if b.cancel != nil {
			b.cancel()
		}
		b.mu.Unlock()
		b.logger.Warn("notification bus stop timed out, cancelling handlers")
		return ctx.Err()
	}

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()
	return nil
}

// dispatchToHandler safely dispatches a notification to a handler
func (b *InMemoryBus) dispatchToHandler(ctx context.Context, handler shared.NotificationHandler, n shared.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked",
				zap.String("topic", n.Topic()),
				zap.Any("panic", r),
			)
		}
	}()

	return handler.Handle(ctx, n)
}

// Ensure InMemoryBus implements NotificationBus
var _ shared.NotificationBus = (*InMemoryBus)(nil)
