package projection

import (
	"context"
	"sync"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"go.uber.org/zap"
)

// SyncPassHandler catches the projections up whenever a sync pass commits.
// Notifications that arrive while a run is in progress collapse into one
// follow-up run.
type SyncPassHandler struct {
	engine *Engine
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	again   bool
}

// NewSyncPassHandler creates the handler
func NewSyncPassHandler(engine *Engine, logger *zap.Logger) *SyncPassHandler {
	return &SyncPassHandler{engine: engine, logger: logger}
}

// Topics returns the topics this handler listens to
func (h *SyncPassHandler) Topics() []string {
	return []string{integration.TopicSyncPassCompleted}
}

// Handle runs the engine for a SyncPassCompleted notification
func (h *SyncPassHandler) Handle(ctx context.Context, n shared.Notification) error {
	pass, ok := n.(*integration.SyncPassCompleted)
	if !ok || pass.LastEventID == 0 {
		return nil
	}

	h.mu.Lock()
	if h.running {
		h.again = true
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	for {
		results, err := h.engine.Run(ctx)
		for _, r := range results {
			if r.Halted {
				h.logger.Warn("Projection is halted",
					zap.String("projection", r.Projection),
					zap.Error(r.Err),
				)
			}
		}

		h.mu.Lock()
		if err != nil || !h.again {
			h.running = false
			h.again = false
			h.mu.Unlock()
			return err
		}
		h.again = false
		h.mu.Unlock()
	}
}

var _ shared.NotificationHandler = (*SyncPassHandler)(nil)
