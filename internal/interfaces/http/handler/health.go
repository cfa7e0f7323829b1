package handler

import (
	"net/http"
	"time"

	"github.com/erp/crmsync/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger checks a backing store
type Pinger interface {
	Ping() error
}

// RunState reports whether a background component is running
type RunState interface {
	IsRunning() bool
}

// HaltReporter lists entity types stopped on an ordering violation
type HaltReporter interface {
	Halted() map[string]string
}

// HealthHandler answers liveness and readiness probes
type HealthHandler struct {
	db        Pinger
	scheduler RunState
	halts     HaltReporter
	now       func() time.Time
}

// NewHealthHandler creates a health handler. scheduler and halts may be nil.
func NewHealthHandler(db Pinger, scheduler RunState, halts HaltReporter) *HealthHandler {
	return &HealthHandler{db: db, scheduler: scheduler, halts: halts, now: time.Now}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string            `json:"status" example:"healthy"`
	Time      string            `json:"time" example:"2026-01-23T12:00:00Z"`
	Database  string            `json:"database" example:"ok"`
	Scheduler string            `json:"scheduler,omitempty" example:"running"`
	Halted    map[string]string `json:"halted,omitempty"`
}

// Health godoc
// @ID           health
// @Summary      Health check
// @Description  503 when the database is unreachable. Halted entity types are reported but do not fail the probe.
// @Tags         system
// @Produce      json
// @Success      200 {object} HealthResponse
// @Failure      503 {object} HealthResponse
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:   "healthy",
		Time:     h.now().UTC().Format(time.RFC3339),
		Database: "ok",
	}
	if h.scheduler != nil {
		resp.Scheduler = "stopped"
		if h.scheduler.IsRunning() {
			resp.Scheduler = "running"
		}
	}
	if h.halts != nil {
		if halted := h.halts.Halted(); len(halted) > 0 {
			resp.Halted = halted
			resp.Status = "degraded"
		}
	}

	if err := h.db.Ping(); err != nil {
		logger.GetGinLogger(c).Warn("Health check failed", zap.Error(err))
		resp.Status = "unhealthy"
		resp.Database = "error"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
