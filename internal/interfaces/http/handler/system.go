package handler

import (
	"runtime"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler handles system-related API endpoints
type SystemHandler struct {
	BaseHandler
	name        string
	version     string
	entityTypes []string
	projections []string
	startTime   time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(name, version string, entityTypes, projections []string) *SystemHandler {
	return &SystemHandler{
		name:        name,
		version:     version,
		entityTypes: slices.Clone(entityTypes),
		projections: slices.Clone(projections),
		startTime:   time.Now(),
	}
}

// SystemInfoResponse represents the system information response
// @name HandlerSystemInfoResponse
type SystemInfoResponse struct {
	Name        string   `json:"name" example:"crmsync"`
	Version     string   `json:"version" example:"1.0.0"`
	GoVersion   string   `json:"go_version" example:"go1.25.5"`
	Uptime      string   `json:"uptime" example:"1h30m45s"`
	EntityTypes []string `json:"entity_types"`
	Projections []string `json:"projections"`
}

// GetSystemInfo godoc
// @ID           getSystemSystemInfo
// @Summary      Get system information
// @Description  Version, uptime, synced entity types and registered projections
// @Tags         system
// @Produce      json
// @Success      200 {object} APIResponse[SystemInfoResponse]
// @Router       /system/info [get]
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:        h.name,
		Version:     h.version,
		GoVersion:   runtime.Version(),
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		EntityTypes: h.entityTypes,
		Projections: h.projections,
	})
}

// PingResponse represents the ping response
// @name HandlerPingResponse
type PingResponse struct {
	Message   string `json:"message" example:"pong"`
	Timestamp string `json:"timestamp" example:"2026-01-23T12:00:00Z"`
}

// Ping godoc
// @ID           pingSystem
// @Summary      Ping the API
// @Tags         system
// @Produce      json
// @Success      200 {object} APIResponse[PingResponse]
// @Router       /system/ping [get]
func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{
		Message:   "pong",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
