package handler

import (
	"context"
	"slices"

	appintegration "github.com/erp/crmsync/internal/application/integration"
	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SyncJobService queues sync jobs and reports on them
type SyncJobService interface {
	EntityTypes() []string
	TriggerSync(ctx context.Context, entityTypes []string, mode integration.SyncMode) (uuid.UUID, error)
	GetSyncJob(ctx context.Context, id uuid.UUID) (*appintegration.SyncJobResponse, error)
	ListSyncJobs(limit int) []appintegration.SyncJobResponse
}

// SyncStatusReader reports the last pass per entity type
type SyncStatusReader interface {
	GetSyncStatus(ctx context.Context, entityType string) (*appintegration.SyncStatusResponse, error)
}

// HaltClearer lifts an ordering halt on an entity type
type HaltClearer interface {
	ClearHalt(entityType string)
}

// SyncHandler handles sync trigger and status requests
type SyncHandler struct {
	BaseHandler
	jobs   SyncJobService
	status SyncStatusReader
	halts  HaltClearer
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(jobs SyncJobService, status SyncStatusReader, halts HaltClearer) *SyncHandler {
	return &SyncHandler{jobs: jobs, status: status, halts: halts}
}

// TriggerSyncData is returned when a job is queued
type TriggerSyncData struct {
	JobID uuid.UUID `json:"job_id"`
}

// TriggerSync godoc
// @ID           triggerSync
// @Summary      Queue a sync job
// @Description  Queue a reconciliation of the given entity types. Empty entity_types means every configured type; empty mode means full.
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request body appintegration.TriggerSyncRequest false "Sync request"
// @Success      202 {object} APIResponse[TriggerSyncData]
// @Failure      400 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /sync/jobs [post]
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	var req appintegration.TriggerSyncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleValidationError(c, err)
			return
		}
	}

	id, err := h.jobs.TriggerSync(c.Request.Context(), req.EntityTypes, integration.SyncMode(req.Mode))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, TriggerSyncData{JobID: id})
}

// GetSyncJob godoc
// @ID           getSyncJob
// @Summary      Get a sync job
// @Description  Status and per-entity-type summary of a queued or finished sync job
// @Tags         sync
// @Produce      json
// @Param        id path string true "Job ID" format(uuid)
// @Success      200 {object} APIResponse[appintegration.SyncJobResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /sync/jobs/{id} [get]
func (h *SyncHandler) GetSyncJob(c *gin.Context) {
	id, ok := h.parseUUIDParam(c, "id", "job ID")
	if !ok {
		return
	}

	job, err := h.jobs.GetSyncJob(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, job)
}

// ListSyncJobs godoc
// @ID           listSyncJobs
// @Summary      List recent sync jobs
// @Tags         sync
// @Produce      json
// @Param        limit query int false "Max jobs" default(20) maximum(100)
// @Success      200 {object} APIResponse[[]appintegration.SyncJobResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /sync/jobs [get]
func (h *SyncHandler) ListSyncJobs(c *gin.Context) {
	var q struct {
		Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	h.Success(c, h.jobs.ListSyncJobs(q.Limit))
}

// GetSyncStatus godoc
// @ID           getSyncStatus
// @Summary      Get sync status of an entity type
// @Tags         sync
// @Produce      json
// @Param        entityType path string true "Entity type"
// @Success      200 {object} APIResponse[appintegration.SyncStatusResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /sync/status/{entityType} [get]
func (h *SyncHandler) GetSyncStatus(c *gin.Context) {
	entityType, ok := h.entityType(c)
	if !ok {
		return
	}

	status, err := h.status.GetSyncStatus(c.Request.Context(), entityType)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, status)
}

// ClearHalt godoc
// @ID           clearSyncHalt
// @Summary      Clear an ordering halt
// @Description  Lets passes of the entity type run again after an out-of-order event stopped them
// @Tags         sync
// @Produce      json
// @Param        entityType path string true "Entity type"
// @Success      200 {object} SuccessResponse
// @Failure      400 {object} ErrorResponse
// @Router       /sync/halts/{entityType} [delete]
func (h *SyncHandler) ClearHalt(c *gin.Context) {
	entityType, ok := h.entityType(c)
	if !ok {
		return
	}

	h.halts.ClearHalt(entityType)
	h.Success(c, nil)
}

func (h *SyncHandler) entityType(c *gin.Context) (string, bool) {
	entityType := c.Param("entityType")
	if !slices.Contains(h.jobs.EntityTypes(), entityType) {
		h.HandleError(c, appintegration.ErrUnknownEntityType)
		return "", false
	}
	return entityType, true
}
