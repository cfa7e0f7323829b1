package handler

import (
	"context"

	"github.com/erp/crmsync/internal/application/projection"
	"github.com/gin-gonic/gin"
)

// ProjectionAdmin operates the projection engine
type ProjectionAdmin interface {
	Status(ctx context.Context) (*projection.EngineStatus, error)
	Rebuild(ctx context.Context, name string) (*projection.Result, error)
	Resume(ctx context.Context, name string) (*projection.Result, error)
	Recompute(ctx context.Context, name string) error
}

// ProjectionHandler exposes projection status and operator actions
type ProjectionHandler struct {
	BaseHandler
	engine ProjectionAdmin
}

// NewProjectionHandler creates a new projection handler
func NewProjectionHandler(engine ProjectionAdmin) *ProjectionHandler {
	return &ProjectionHandler{engine: engine}
}

// Status godoc
// @ID           getProjectionStatus
// @Summary      Projection status
// @Description  Watermarks, halt state and lag behind the event log head for every projection
// @Tags         projections
// @Produce      json
// @Success      200 {object} APIResponse[projection.EngineStatus]
// @Failure      500 {object} ErrorResponse
// @Router       /projections/status [get]
func (h *ProjectionHandler) Status(c *gin.Context) {
	status, err := h.engine.Status(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// Rebuild godoc
// @ID           rebuildProjection
// @Summary      Rebuild a projection
// @Description  Discards the projection's state and replays the event log from the beginning
// @Tags         projections
// @Produce      json
// @Param        name path string true "Projection name"
// @Success      200 {object} APIResponse[projection.Result]
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /projections/{name}/rebuild [post]
func (h *ProjectionHandler) Rebuild(c *gin.Context) {
	h.respond(c, func(ctx context.Context, name string) (*projection.Result, error) {
		return h.engine.Rebuild(ctx, name)
	})
}

// Resume godoc
// @ID           resumeProjection
// @Summary      Resume a halted projection
// @Description  Clears the halt and continues from the last good watermark
// @Tags         projections
// @Produce      json
// @Param        name path string true "Projection name"
// @Success      200 {object} APIResponse[projection.Result]
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /projections/{name}/resume [post]
func (h *ProjectionHandler) Resume(c *gin.Context) {
	h.respond(c, func(ctx context.Context, name string) (*projection.Result, error) {
		return h.engine.Resume(ctx, name)
	})
}

// Recompute godoc
// @ID           recomputeProjection
// @Summary      Recompute derived entries
// @Description  Rebuilds derived entries from stored facts without replaying events. Only the access matrix supports it.
// @Tags         projections
// @Produce      json
// @Param        name path string true "Projection name"
// @Success      200 {object} SuccessResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Router       /projections/{name}/recompute [post]
func (h *ProjectionHandler) Recompute(c *gin.Context) {
	if err := h.engine.Recompute(c.Request.Context(), c.Param("name")); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, nil)
}

func (h *ProjectionHandler) respond(c *gin.Context, op func(context.Context, string) (*projection.Result, error)) {
	res, err := op(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, res)
}
