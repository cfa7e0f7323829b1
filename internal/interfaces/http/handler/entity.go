package handler

import (
	"context"
	"strings"

	appintegration "github.com/erp/crmsync/internal/application/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// fieldFilterPrefix marks query parameters that filter on entity fields,
// e.g. ?field.stage=won
const fieldFilterPrefix = "field."

// maxPageSize caps page_size on list endpoints
const maxPageSize = 100

// EntityQuerier reads the materialized views
type EntityQuerier interface {
	GetEntity(ctx context.Context, canonicalID uuid.UUID) (*appintegration.EntityResponse, error)
	ListVisibleEntities(ctx context.Context, userID uuid.UUID, entityType string, filter appintegration.VisibleEntitiesFilter) (shared.Paginated[appintegration.EntityResponse], error)
	GetAccessEntry(ctx context.Context, userID uuid.UUID) (*appintegration.AccessEntryResponse, error)
}

// EntityHandler serves canonical entities and per-user visibility
type EntityHandler struct {
	BaseHandler
	query EntityQuerier
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(query EntityQuerier) *EntityHandler {
	return &EntityHandler{query: query}
}

// GetEntity godoc
// @ID           getEntity
// @Summary      Get a canonical entity
// @Description  Serving-view copy of a canonical entity, including soft-deleted ones
// @Tags         entities
// @Produce      json
// @Param        id path string true "Canonical ID" format(uuid)
// @Success      200 {object} APIResponse[appintegration.EntityResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /entities/{id} [get]
func (h *EntityHandler) GetEntity(c *gin.Context) {
	id, ok := h.parseUUIDParam(c, "id", "entity ID")
	if !ok {
		return
	}

	entity, err := h.query.GetEntity(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, entity)
}

// ListVisible godoc
// @ID           listVisibleEntities
// @Summary      List entities visible to a user
// @Description  Entities of one type owned by the user or anyone below them in the hierarchy. Filter on fields with field.<name>=<value>.
// @Tags         entities
// @Produce      json
// @Param        userId path string true "User canonical ID" format(uuid)
// @Param        entityType path string true "Entity type"
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Items per page" default(20) maximum(100)
// @Success      200 {object} APIResponse[[]appintegration.EntityResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /users/{userId}/visible/{entityType} [get]
func (h *EntityHandler) ListVisible(c *gin.Context) {
	userID, ok := h.parseUUIDParam(c, "userId", "user ID")
	if !ok {
		return
	}

	var filter appintegration.VisibleEntitiesFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}
	filter.Fields = fieldFilters(c)

	result, err := h.query.ListVisibleEntities(c.Request.Context(), userID, c.Param("entityType"), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, result.Items, result.Total, result.Page, result.PageSize)
}

// GetAccess godoc
// @ID           getAccessEntry
// @Summary      Get a user's access matrix entry
// @Tags         entities
// @Produce      json
// @Param        userId path string true "User canonical ID" format(uuid)
// @Success      200 {object} APIResponse[appintegration.AccessEntryResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /users/{userId}/access [get]
func (h *EntityHandler) GetAccess(c *gin.Context) {
	userID, ok := h.parseUUIDParam(c, "userId", "user ID")
	if !ok {
		return
	}

	entry, err := h.query.GetAccessEntry(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, entry)
}

func fieldFilters(c *gin.Context) map[string]string {
	var out map[string]string
	for key, values := range c.Request.URL.Query() {
		name, ok := strings.CutPrefix(key, fieldFilterPrefix)
		if !ok || name == "" || len(values) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[name] = values[0]
	}
	return out
}
