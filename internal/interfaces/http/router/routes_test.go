package router

import (
	"net/http"
	"testing"

	"github.com/erp/crmsync/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type okPinger struct{}

func (okPinger) Ping() error { return nil }

func TestMount(t *testing.T) {
	engine := gin.New()
	Mount(engine, Handlers{
		Sync:       handler.NewSyncHandler(nil, nil, nil),
		Entity:     handler.NewEntityHandler(nil),
		Projection: handler.NewProjectionHandler(nil),
		Health:     handler.NewHealthHandler(okPinger{}, nil, nil),
		System:     handler.NewSystemHandler("crmsync", "test", nil, nil),
	})

	var got []string
	for _, r := range engine.Routes() {
		got = append(got, r.Method+" "+r.Path)
	}
	assert.ElementsMatch(t, []string{
		"GET /health",
		"POST /api/v1/sync/jobs",
		"GET /api/v1/sync/jobs",
		"GET /api/v1/sync/jobs/:id",
		"GET /api/v1/sync/status/:entityType",
		"DELETE /api/v1/sync/halts/:entityType",
		"GET /api/v1/entities/:id",
		"GET /api/v1/users/:userId/visible/:entityType",
		"GET /api/v1/users/:userId/access",
		"GET /api/v1/projections/status",
		"POST /api/v1/projections/:name/rebuild",
		"POST /api/v1/projections/:name/resume",
		"POST /api/v1/projections/:name/recompute",
		"GET /api/v1/system/info",
		"GET /api/v1/system/ping",
	}, got)

	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/api/v1/system/ping").Code)
	// malformed ids are rejected before any service call
	assert.Equal(t, http.StatusBadRequest, serve(engine, http.MethodGet, "/api/v1/entities/nope").Code)
}
