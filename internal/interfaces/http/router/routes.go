package router

import (
	"github.com/erp/crmsync/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
)

// Handlers are the HTTP handlers the API mounts
type Handlers struct {
	Sync       *handler.SyncHandler
	Entity     *handler.EntityHandler
	Projection *handler.ProjectionHandler
	Health     *handler.HealthHandler
	System     *handler.SystemHandler
}

// SyncRoutes triggers and inspects sync jobs
func SyncRoutes(h *handler.SyncHandler) *DomainGroup {
	g := NewDomainGroup("sync", "/sync")
	g.POST("/jobs", h.TriggerSync)
	g.GET("/jobs", h.ListSyncJobs)
	g.GET("/jobs/:id", h.GetSyncJob)
	g.GET("/status/:entityType", h.GetSyncStatus)
	g.DELETE("/halts/:entityType", h.ClearHalt)
	return g
}

// EntityRoutes serves canonical entities
func EntityRoutes(h *handler.EntityHandler) *DomainGroup {
	g := NewDomainGroup("entities", "/entities")
	g.GET("/:id", h.GetEntity)
	return g
}

// UserRoutes serves per-user visibility
func UserRoutes(h *handler.EntityHandler) *DomainGroup {
	g := NewDomainGroup("users", "/users")
	g.GET("/:userId/visible/:entityType", h.ListVisible)
	g.GET("/:userId/access", h.GetAccess)
	return g
}

// ProjectionRoutes operates the projection engine
func ProjectionRoutes(h *handler.ProjectionHandler) *DomainGroup {
	g := NewDomainGroup("projections", "/projections")
	g.GET("/status", h.Status)
	g.POST("/:name/rebuild", h.Rebuild)
	g.POST("/:name/resume", h.Resume)
	g.POST("/:name/recompute", h.Recompute)
	return g
}

// SystemRoutes reports build and runtime information
func SystemRoutes(h *handler.SystemHandler) *DomainGroup {
	g := NewDomainGroup("system", "/system")
	g.GET("/info", h.GetSystemInfo)
	g.GET("/ping", h.Ping)
	return g
}

// Mount registers /health and every /api/v1 group on engine
func Mount(engine *gin.Engine, h Handlers) *Router {
	engine.GET("/health", h.Health.Health)

	r := NewRouter(engine, WithAPIVersion("v1"))
	r.Register(SyncRoutes(h.Sync)).
		Register(EntityRoutes(h.Entity)).
		Register(UserRoutes(h.Entity)).
		Register(ProjectionRoutes(h.Projection)).
		Register(SystemRoutes(h.System))
	r.Setup()
	return r
}
