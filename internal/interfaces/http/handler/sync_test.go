package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	appintegration "github.com/erp/crmsync/internal/application/integration"
	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/erp/crmsync/internal/interfaces/http/dto"
	"github.com/erp/crmsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type syncFixture struct {
	jobs   *MockSyncJobService
	query  *MockQueryService
	halts  *MockHalts
	router *gin.Engine
}

func newSyncFixture() *syncFixture {
	middleware.SetupValidator()
	f := &syncFixture{jobs: new(MockSyncJobService), query: new(MockQueryService), halts: new(MockHalts)}
	f.jobs.On("EntityTypes").Return([]string{"user", "account"}).Maybe()

	h := NewSyncHandler(f.jobs, f.query, f.halts)
	f.router = newTestRouter()
	f.router.POST("/sync/jobs", h.TriggerSync)
	f.router.GET("/sync/jobs", h.ListSyncJobs)
	f.router.GET("/sync/jobs/:id", h.GetSyncJob)
	f.router.GET("/sync/status/:entityType", h.GetSyncStatus)
	f.router.DELETE("/sync/halts/:entityType", h.ClearHalt)
	return f
}

func TestSyncHandler_TriggerSync(t *testing.T) {
	t.Run("queues with requested types and mode", func(t *testing.T) {
		f := newSyncFixture()
		id := uuid.New()
		f.jobs.On("TriggerSync", mock.Anything, []string{"account"}, integration.SyncModeIncremental).Return(id, nil).Once()

		w := perform(f.router, http.MethodPost, "/sync/jobs", `{"entity_types":["account"],"mode":"incremental"}`)
		assert.Equal(t, http.StatusAccepted, w.Code)
		data := decode(t, w).Data.(map[string]any)
		assert.Equal(t, id.String(), data["job_id"])
		f.jobs.AssertExpectations(t)
	})

	t.Run("empty body uses defaults", func(t *testing.T) {
		f := newSyncFixture()
		f.jobs.On("TriggerSync", mock.Anything, []string(nil), integration.SyncMode("")).Return(uuid.New(), nil).Once()

		w := perform(f.router, http.MethodPost, "/sync/jobs", "")
		assert.Equal(t, http.StatusAccepted, w.Code)
		f.jobs.AssertExpectations(t)
	})

	t.Run("rejects unknown mode before queuing", func(t *testing.T) {
		f := newSyncFixture()
		w := perform(f.router, http.MethodPost, "/sync/jobs", `{"mode":"delta"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, decode(t, w).Error.Code)
		f.jobs.AssertNotCalled(t, "TriggerSync", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown entity type", func(t *testing.T) {
		f := newSyncFixture()
		f.jobs.On("TriggerSync", mock.Anything, []string{"invoice"}, integration.SyncMode("")).
			Return(uuid.Nil, fmt.Errorf("%w: invoice", appintegration.ErrUnknownEntityType)).Once()

		w := perform(f.router, http.MethodPost, "/sync/jobs", `{"entity_types":["invoice"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeUnknownEntityType, decode(t, w).Error.Code)
	})

	t.Run("queue full", func(t *testing.T) {
		f := newSyncFixture()
		f.jobs.On("TriggerSync", mock.Anything, mock.Anything, mock.Anything).
			Return(uuid.Nil, shared.NewDomainError("QUEUE_FULL", "Sync job queue is full")).Once()

		w := perform(f.router, http.MethodPost, "/sync/jobs", `{}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, dto.ErrCodeQueueFull, decode(t, w).Error.Code)
	})
}

func TestSyncHandler_GetSyncJob(t *testing.T) {
	f := newSyncFixture()
	job := integration.NewSyncJob([]string{"user"}, integration.SyncModeFull, 3)
	resp := appintegration.ToSyncJobResponse(job)
	f.jobs.On("GetSyncJob", mock.Anything, job.ID).Return(&resp, nil).Once()

	w := perform(f.router, http.MethodGet, "/sync/jobs/"+job.ID.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	assert.Equal(t, string(integration.JobStatusPending), data["status"])

	missing := uuid.New()
	f.jobs.On("GetSyncJob", mock.Anything, missing).Return(nil, fmt.Errorf("%w: gone", shared.ErrNotFound)).Once()
	assert.Equal(t, http.StatusNotFound, perform(f.router, http.MethodGet, "/sync/jobs/"+missing.String(), "").Code)

	assert.Equal(t, http.StatusBadRequest, perform(f.router, http.MethodGet, "/sync/jobs/not-a-uuid", "").Code)
}

func TestSyncHandler_ListSyncJobs(t *testing.T) {
	f := newSyncFixture()
	f.jobs.On("ListSyncJobs", 0).Return([]appintegration.SyncJobResponse{{ID: uuid.New()}}).Once()
	f.jobs.On("ListSyncJobs", 5).Return([]appintegration.SyncJobResponse{}).Once()

	w := perform(f.router, http.MethodGet, "/sync/jobs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w).Data, 1)

	assert.Equal(t, http.StatusOK, perform(f.router, http.MethodGet, "/sync/jobs?limit=5", "").Code)
	assert.Equal(t, http.StatusBadRequest, perform(f.router, http.MethodGet, "/sync/jobs?limit=1000", "").Code)
	f.jobs.AssertExpectations(t)
}

func TestSyncHandler_GetSyncStatus(t *testing.T) {
	f := newSyncFixture()
	status := &appintegration.SyncStatusResponse{Halted: "event 3 is behind head 9"}
	status.EntityType = "account"
	status.LastStatus = integration.SyncRunStatusFailed
	f.query.On("GetSyncStatus", mock.Anything, "account").Return(status, nil).Once()

	w := perform(f.router, http.MethodGet, "/sync/status/account", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	assert.Equal(t, "event 3 is behind head 9", data["halted"])

	w = perform(f.router, http.MethodGet, "/sync/status/invoice", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeUnknownEntityType, decode(t, w).Error.Code)

	f.query.On("GetSyncStatus", mock.Anything, "user").Return(nil, errors.New("db down")).Once()
	assert.Equal(t, http.StatusInternalServerError, perform(f.router, http.MethodGet, "/sync/status/user", "").Code)
}

func TestSyncHandler_ClearHalt(t *testing.T) {
	f := newSyncFixture()
	f.halts.On("ClearHalt", "account").Once()

	assert.Equal(t, http.StatusOK, perform(f.router, http.MethodDelete, "/sync/halts/account", "").Code)
	assert.Equal(t, http.StatusBadRequest, perform(f.router, http.MethodDelete, "/sync/halts/invoice", "").Code)
	f.halts.AssertExpectations(t)
}
