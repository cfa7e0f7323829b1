package handler

import (
	"net/http"
	"testing"

	appintegration "github.com/erp/crmsync/internal/application/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newEntityRouter(q *MockQueryService) *gin.Engine {
	h := NewEntityHandler(q)
	r := newTestRouter()
	r.GET("/entities/:id", h.GetEntity)
	r.GET("/users/:userId/visible/:entityType", h.ListVisible)
	r.GET("/users/:userId/access", h.GetAccess)
	return r
}

func TestEntityHandler_GetEntity(t *testing.T) {
	q := new(MockQueryService)
	r := newEntityRouter(q)

	id := uuid.New()
	q.On("GetEntity", mock.Anything, id).Return(&appintegration.EntityResponse{
		CanonicalID: id,
		EntityType:  "account",
		Fields:      map[string]any{"name": "Acme"},
		IsActive:    true,
	}, nil).Once()

	w := perform(r, http.MethodGet, "/entities/"+id.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	assert.Equal(t, "account", data["entity_type"])
	assert.Equal(t, "Acme", data["fields"].(map[string]any)["name"])

	missing := uuid.New()
	q.On("GetEntity", mock.Anything, missing).Return(nil, shared.ErrNotFound).Once()
	assert.Equal(t, http.StatusNotFound, perform(r, http.MethodGet, "/entities/"+missing.String(), "").Code)
	assert.Equal(t, http.StatusBadRequest, perform(r, http.MethodGet, "/entities/42", "").Code)
}

func TestEntityHandler_ListVisible(t *testing.T) {
	userID := uuid.New()

	t.Run("binds paging and field filters", func(t *testing.T) {
		q := new(MockQueryService)
		r := newEntityRouter(q)

		want := appintegration.VisibleEntitiesFilter{
			Page:     2,
			PageSize: 10,
			Fields:   map[string]string{"stage": "won", "region": "EMEA"},
		}
		items := []appintegration.EntityResponse{{CanonicalID: uuid.New(), EntityType: "opportunity"}}
		q.On("ListVisibleEntities", mock.Anything, userID, "opportunity", want).
			Return(shared.NewPaginated(items, 11, 2, 10), nil).Once()

		w := perform(r, http.MethodGet,
			"/users/"+userID.String()+"/visible/opportunity?page=2&page_size=10&field.stage=won&field.region=EMEA&other=x", "")
		require.Equal(t, http.StatusOK, w.Code)

		resp := decode(t, w)
		assert.Len(t, resp.Data, 1)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, int64(11), resp.Meta.Total)
		assert.Equal(t, 2, resp.Meta.TotalPages)
		q.AssertExpectations(t)
	})

	t.Run("caps page size", func(t *testing.T) {
		q := new(MockQueryService)
		r := newEntityRouter(q)
		q.On("ListVisibleEntities", mock.Anything, userID, "account", appintegration.VisibleEntitiesFilter{PageSize: maxPageSize}).
			Return(shared.NewPaginated([]appintegration.EntityResponse{}, 0, 1, maxPageSize), nil).Once()

		w := perform(r, http.MethodGet, "/users/"+userID.String()+"/visible/account?page_size=5000", "")
		assert.Equal(t, http.StatusOK, w.Code)
		q.AssertExpectations(t)
	})

	t.Run("unknown user", func(t *testing.T) {
		q := new(MockQueryService)
		r := newEntityRouter(q)
		q.On("ListVisibleEntities", mock.Anything, userID, "account", mock.Anything).
			Return(shared.Paginated[appintegration.EntityResponse]{}, shared.ErrNotFound).Once()

		assert.Equal(t, http.StatusNotFound, perform(r, http.MethodGet, "/users/"+userID.String()+"/visible/account", "").Code)
	})

	t.Run("bad query", func(t *testing.T) {
		r := newEntityRouter(new(MockQueryService))
		assert.Equal(t, http.StatusBadRequest, perform(r, http.MethodGet, "/users/"+userID.String()+"/visible/account?page=abc", "").Code)
		assert.Equal(t, http.StatusBadRequest, perform(r, http.MethodGet, "/users/nobody/visible/account", "").Code)
	})
}

func TestEntityHandler_GetAccess(t *testing.T) {
	q := new(MockQueryService)
	r := newEntityRouter(q)

	manager, report := uuid.New(), uuid.New()
	q.On("GetAccessEntry", mock.Anything, manager).Return(&appintegration.AccessEntryResponse{
		UserID:             manager,
		IsManager:          true,
		SubordinateUserIDs: []uuid.UUID{report},
		VisibleCount:       3,
	}, nil).Once()

	w := perform(r, http.MethodGet, "/users/"+manager.String()+"/access", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	assert.Equal(t, true, data["is_manager"])
	assert.Equal(t, []any{report.String()}, data["subordinate_user_ids"])
	assert.InDelta(t, 3, data["visible_count"], 0)
}

func TestFieldFilters(t *testing.T) {
	r := newTestRouter()
	var got map[string]string
	r.GET("/", func(c *gin.Context) { got = fieldFilters(c) })

	perform(r, http.MethodGet, "/?page=1", "")
	assert.Nil(t, got)

	perform(r, http.MethodGet, "/?field.name=Acme&field.=x&field.name=Other", "")
	assert.Equal(t, map[string]string{"name": "Acme"}, got)
}
