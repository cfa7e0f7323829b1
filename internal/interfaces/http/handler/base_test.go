package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/erp/crmsync/internal/infrastructure/logger"
	"github.com/erp/crmsync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter() *gin.Engine {
	r := gin.New()
	r.Use(logger.GinMiddleware(zap.NewNop()))
	return r
}

func perform(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetRequestID(t *testing.T) {
	t.Run("from logging middleware", func(t *testing.T) {
		r := newTestRouter()
		var got string
		r.GET("/", func(c *gin.Context) { got = getRequestID(c) })

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(logger.RequestIDHeader, "req-1")
		r.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "req-1", got)
	})

	t.Run("from header without middleware", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.Header.Set(logger.RequestIDHeader, "header-id")
		assert.Equal(t, "header-id", getRequestID(c))
	})
}

func TestBaseHandler_ErrorMethods(t *testing.T) {
	tests := []struct {
		name         string
		method       func(*BaseHandler, *gin.Context)
		expectedCode int
		expectedErr  string
	}{
		{"BadRequest", func(h *BaseHandler, c *gin.Context) { h.BadRequest(c, "bad") }, http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"NotFound", func(h *BaseHandler, c *gin.Context) { h.NotFound(c, "missing") }, http.StatusNotFound, dto.ErrCodeNotFound},
		{"Conflict", func(h *BaseHandler, c *gin.Context) { h.Conflict(c, "conflict") }, http.StatusConflict, dto.ErrCodeConflict},
		{"InternalError", func(h *BaseHandler, c *gin.Context) { h.InternalError(c, "boom") }, http.StatusInternalServerError, dto.ErrCodeInternal},
		{"ErrorWithCode", func(h *BaseHandler, c *gin.Context) { h.ErrorWithCode(c, dto.ErrCodeQueueFull, "full") }, http.StatusServiceUnavailable, dto.ErrCodeQueueFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			r := newTestRouter()
			r.GET("/", func(c *gin.Context) { tt.method(h, c) })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(logger.RequestIDHeader, "req-9")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedCode, w.Code)
			resp := decode(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.expectedErr, resp.Error.Code)
			assert.Equal(t, "req-9", resp.Error.RequestID)
		})
	}
}

func TestBaseHandler_Success(t *testing.T) {
	h := &BaseHandler{}
	r := newTestRouter()
	r.GET("/ok", func(c *gin.Context) { h.Success(c, gin.H{"a": 1}) })
	r.GET("/page", func(c *gin.Context) { h.SuccessWithMeta(c, []int{1, 2}, 12, 2, 5) })
	r.POST("/accepted", func(c *gin.Context) { h.Accepted(c, nil) })

	w := perform(r, http.MethodGet, "/ok", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode(t, w).Success)

	w = perform(r, http.MethodGet, "/page", "")
	resp := decode(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(12), resp.Meta.Total)
	assert.Equal(t, 3, resp.Meta.TotalPages)

	assert.Equal(t, http.StatusAccepted, perform(r, http.MethodPost, "/accepted", "").Code)
}

func TestBaseHandler_ValidationError(t *testing.T) {
	h := &BaseHandler{}
	r := newTestRouter()
	r.GET("/", func(c *gin.Context) {
		h.ValidationError(c, []dto.ValidationDetail{{Field: "mode", Message: "Required"}})
	})

	w := perform(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	assert.Len(t, resp.Error.Details, 1)
}

func TestBaseHandler_HandleError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
		expectedErr  string
	}{
		{"not found", shared.ErrNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", shared.ErrNotFound), http.StatusNotFound, dto.ErrCodeNotFound},
		{"lease held", shared.ErrLeaseHeld, http.StatusConflict, dto.ErrCodeSyncInProgress},
		{"invalid mode", shared.WrapDomainError("INVALID_SYNC_MODE", "Invalid sync mode", errors.New(`"delta"`)), http.StatusBadRequest, dto.ErrCodeInvalidInput},
		{"pipeline halted", shared.NewDomainError("PIPELINE_HALTED", "halted"), http.StatusConflict, dto.ErrCodePipelineHalted},
		{"queue full", shared.NewDomainError("QUEUE_FULL", "full"), http.StatusServiceUnavailable, dto.ErrCodeQueueFull},
		{"unmapped domain code", shared.NewDomainError("SOMETHING_ELSE", "x"), http.StatusInternalServerError, "SOMETHING_ELSE"},
		{"connector down", &integration.ConnectorUnavailableError{Source: "erp", EntityType: "account", Err: errors.New("dial")}, http.StatusServiceUnavailable, dto.ErrCodeUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, dto.ErrCodeUnavailable},
		{"plain error", errors.New("db exploded"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			r := newTestRouter()
			r.GET("/", func(c *gin.Context) { h.HandleError(c, tt.err) })

			w := perform(r, http.MethodGet, "/", "")
			assert.Equal(t, tt.expectedCode, w.Code)
			resp := decode(t, w)
			assert.Equal(t, tt.expectedErr, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, "db exploded")
		})
	}

	t.Run("nil error writes nothing", func(t *testing.T) {
		h := &BaseHandler{}
		r := newTestRouter()
		r.GET("/", func(c *gin.Context) {
			h.HandleError(c, nil)
			c.Status(http.StatusNoContent)
		})
		assert.Equal(t, http.StatusNoContent, perform(r, http.MethodGet, "/", "").Code)
	})
}
