package handler

import (
	"context"

	appintegration "github.com/erp/crmsync/internal/application/integration"
	"github.com/erp/crmsync/internal/application/projection"
	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockSyncJobService is a mock implementation of SyncJobService
type MockSyncJobService struct {
	mock.Mock
}

func (m *MockSyncJobService) EntityTypes() []string {
	return m.Called().Get(0).([]string)
}

func (m *MockSyncJobService) TriggerSync(ctx context.Context, entityTypes []string, mode integration.SyncMode) (uuid.UUID, error) {
	args := m.Called(ctx, entityTypes, mode)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockSyncJobService) GetSyncJob(ctx context.Context, id uuid.UUID) (*appintegration.SyncJobResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appintegration.SyncJobResponse), args.Error(1)
}

func (m *MockSyncJobService) ListSyncJobs(limit int) []appintegration.SyncJobResponse {
	return m.Called(limit).Get(0).([]appintegration.SyncJobResponse)
}

// MockQueryService is a mock implementation of EntityQuerier and SyncStatusReader
type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) GetEntity(ctx context.Context, id uuid.UUID) (*appintegration.EntityResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appintegration.EntityResponse), args.Error(1)
}

func (m *MockQueryService) ListVisibleEntities(ctx context.Context, userID uuid.UUID, entityType string, filter appintegration.VisibleEntitiesFilter) (shared.Paginated[appintegration.EntityResponse], error) {
	args := m.Called(ctx, userID, entityType, filter)
	return args.Get(0).(shared.Paginated[appintegration.EntityResponse]), args.Error(1)
}

func (m *MockQueryService) GetAccessEntry(ctx context.Context, userID uuid.UUID) (*appintegration.AccessEntryResponse, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appintegration.AccessEntryResponse), args.Error(1)
}

func (m *MockQueryService) GetSyncStatus(ctx context.Context, entityType string) (*appintegration.SyncStatusResponse, error) {
	args := m.Called(ctx, entityType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appintegration.SyncStatusResponse), args.Error(1)
}

// MockHalts is a mock implementation of HaltClearer and HaltReporter
type MockHalts struct {
	mock.Mock
}

func (m *MockHalts) ClearHalt(entityType string) {
	m.Called(entityType)
}

func (m *MockHalts) Halted() map[string]string {
	return m.Called().Get(0).(map[string]string)
}

// MockProjectionAdmin is a mock implementation of ProjectionAdmin
type MockProjectionAdmin struct {
	mock.Mock
}

func (m *MockProjectionAdmin) Status(ctx context.Context) (*projection.EngineStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*projection.EngineStatus), args.Error(1)
}

func (m *MockProjectionAdmin) Rebuild(ctx context.Context, name string) (*projection.Result, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*projection.Result), args.Error(1)
}

func (m *MockProjectionAdmin) Resume(ctx context.Context, name string) (*projection.Result, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*projection.Result), args.Error(1)
}

func (m *MockProjectionAdmin) Recompute(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}
