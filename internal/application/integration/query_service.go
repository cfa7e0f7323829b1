package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/crmsync/internal/application/projection"
	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HaltReporter reports entity types whose pipeline is halted
type HaltReporter interface {
	Halted() map[string]string
}

// QueryService is the read-only facade over the materialized views.
// It never reads canonical state or the event log directly.
type QueryService struct {
	views  *projection.Views
	runs   integration.SyncRunRepository
	halts  HaltReporter
	logger *zap.Logger
}

// NewQueryService creates a query service. halts may be nil.
func NewQueryService(views *projection.Views, runs integration.SyncRunRepository, halts HaltReporter, logger *zap.Logger) *QueryService {
	return &QueryService{views: views, runs: runs, halts: halts, logger: logger}
}

// GetEntity returns one entity from the serving view, inactive ones included
func (s *QueryService) GetEntity(ctx context.Context, canonicalID uuid.UUID) (*EntityResponse, error) {
	e, err := s.views.Entity(ctx, canonicalID)
	if err != nil {
		return nil, err
	}
	resp := ToEntityResponse(e)
	return &resp, nil
}

// ListVisibleEntities pages through the entities of one type the user may
// see, ordered by canonical id
func (s *QueryService) ListVisibleEntities(ctx context.Context, userID uuid.UUID, entityType string, filter VisibleEntitiesFilter) (shared.Paginated[EntityResponse], error) {
	paging := shared.Filter{Page: filter.Page, PageSize: filter.PageSize}.Normalize()

	entry, err := s.views.AccessEntry(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Paginated[EntityResponse]{}, fmt.Errorf("%w: no access entry for user %s", shared.ErrNotFound, userID)
		}
		return shared.Paginated[EntityResponse]{}, err
	}

	rows, err := s.views.Entities(ctx, entry.VisibleEntityIDs)
	if err != nil {
		return shared.Paginated[EntityResponse]{}, err
	}

	matched := make([]EntityResponse, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if row.EntityType != entityType {
			continue
		}
		// The matrix may still list an entity the serving view has already
		// seen soft-deleted.
		if !row.IsActive {
			continue
		}
		if !fieldsMatch(row.Fields, filter.Fields) {
			continue
		}
		matched = append(matched, ToEntityResponse(row))
	}

	total := int64(len(matched))
	start := min(paging.Offset(), len(matched))
	end := min(start+paging.PageSize, len(matched))
	return shared.NewPaginated(matched[start:end], total, paging.Page, paging.PageSize), nil
}

// GetAccessEntry returns the access matrix entry of a user
func (s *QueryService) GetAccessEntry(ctx context.Context, userID uuid.UUID) (*AccessEntryResponse, error) {
	entry, err := s.views.AccessEntry(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := ToAccessEntryResponse(entry)
	return &resp, nil
}

// GetSyncStatus reports the latest pass of an entity type
func (s *QueryService) GetSyncStatus(ctx context.Context, entityType string) (*SyncStatusResponse, error) {
	resp := &SyncStatusResponse{SyncStatus: integration.SyncStatus{EntityType: entityType, Errors: []integration.RecordError{}}}
	if s.halts != nil {
		resp.Halted = s.halts.Halted()[entityType]
	}

	run, err := s.runs.Latest(ctx, entityType)
	if errors.Is(err, shared.ErrNotFound) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	at := run.StartedAt
	if run.FinishedAt != nil {
		at = *run.FinishedAt
	}
	resp.LastRunAt = &at
	resp.LastStatus = run.Status
	resp.LastMode = run.Mode
	resp.Counts = run.Counts
	if len(run.Errors) > 0 {
		resp.Errors = run.Errors
	}
	return resp, nil
}

// fieldsMatch reports whether every wanted field renders equal to its value
func fieldsMatch(fields map[string]any, want map[string]string) bool {
	for k, v := range want {
		got, ok := fields[k]
		if !ok || fmt.Sprint(got) != v {
			return false
		}
	}
	return true
}
