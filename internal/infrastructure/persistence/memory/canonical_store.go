package memory

import (
	"bytes"
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/erp/crmsync/internal/infrastructure/event"
	"github.com/google/uuid"
)

// CanonicalStore holds canonical entities and commits them with their events.
// It implements both integration.CanonicalRepository and integration.Ledger.
type CanonicalStore struct {
	mu       sync.RWMutex
	entities map[uuid.UUID]integration.CanonicalEntity
	events   *event.MemoryEventStore
}

// NewCanonicalStore creates a store whose commits append to events
func NewCanonicalStore(events *event.MemoryEventStore) *CanonicalStore {
	return &CanonicalStore{
		entities: make(map[uuid.UUID]integration.CanonicalEntity),
		events:   events,
	}
}

// Commit appends the events and, only if that succeeds, stores the entities
func (s *CanonicalStore) Commit(ctx context.Context, changes []integration.Change) error {
	if len(changes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]*integration.DomainEvent, len(changes))
	for i := range changes {
		events[i] = &changes[i].Event
	}
	if err := s.events.AppendAll(ctx, events); err != nil {
		return err
	}
	for _, c := range changes {
		s.entities[c.Entity.CanonicalID] = cloneEntity(c.Entity)
	}
	return nil
}

// FindByID returns the entity or shared.ErrNotFound
func (s *CanonicalStore) FindByID(_ context.Context, canonicalID uuid.UUID) (*integration.CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[canonicalID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	out := cloneEntity(e)
	return &out, nil
}

// ListByType returns every entity of a type ordered by canonical id
func (s *CanonicalStore) ListByType(_ context.Context, entityType string) ([]integration.CanonicalEntity, error) {
	return s.collect(integration.CanonicalFilter{EntityType: entityType, IncludeInactive: true}), nil
}

// List returns a page of entities and the total match count
func (s *CanonicalStore) List(_ context.Context, filter integration.CanonicalFilter) ([]integration.CanonicalEntity, int64, error) {
	all := s.collect(filter)
	total := int64(len(all))
	start := min(max(filter.Offset, 0), len(all))
	end := len(all)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(all))
	}
	return all[start:end], total, nil
}

func (s *CanonicalStore) collect(filter integration.CanonicalFilter) []integration.CanonicalEntity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]integration.CanonicalEntity, 0)
	for _, e := range s.entities {
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if !filter.IncludeInactive && !e.IsActive {
			continue
		}
		out = append(out, cloneEntity(e))
	}
	slices.SortFunc(out, func(a, b integration.CanonicalEntity) int {
		c := compareBy(filter.SortBy, a, b)
		if strings.EqualFold(filter.SortOrder, "DESC") {
			c = -c
		}
		if c != 0 {
			return c
		}
		return bytes.Compare(a.CanonicalID[:], b.CanonicalID[:])
	})
	return out
}

func compareBy(field string, a, b integration.CanonicalEntity) int {
	switch field {
	case "entity_type":
		return strings.Compare(a.EntityType, b.EntityType)
	case "quality_score":
		return cmp.Compare(a.QualityScore, b.QualityScore)
	case "first_seen_at":
		return a.FirstSeenAt.Compare(b.FirstSeenAt)
	case "last_updated_at":
		return a.LastUpdatedAt.Compare(b.LastUpdatedAt)
	default:
		return bytes.Compare(a.CanonicalID[:], b.CanonicalID[:])
	}
}

func cloneEntity(e integration.CanonicalEntity) integration.CanonicalEntity {
	e.NormalizedFields = maps.Clone(e.NormalizedFields)
	e.SourceRefs = slices.Clone(e.SourceRefs)
	return e
}

var (
	_ integration.CanonicalRepository = (*CanonicalStore)(nil)
	_ integration.Ledger              = (*CanonicalStore)(nil)
)
