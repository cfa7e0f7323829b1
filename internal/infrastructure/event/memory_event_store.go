package event

import (
	"context"
	"sort"
	"sync"

	"github.com/erp/crmsync/internal/domain/integration"
)

// MemoryEventStore is an in-process event log.
// Appends are serialized; readers take a snapshot under a read lock and never
// observe a partially applied batch.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []integration.DomainEvent
	byType map[string][]int
}

// NewMemoryEventStore creates an empty event log
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{byType: make(map[string][]int)}
}

// Append stores one event
func (s *MemoryEventStore) Append(ctx context.Context, event *integration.DomainEvent) (int64, error) {
	if err := s.AppendAll(ctx, []*integration.DomainEvent{event}); err != nil {
		return 0, err
	}
	return event.EventID, nil
}

// AppendAll stores events all-or-nothing, assigning ids to those without one
func (s *MemoryEventStore) AppendAll(ctx context.Context, events []*integration.DomainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(events)
}

func (s *MemoryEventStore) appendLocked(events []*integration.DomainEvent) error {
	head := s.headLocked()
	next := head
	ids := make([]int64, len(events))
	for i, ev := range events {
		if ev.EventID == 0 {
			next++
			ids[i] = next
			continue
		}
		if ev.EventID <= next {
			return &integration.OutOfOrderError{EntityType: ev.EntityType, Supplied: ev.EventID, Head: next}
		}
		next = ev.EventID
		ids[i] = next
	}
	for i, ev := range events {
		ev.EventID = ids[i]
		s.byType[ev.EntityType] = append(s.byType[ev.EntityType], len(s.events))
		s.events = append(s.events, *ev)
	}
	return nil
}

// ListAfter returns up to limit events after afterID in id order
func (s *MemoryEventStore) ListAfter(ctx context.Context, entityType string, afterID int64, limit int) ([]integration.DomainEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []integration.DomainEvent
	if entityType == "" {
		start := sort.Search(len(s.events), func(i int) bool { return s.events[i].EventID > afterID })
		for i := start; i < len(s.events) && (limit <= 0 || len(out) < limit); i++ {
			out = append(out, s.events[i])
		}
		return out, nil
	}

	positions := s.byType[entityType]
	start := sort.Search(len(positions), func(i int) bool { return s.events[positions[i]].EventID > afterID })
	for i := start; i < len(positions) && (limit <= 0 || len(out) < limit); i++ {
		out = append(out, s.events[positions[i]])
	}
	return out, nil
}

// Head returns the highest event id
func (s *MemoryEventStore) Head(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headLocked(), nil
}

// TypeHead returns the highest event id of one entity type
func (s *MemoryEventStore) TypeHead(_ context.Context, entityType string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byType[entityType]
	if len(idx) == 0 {
		return 0, nil
	}
	return s.events[idx[len(idx)-1]].EventID, nil
}

func (s *MemoryEventStore) headLocked() int64 {
	if len(s.events) == 0 {
		return 0
	}
	return s.events[len(s.events)-1].EventID
}

// EntityTypes returns the entity types present in the log
func (s *MemoryEventStore) EntityTypes(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.byType))
	for t := range s.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}

var _ integration.EventStore = (*MemoryEventStore)(nil)
