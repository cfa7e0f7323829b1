package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/erp/crmsync/internal/domain/projection"
)

type projectionSpace struct {
	state      map[string][]byte
	watermarks map[string]int64
	status     projection.Status
}

// ProjectionStore keeps projection state in memory
type ProjectionStore struct {
	mu     sync.RWMutex
	spaces map[string]*projectionSpace
}

// NewProjectionStore creates an empty projection store
func NewProjectionStore() *ProjectionStore {
	return &ProjectionStore{spaces: make(map[string]*projectionSpace)}
}

func (s *ProjectionStore) space(name string) *projectionSpace {
	sp, ok := s.spaces[name]
	if !ok {
		sp = &projectionSpace{
			state:      make(map[string][]byte),
			watermarks: make(map[string]int64),
		}
		s.spaces[name] = sp
	}
	return sp
}

// Get returns one state value
func (s *ProjectionStore) Get(_ context.Context, name, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[name]
	if !ok {
		return nil, false, nil
	}
	v, ok := sp.state[key]
	return slices.Clone(v), ok, nil
}

// GetMany returns the values of the keys that exist
func (s *ProjectionStore) GetMany(_ context.Context, name string, keys []string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	sp, ok := s.spaces[name]
	if !ok {
		return out, nil
	}
	for _, k := range keys {
		if v, ok := sp.state[k]; ok {
			out[k] = slices.Clone(v)
		}
	}
	return out, nil
}

// Scan returns every entry whose key starts with prefix, ordered by key
func (s *ProjectionStore) Scan(_ context.Context, name, prefix string) ([]projection.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[name]
	if !ok {
		return nil, nil
	}
	var out []projection.KV
	for k, v := range sp.state {
		if strings.HasPrefix(k, prefix) {
			out = append(out, projection.KV{Key: k, Value: slices.Clone(v)})
		}
	}
	slices.SortFunc(out, func(a, b projection.KV) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// Watermark returns the last applied event id for an entity type
func (s *ProjectionStore) Watermark(_ context.Context, name, entityType string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sp, ok := s.spaces[name]; ok {
		return sp.watermarks[entityType], nil
	}
	return 0, nil
}

// Commit applies writes and moves the watermark under one lock
func (s *ProjectionStore) Commit(ctx context.Context, name, entityType string, watermark int64, writes []projection.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.space(name)
	for _, w := range writes {
		if w.Delete {
			delete(sp.state, w.Key)
			continue
		}
		sp.state[w.Key] = slices.Clone(w.Value)
	}
	sp.watermarks[entityType] = watermark
	sp.status.UpdatedAt = time.Now().UTC()
	return nil
}

// Halt marks the projection stopped on a failing event
func (s *ProjectionStore) Halt(_ context.Context, name string, eventID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.space(name)
	sp.status.Halted = true
	sp.status.FailedEventID = eventID
	sp.status.LastError = reason
	sp.status.UpdatedAt = time.Now().UTC()
	return nil
}

// ClearHalt removes the halt flag; watermarks are kept
func (s *ProjectionStore) ClearHalt(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.space(name)
	sp.status.Halted = false
	sp.status.FailedEventID = 0
	sp.status.LastError = ""
	return nil
}

// Status reports halt state and watermarks
func (s *ProjectionStore) Status(_ context.Context, name string) (*projection.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &projection.Status{Name: name, Watermarks: make(map[string]int64)}
	sp, ok := s.spaces[name]
	if !ok {
		return st, nil
	}
	st.Halted = sp.status.Halted
	st.FailedEventID = sp.status.FailedEventID
	st.LastError = sp.status.LastError
	st.UpdatedAt = sp.status.UpdatedAt
	for k, v := range sp.watermarks {
		st.Watermarks[k] = v
	}
	return st, nil
}

// Reset drops all state, watermarks and halt flags of a projection
func (s *ProjectionStore) Reset(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spaces, name)
	return nil
}

var _ projection.Store = (*ProjectionStore)(nil)
