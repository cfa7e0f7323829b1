package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/google/uuid"
)

// RawStore is an append-only in-memory landing zone
type RawStore struct {
	mu      sync.RWMutex
	records []integration.RawRecord
}

// NewRawStore creates an empty raw store
func NewRawStore() *RawStore {
	return &RawStore{}
}

// Append lands records
func (s *RawStore) Append(ctx context.Context, records []integration.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r.Payload = r.Payload.Clone()
		s.records = append(s.records, r)
	}
	return nil
}

// ListBySource returns the landing history of one source record, oldest first
func (s *RawStore) ListBySource(_ context.Context, source, entityType, sourceID string) ([]integration.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []integration.RawRecord
	for _, r := range s.records {
		if r.Source == source && r.EntityType == entityType && r.SourceID == sourceID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IngestedAt.Before(out[j].IngestedAt) })
	return out, nil
}

// ListByBatch returns every record landed by a sync pass
func (s *RawStore) ListByBatch(_ context.Context, batchID uuid.UUID) ([]integration.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []integration.RawRecord
	for _, r := range s.records {
		if r.BatchID == batchID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

// Len returns the number of landed records
func (s *RawStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ integration.RawStore = (*RawStore)(nil)
