package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/google/uuid"
)

type leaseEntry struct {
	token     uuid.UUID
	expiresAt time.Time
}

// InMemoryLeaseStore hands out leases within one process.
// Suitable for single-instance deployments and tests.
type InMemoryLeaseStore struct {
	mu        sync.Mutex
	entries   map[string]leaseEntry
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryLeaseStore creates a store and starts its expiry sweeper
func NewInMemoryLeaseStore() *InMemoryLeaseStore {
	s := &InMemoryLeaseStore{
		entries:  make(map[string]leaseEntry),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.cleanupLoop()
	return s
}

// Acquire claims key for ttl. An expired holder loses the key.
func (s *InMemoryLeaseStore) Acquire(ctx context.Context, key string, ttl time.Duration) (shared.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, held := s.entries[key]; held && now.Before(e.expiresAt) {
		return nil, shared.ErrLeaseHeld
	}
	token := uuid.New()
	s.entries[key] = leaseEntry{token: token, expiresAt: now.Add(ttl)}
	return &memoryLease{store: s, key: key, token: token}, nil
}

// Close stops the sweeper. Safe to call multiple times.
func (s *InMemoryLeaseStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// Held returns the number of unexpired leases
func (s *InMemoryLeaseStore) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := s.now()
	for _, e := range s.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

func (s *InMemoryLeaseStore) release(key string, token uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.token == token {
		delete(s.entries, key)
	}
}

func (s *InMemoryLeaseStore) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryLeaseStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

type memoryLease struct {
	store *InMemoryLeaseStore
	key   string
	token uuid.UUID
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Release(context.Context) error {
	l.store.release(l.key, l.token)
	return nil
}

var _ shared.LeaseStore = (*InMemoryLeaseStore)(nil)
