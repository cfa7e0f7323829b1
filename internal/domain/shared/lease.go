package shared

import (
	"context"
	"time"
)

// Lease is an exclusive, time-bounded claim on a key
type Lease interface {
	// Key returns the leased key
	Key() string
	// Release gives the lease up. Releasing an expired or stolen lease is a no-op.
	Release(ctx context.Context) error
}

// LeaseStore hands out exclusive leases.
// Acquire returns ErrLeaseHeld when another holder owns the key.
type LeaseStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	Close() error
}
