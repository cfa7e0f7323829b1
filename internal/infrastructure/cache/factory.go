// Package cache provides the lease stores that keep one reconciliation pass
// per entity type in flight.
package cache

import (
	"fmt"

	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/erp/crmsync/internal/infrastructure/config"
	"go.uber.org/zap"
)

// LeaseStoreFactory creates lease stores based on configuration
type LeaseStoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// LeaseStoreFactoryOption configures the factory
type LeaseStoreFactoryOption func(*LeaseStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) LeaseStoreFactoryOption {
	return func(f *LeaseStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to
// process-local leases. Default true.
func WithInMemoryFallback(allow bool) LeaseStoreFactoryOption {
	return func(f *LeaseStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewLeaseStoreFactory creates a new factory
func NewLeaseStoreFactory(cfg config.RedisConfig, opts ...LeaseStoreFactoryOption) *LeaseStoreFactory {
	f := &LeaseStoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore returns a Redis store when Redis is enabled and reachable,
// otherwise an in-memory one (if fallback is allowed).
func (f *LeaseStoreFactory) CreateStore() (shared.LeaseStore, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Using in-memory lease store")
		return NewInMemoryLeaseStore(), nil
	}

	store, err := NewRedisLeaseStore(RedisConfig{
		Addr:     f.redisConfig.Addr(),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err == nil {
		f.logger.Info("Using Redis lease store", zap.String("addr", f.redisConfig.Addr()))
		return store, nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for sync leases but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory leases. "+
		"Concurrent workers in other processes will not be excluded.",
		zap.Error(err),
	)
	return NewInMemoryLeaseStore(), nil
}
