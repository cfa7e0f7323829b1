package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLeasePrefix = "crmsync:lease:"

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLeaseStore hands out leases shared by every process using the same
// Redis. Suitable when several sync workers run side by side.
type RedisLeaseStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisLeaseStore connects to Redis and verifies the connection
func NewRedisLeaseStore(cfg RedisConfig) (*RedisLeaseStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisLeaseStoreWithClient(client, ""), nil
}

// NewRedisLeaseStoreWithClient creates a store over an existing client
func NewRedisLeaseStoreWithClient(client *redis.Client, keyPrefix string) *RedisLeaseStore {
	if keyPrefix == "" {
		keyPrefix = defaultLeasePrefix
	}
	return &RedisLeaseStore{client: client, keyPrefix: keyPrefix}
}

// Acquire claims key for ttl with SET NX PX
func (s *RedisLeaseStore) Acquire(ctx context.Context, key string, ttl time.Duration) (shared.Lease, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, shared.ErrLeaseHeld
	}
	return &redisLease{store: s, key: key, token: token}, nil
}

// Close closes the Redis client
func (s *RedisLeaseStore) Close() error {
	return s.client.Close()
}

type redisLease struct {
	store *RedisLeaseStore
	key   string
	token string
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.store.client, []string{l.store.keyPrefix + l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

var _ shared.LeaseStore = (*RedisLeaseStore)(nil)
