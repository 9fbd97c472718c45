package session

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hray3182/DoseLine/internal/database"
)

// StoreType represents the type of session store.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypePostgres StoreType = "postgres"
)

const defaultTTL = 30 * 24 * time.Hour

// StoreOption is a functional option for configuring a session store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	db          *database.DB
	ttl         time.Duration
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithDatabase sets the connection pool for the Postgres store.
func WithDatabase(db *database.DB) StoreOption {
	return func(c *storeConfig) {
		c.db = db
	}
}

// WithTTL sets how long an untouched session is kept.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// NewStore creates a Store of the given type.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = defaultTTL
	}

	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(cfg.redisClient, cfg.ttl), nil
	case StoreTypePostgres:
		if cfg.db == nil {
			return nil, ErrInvalidConfig
		}
		return NewPostgresStore(cfg.db, cfg.ttl), nil
	default:
		return nil, ErrInvalidStoreType
	}
}
