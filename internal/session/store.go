package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an idle session survives
const DefaultTTL = 30 * time.Minute

// Store holds live session state keyed by an opaque session key
type Store interface {
	// Get returns a copy of the state, or ErrNotFound
	Get(ctx context.Context, key string) (*State, error)

	// Set replaces the state and refreshes its expiry
	Set(ctx context.Context, key string, state *State) error

	// Clear removes the state. Clearing a missing key is not an error.
	Clear(ctx context.Context, key string) error

	// Close releases the store's resources
	Close() error
}

// StoreType represents the type of session store
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// StoreOption is a functional option for configuring a session store
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient     *redis.Client
	keyPrefix       string
	ttl             time.Duration
	cleanupInterval time.Duration
	logger          *slog.Logger
	onExpire        ExpiryHandler
}

// WithRedisClient sets the Redis client for the Redis store
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithKeyPrefix overrides the Redis key prefix
func WithKeyPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		c.keyPrefix = prefix
	}
}

// WithTTL sets the idle lifetime of a session
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// WithCleanupInterval sets how often the memory store sweeps idle sessions
func WithCleanupInterval(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.cleanupInterval = d
	}
}

// WithExpiryHandler registers a callback for sessions the memory store
// sweeps after their TTL. Redis expires keys server-side, so the Redis store
// never calls it.
func WithExpiryHandler(fn ExpiryHandler) StoreOption {
	return func(c *storeConfig) {
		c.onExpire = fn
	}
}

// WithLogger sets the store logger
func WithLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// NewStore creates a Store for the given driver. The Redis driver requires
// WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{
		keyPrefix:       "voice:session:",
		ttl:             DefaultTTL,
		cleanupInterval: 30 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(config)
	}
	if config.ttl <= 0 {
		config.ttl = DefaultTTL
	}

	switch storeType {
	case StoreTypeMemory:
		return newSweepingStore(config.ttl, config.cleanupInterval, config.logger, config.onExpire), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(config.redisClient, config.keyPrefix, config.ttl), nil

	default:
		return nil, ErrInvalidStoreType
	}
}
