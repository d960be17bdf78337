package cache

import (
	"time"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// Backend names a Store implementation.
type Backend = cacheinfra.Backend

const (
	// BackendMemory keeps entries in process.
	BackendMemory = cacheinfra.BackendMemory
	// BackendRedis shares entries between processes through Redis.
	BackendRedis = cacheinfra.BackendRedis
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Backend              Backend
	Capacity             int
	NumShards            int
	TTL                  time.Duration
	EvictionPercentage   int
	EarlyRefresh         *EarlyRefreshConfig
	MissingRecordStorage bool
	EvictionInterval     time.Duration
	LockStripes          int
	Redis                RedisConfig
}

// EarlyRefreshConfig mirrors the underlying sturdyc early refresh options.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	Prefix      string
	MaxRetries  int
	DialTimeout time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewCacheService constructs the in-memory read-through service.
func NewCacheService(cfg Config) (CacheService, error) {
	store, err := cacheinfra.NewSturdycStore(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewStore constructs the Store selected by cfg.Backend.
func NewStore(cfg Config) (Store, error) {
	internal := cfg.toInternal()
	if err := internal.Validate(); err != nil {
		return nil, err
	}
	if internal.Backend == BackendRedis {
		store, err := cacheinfra.NewRedisStore(internal)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := cacheinfra.NewSturdycStore(internal)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemoryStore constructs an in-memory store that is also a CacheService,
// so read-through results and reconciled query results share one cache.
func NewMemoryStore(cfg Config) (*cacheinfra.SturdycStore, error) {
	cfg.Backend = BackendMemory
	return cacheinfra.NewSturdycStore(cfg.toInternal())
}

func (c Config) toInternal() cacheinfra.Config {
	var early *cacheinfra.EarlyRefreshConfig
	if c.EarlyRefresh != nil {
		early = &cacheinfra.EarlyRefreshConfig{
			MinAsyncRefreshTime: c.EarlyRefresh.MinAsyncRefreshTime,
			MaxAsyncRefreshTime: c.EarlyRefresh.MaxAsyncRefreshTime,
			SyncRefreshTime:     c.EarlyRefresh.SyncRefreshTime,
			RetryBaseDelay:      c.EarlyRefresh.RetryBaseDelay,
		}
	}

	return cacheinfra.Config{
		Backend:              c.Backend,
		Capacity:             c.Capacity,
		NumShards:            c.NumShards,
		TTL:                  c.TTL,
		EvictionPercentage:   c.EvictionPercentage,
		EarlyRefresh:         early,
		MissingRecordStorage: c.MissingRecordStorage,
		EvictionInterval:     c.EvictionInterval,
		LockStripes:          c.LockStripes,
		Redis:                cacheinfra.RedisConfig(c.Redis),
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	var early *EarlyRefreshConfig
	if cfg.EarlyRefresh != nil {
		early = &EarlyRefreshConfig{
			MinAsyncRefreshTime: cfg.EarlyRefresh.MinAsyncRefreshTime,
			MaxAsyncRefreshTime: cfg.EarlyRefresh.MaxAsyncRefreshTime,
			SyncRefreshTime:     cfg.EarlyRefresh.SyncRefreshTime,
			RetryBaseDelay:      cfg.EarlyRefresh.RetryBaseDelay,
		}
	}

	return Config{
		Backend:              cfg.Backend,
		Capacity:             cfg.Capacity,
		NumShards:            cfg.NumShards,
		TTL:                  cfg.TTL,
		EvictionPercentage:   cfg.EvictionPercentage,
		EarlyRefresh:         early,
		MissingRecordStorage: cfg.MissingRecordStorage,
		EvictionInterval:     cfg.EvictionInterval,
		LockStripes:          cfg.LockStripes,
		Redis:                RedisConfig(cfg.Redis),
	}
}
