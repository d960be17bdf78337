package cacheinfra

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/viccon/sturdyc"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// Config holds the settings of every store backend. Only the fields of the
// selected Backend are validated.
type Config struct {
	// Backend selects the store. Default: memory.
	Backend Backend

	// Capacity defines the maximum number of entries that the cache can store.
	Capacity int

	// NumShards determines the number of sturdyc shards. Default: 256
	NumShards int

	// TTL is the time-to-live of cached entries, for both backends.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EarlyRefresh configures early refresh of read-through entries. If nil,
	// early refresh is disabled.
	EarlyRefresh *EarlyRefreshConfig

	// MissingRecordStorage remembers keys whose fetch returned no record.
	MissingRecordStorage bool

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration

	// LockStripes is the number of mutexes serializing Mutate calls in the
	// memory store. Keys hashing to the same stripe wait for each other.
	LockStripes int

	Redis RedisConfig
}

// EarlyRefreshConfig configures early refresh behavior.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	// Prefix namespaces every key the store writes or lists.
	Prefix string
	// MaxRetries bounds optimistic transaction retries of one Mutate.
	MaxRetries  int
	DialTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Backend:            BackendMemory,
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		EarlyRefresh: &EarlyRefreshConfig{
			MinAsyncRefreshTime: 10 * time.Second,
			MaxAsyncRefreshTime: 20 * time.Second,
			SyncRefreshTime:     30 * time.Second,
			RetryBaseDelay:      100 * time.Millisecond,
		},
		MissingRecordStorage: true,
		LockStripes:          64,
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			Prefix:      "qcache:",
			MaxRetries:  8,
			DialTimeout: 2 * time.Second,
		},
	}
}

// ToSturdycOptions maps the optional settings to sturdyc options. Capacity,
// NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}

	if c.MissingRecordStorage {
		options = append(options, sturdyc.WithMissingRecordStorage())
	}

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

func (c Config) backend() Backend {
	if c.Backend == "" {
		return BackendMemory
	}
	return c.Backend
}

// Validate checks the settings of the selected backend.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.In(BackendMemory, BackendRedis)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Nanosecond)),
		validation.Field(&c.Capacity, validation.When(c.backend() == BackendMemory, validation.Required, validation.Min(1))),
		validation.Field(&c.NumShards, validation.When(c.backend() == BackendMemory, validation.Required, validation.Min(1))),
		validation.Field(&c.EvictionPercentage, validation.When(c.backend() == BackendMemory, validation.Required, validation.Min(1), validation.Max(100))),
		validation.Field(&c.LockStripes, validation.Min(0)),
		validation.Field(&c.EarlyRefresh),
		validation.Field(&c.Redis, validation.When(c.backend() == BackendRedis, validation.By(func(any) error {
			return c.Redis.validate()
		}))),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid cache config")
	}
	return nil
}

// Validate implements validation.Validatable.
func (e EarlyRefreshConfig) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.MinAsyncRefreshTime, validation.Min(time.Duration(0))),
		validation.Field(&e.MaxAsyncRefreshTime, validation.Min(time.Duration(0))),
		validation.Field(&e.SyncRefreshTime, validation.Min(time.Duration(0))),
		validation.Field(&e.RetryBaseDelay, validation.Min(time.Duration(0))),
	)
}

func (r RedisConfig) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Addr, validation.Required),
		validation.Field(&r.DB, validation.Min(0)),
		validation.Field(&r.MaxRetries, validation.Min(0)),
	)
}

// ConfigError reports an argument that cannot be used, such as a fetch
// function of the wrong shape.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
