package cacheinfra

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrMutateConflict is returned when a Mutate transaction keeps losing the
// race against concurrent writers.
var ErrMutateConflict = errors.New("cacheinfra: mutate retries exhausted")

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("cacheinfra: store closed")

// RedisStore keeps cached query results in Redis, msgpack encoded. Entries
// shared between processes are mutated with optimistic WATCH transactions.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	maxRetries int
}

// NewRedisStore connects to the server described by cfg.Redis.
func NewRedisStore(cfg Config) (*RedisStore, error) {
	cfg.Backend = BackendRedis
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Username:    cfg.Redis.Username,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	return NewRedisStoreWithClient(client, cfg.Redis.Prefix, cfg.TTL, cfg.Redis.MaxRetries), nil
}

// NewRedisStoreWithClient wraps an existing client. A zero ttl keeps entries
// until they are deleted.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration, maxRetries int) *RedisStore {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, maxRetries: maxRetries}
}

// Client exposes the underlying connection.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func external(err error, msg string) error {
	if errors.Is(err, redis.ErrClosed) {
		err = ErrStoreClosed
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, msg)
}

// Keys lists the keys under the store prefix, prefix stripped.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 256).Result()
		if err != nil {
			return nil, external(err, "redis scan failed")
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, s.prefix))
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Get returns the decoded value under key.
func (s *RedisStore) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, external(err, "redis get failed")
	}
	v, err := decode(data)
	if err != nil {
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "decode cached value")
	}
	return v, true, nil
}

// Set stores value under key.
func (s *RedisStore) Set(ctx context.Context, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "encode cached value")
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return external(err, "redis set failed")
	}
	return nil
}

// Mutate runs delta inside a WATCH transaction on key and retries when another
// writer changed the key first.
func (s *RedisStore) Mutate(ctx context.Context, key string, delta func(current any) (any, bool)) error {
	full := s.prefix + key

	txn := func(tx *redis.Tx) error {
		var current any
		data, err := tx.Get(ctx, full).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if current, err = decode(data); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "decode cached value")
			}
		}

		next, changed := delta(current)
		if !changed {
			return nil
		}
		encoded, err := encode(next)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "encode cached value")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, encoded, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txn, full)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return external(err, "redis mutate failed")
	}
	return ErrMutateConflict
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return external(err, "redis delete failed")
	}
	return nil
}

// DeleteByPrefix removes every key starting with prefix.
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	var matched []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, s.prefix+k)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, matched...).Err(); err != nil {
		return external(err, "redis delete failed")
	}
	return nil
}
