package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// ErrInvalidResultType is returned when a cached value does not have the type
// the caller asked for.
var ErrInvalidResultType = errors.New("cache: cached value has unexpected type")

// ErrStoreClosed is returned by a Store used after Close.
var ErrStoreClosed = cacheinfra.ErrStoreClosed

// KeySerializer builds a cache key from a method name and arbitrary args.
// Keys must be stable across calls with equal arguments.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// FetchFn loads a value from the source of truth on a cache miss.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the read-through cache used for results that cannot be
// reconciled in place, such as repository reads keyed by opaque criteria.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error)
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	InvalidateKeys(ctx context.Context, keys []string) error
}

// GetOrFetch is the type-safe wrapper around CacheService.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T

	result, err := service.GetOrFetch(ctx, key, fetchFn)
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}

	typed, ok := asResult[T](result)
	if !ok {
		return zero, fmt.Errorf("%w: key %q holds %T", ErrInvalidResultType, key, result)
	}
	return typed, nil
}

// asResult returns v as a T. Values a remote store decoded without type
// information, such as []any for []query.Entity, are re-encoded with msgpack
// into T.
func asResult[T any](v any) (T, bool) {
	if typed, ok := v.(T); ok {
		return typed, true
	}
	var out T
	data, err := msgpack.Marshal(v)
	if err != nil {
		return out, false
	}
	if err := msgpack.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}
