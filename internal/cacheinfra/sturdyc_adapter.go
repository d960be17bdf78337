package cacheinfra

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/viccon/sturdyc"
)

// SturdycStore keeps cached query results in an in-process sturdyc client.
// It serves both the read-through service and the store the reconciler
// mutates.
type SturdycStore struct {
	client  *sturdyc.Client[any]
	stripes []sync.Mutex
}

// NewSturdycStore validates cfg and builds the sturdyc client.
//
// Capacity, NumShards, TTL and EvictionPercentage are passed to sturdyc.New,
// everything else through ToSturdycOptions.
func NewSturdycStore(cfg Config) (*SturdycStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	stripes := cfg.LockStripes
	if stripes <= 0 {
		stripes = 1
	}

	return &SturdycStore{
		client:  client,
		stripes: make([]sync.Mutex, stripes),
	}, nil
}

// validateFetchFn checks that fetchFn has the shape func(context.Context) (T, error).
func validateFetchFn(fetchFn any) error {
	if fetchFn == nil {
		return &ConfigError{Field: "fetchFn", Message: "cannot be nil"}
	}

	fnType := reflect.TypeOf(fetchFn)
	if fnType.Kind() != reflect.Func {
		return &ConfigError{Field: "fetchFn", Message: "must be a function"}
	}

	if fnType.NumIn() != 1 || fnType.NumOut() != 2 {
		return &ConfigError{Field: "fetchFn", Message: "must have signature func(context.Context) (T, error)"}
	}

	contextType := reflect.TypeOf((*context.Context)(nil)).Elem()
	if !fnType.In(0).Implements(contextType) {
		return &ConfigError{Field: "fetchFn", Message: "first parameter must be context.Context"}
	}

	errorType := reflect.TypeOf((*error)(nil)).Elem()
	if !fnType.Out(1).Implements(errorType) {
		return &ConfigError{Field: "fetchFn", Message: "second return value must be error"}
	}

	return nil
}

// GetOrFetch returns the cached value for key or stores the result of
// fetchFn. fetchFn may be any func(context.Context) (T, error).
func (s *SturdycStore) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	if err := validateFetchFn(fetchFn); err != nil {
		return nil, err
	}

	return s.client.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return callFetchFn(ctx, fetchFn)
	})
}

// callFetchFn expects fetchFn to have passed validateFetchFn.
func callFetchFn(ctx context.Context, fetchFn any) (any, error) {
	if fn, ok := fetchFn.(func(context.Context) (any, error)); ok {
		return fn(ctx)
	}

	results := reflect.ValueOf(fetchFn).Call([]reflect.Value{reflect.ValueOf(ctx)})

	var (
		result any
		err    error
	)
	if v := results[0]; v.IsValid() && v.CanInterface() {
		result = v.Interface()
	}
	if v := results[1]; v.IsValid() && !v.IsNil() {
		err = v.Interface().(error)
	}
	return result, err
}

// Keys lists every live key.
func (s *SturdycStore) Keys(ctx context.Context) ([]string, error) {
	return s.client.ScanKeys(), nil
}

// Get returns the value stored under key.
func (s *SturdycStore) Get(ctx context.Context, key string) (any, bool, error) {
	v, ok := s.client.Get(key)
	return v, ok, nil
}

// Set stores value under key with the configured TTL.
func (s *SturdycStore) Set(ctx context.Context, key string, value any) error {
	s.client.Set(key, value)
	return nil
}

func (s *SturdycStore) stripe(key string) *sync.Mutex {
	return &s.stripes[xxhash.Sum64String(key)%uint64(len(s.stripes))]
}

// Mutate applies delta to the value under key while holding the key's lock
// stripe. Unchanged results are not written back.
func (s *SturdycStore) Mutate(ctx context.Context, key string, delta func(current any) (any, bool)) error {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	current, ok := s.client.Get(key)
	if !ok {
		current = nil
	}

	next, changed := delta(current)
	if !changed {
		return nil
	}
	s.client.Set(key, next)
	return nil
}

// Delete removes a single entry.
func (s *SturdycStore) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix.
func (s *SturdycStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// InvalidateKeys removes the listed entries.
func (s *SturdycStore) InvalidateKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}
