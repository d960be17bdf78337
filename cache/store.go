package cache

import "context"

// DeltaFn computes the next value of a cache entry from its current one. The
// second result reports whether the value changed; an unchanged entry is not
// written back.
type DeltaFn = func(current any) (next any, changed bool)

// Store is the cache the reconciler maintains: it enumerates keys and applies
// deltas to one key atomically.
type Store interface {
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	// Mutate reads the current value of key (nil when absent), applies delta
	// and persists the result, serialized against other Mutate calls on the
	// same key.
	Mutate(ctx context.Context, key string, delta DeltaFn) error
	Delete(ctx context.Context, key string) error
}
