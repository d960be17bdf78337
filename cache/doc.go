// Package cache defines the stores that hold cached query results and the
// helpers that populate them.
//
// # Overview
//
// Two interfaces cover the two ways an entry can be kept fresh:
//
//   - Store: entries keyed by an encoded query.Key. The reconcile package
//     rewrites them in place after a write through Store.Mutate.
//   - CacheService: read-through entries keyed by a KeySerializer. They are
//     opaque to the reconciler and are evicted instead.
//
// NewStore selects an implementation from Config.Backend. The memory backend
// is a sturdyc client that satisfies both interfaces; the Redis backend
// satisfies Store and shares entries between processes.
//
// # Basic Usage
//
//	store, err := cache.NewStore(cache.DefaultConfig())
//	key := query.Key{Schema: "public", Table: "contact", Query: "select=id,name&name=ilike.a*"}
//	rows, err := cache.FetchQuery(ctx, store, query.NewCodec(), key, func(ctx context.Context) ([]any, error) {
//		return client.Fetch(ctx, key)
//	})
//
// Read-through results use GetOrFetch with a serialized key:
//
//	serializer := cache.NewKeySerializer("repo::users")
//	user, err := cache.GetOrFetch(ctx, service, serializer.SerializeKey("GetByID", id), fetch)
//
// # Key Serialization
//
// Scalars are written verbatim. Maps, structs and other composite arguments
// are msgpack encoded with sorted map keys and digested with xxhash, so equal
// criteria produce equal keys across processes. Functions and channels are
// keyed by pointer and are only stable within one process.
//
// # Revalidation
//
// StoreRevalidator deletes the entries of a table, optionally only those whose
// filters admit a given column value. The reconciler calls it for tables that
// cannot be patched from the written row alone.
package cache
