// Package repositorycache provides a caching decorator for go-repository-bun
// repositories that keeps cached query results consistent after writes.
//
// # Overview
//
// ReconcilingRepository wraps a base repository. Criteria-based reads are
// cached read-through under serialized keys. Writes go to the base repository
// first; on success the decorator updates the cache:
//
//   - Create, GetOrCreate, Update, Upsert and their variants upsert the
//     returned record into every cached query result of the table through a
//     reconcile.Reconciler: held rows are merged, new ones inserted where the
//     query admits them.
//   - Delete and ForceDelete remove the record from those results.
//   - Criteria deletes return no rows and revalidate the table.
//
// Read-through entries are keyed by criteria functions and cannot be matched
// against a row, so every write evicts them by method prefix.
//
// # Basic Usage
//
//	store, _ := cache.NewMemoryStore(cache.DefaultConfig())
//	reconciler, _ := reconcile.New(reconcile.Deps{Store: store})
//
//	users, err := repositorycache.New[*User](base, store, reconciler,
//		repositorycache.WithRevalidator(cache.NewStoreRevalidator(store, logger)),
//	)
//
//	user, err := users.GetByID(ctx, "user-123")
//	_, err = users.Update(ctx, user) // cached lists holding user-123 are patched
//
// # Table Mapping
//
// The table and primary key columns come from the bun tags of the model:
//
//	type User struct {
//		bun.BaseModel `bun:"table:public.users"`
//		ID   string `bun:"id,pk"`
//		Name string `bun:"name"`
//	}
//
// Records become rows by column name: the bun tag, then the json tag, then the
// snake_case field name. Relations and fields tagged "-" are left out.
// WithEntityMapper replaces the mapping; MsgpackEntity keeps nested structs
// for rows with embedded relations.
//
// # Transactions
//
// *Tx reads bypass the cache. *Tx writes reconcile immediately after the base
// call returns, before the caller commits.
//
// # Tags
//
// WithCacheTags attaches tags to a context; reads made with it can later be
// evicted together with InvalidateTags.
//
// # Error Handling
//
// Errors from the base repository are returned unchanged. Reconciliation and
// eviction failures are logged and never fail a write that succeeded.
package repositorycache
