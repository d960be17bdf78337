// Package reconcile keeps cached query results consistent with a single-row
// write without refetching from the server.
//
// After a row is written, MutateItem walks every cache key, keeps the ones
// that cache rows of the written table, and rewrites each cached value in
// place: the row is updated where it already appears and removed where it no
// longer satisfies the key's filters. UpsertItem also inserts it at its sorted
// position into the lists that do not hold it but whose filters it satisfies.
// DeleteItem is the removal-only counterpart. The written row reaches each
// key projected into that key's result shape, aliases included.
//
// Cached values come in several shapes (flat lists, paginated lists, wrapped
// single rows or lists with a count); each is reconciled by the same
// per-list algorithm. Keys whose query cannot be evaluated locally are left
// to the configured Revalidator.
package reconcile
