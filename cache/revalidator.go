package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-query-cache/filter"
	"github.com/goliatone/go-query-cache/query"
)

// StoreRevalidator revalidates by eviction: the matching entries are deleted
// so the next read refetches them.
type StoreRevalidator struct {
	Store   Store
	Codec   query.Codec
	Filters filter.Factory
	Logger  *slog.Logger
}

// NewStoreRevalidator creates a StoreRevalidator with the default codec and
// filter factory.
func NewStoreRevalidator(store Store, logger *slog.Logger) *StoreRevalidator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &StoreRevalidator{
		Store:   store,
		Codec:   query.NewCodec(),
		Filters: filter.New,
		Logger:  logger,
	}
}

// Revalidate deletes the entries of schema.table. With a column, entries whose
// filters on that column exclude value are kept.
func (r *StoreRevalidator) Revalidate(ctx context.Context, schema, table, column string, value any) error {
	keys, err := r.Store.Keys(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "list cache keys")
	}

	var errs []error
	for _, raw := range keys {
		key, ok := r.codec().Decode(raw)
		if !ok || !key.Matches(schema, table) {
			continue
		}
		if column != "" && !r.admits(*key, column, value) {
			continue
		}
		if err := r.Store.Delete(ctx, raw); err != nil {
			errs = append(errs, goerrors.Wrap(err, goerrors.CategoryExternal, "evict "+raw))
			continue
		}
		r.logger().Debug("cache entry revalidated", "key", raw, "schema", schema, "table", table)
	}
	return errors.Join(errs...)
}

func (r *StoreRevalidator) admits(key query.Key, column string, value any) bool {
	factory := r.Filters
	if factory == nil {
		factory = filter.New
	}
	ev, err := factory(key)
	if err != nil {
		// an entry we cannot evaluate may hold the row
		return true
	}
	paths := []string{column}
	if !ev.HasFiltersOnPaths(paths) {
		return true
	}
	return ev.ApplyFiltersOnPaths(query.Entity{column: value}, paths)
}

func (r *StoreRevalidator) codec() query.Codec {
	if r.Codec == nil {
		return query.NewCodec()
	}
	return r.Codec
}

func (r *StoreRevalidator) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}
