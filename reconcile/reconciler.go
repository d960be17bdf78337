package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/filter"
	"github.com/goliatone/go-query-cache/query"
)

// Revalidator asks the cache to refresh the entries of a table. column and
// value narrow the request to entries whose filters on column admit value; an
// empty column targets every entry of the table.
type Revalidator interface {
	Revalidate(ctx context.Context, schema, table, column string, value any) error
}

// RevalidatorFunc adapts a function to Revalidator.
type RevalidatorFunc func(ctx context.Context, schema, table, column string, value any) error

// Revalidate implements Revalidator.
func (f RevalidatorFunc) Revalidate(ctx context.Context, schema, table, column string, value any) error {
	return f(ctx, schema, table, column, value)
}

// Deps are the collaborators a Reconciler works against. Store is required;
// Codec and Filters default to query.NewCodec and filter.New.
type Deps struct {
	Store       cache.Store
	Codec       query.Codec
	Filters     filter.Factory
	Revalidator Revalidator
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the structured logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records per-key outcomes and timings.
func WithMetrics(m *Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithPageRelocation lets an update move a row across pages of a paginated
// entry: pages are flattened, reconciled as one list and cut back into pages
// of the key's limit. By default a row stays on the page it was found on.
func WithPageRelocation(enabled bool) Option {
	return func(r *Reconciler) {
		r.relocate = enabled
	}
}

// WithConcurrency bounds how many keys are written in parallel. Keys are
// independent, so values above one only trade ordering of setter calls for
// throughput.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// Reconciler applies single-row writes to every cache entry that may hold the
// row.
type Reconciler struct {
	store       cache.Store
	codec       query.Codec
	filters     filter.Factory
	revalidator Revalidator

	logger      *slog.Logger
	metrics     *Metrics
	relocate    bool
	concurrency int
}

// New creates a Reconciler.
func New(deps Deps, opts ...Option) (*Reconciler, error) {
	if deps.Store == nil {
		return nil, goerrors.New("reconciler requires a cache store", goerrors.CategoryValidation)
	}

	r := &Reconciler{
		store:       deps.Store,
		codec:       deps.Codec,
		filters:     deps.Filters,
		revalidator: deps.Revalidator,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		concurrency: 1,
	}
	if r.codec == nil {
		r.codec = query.NewCodec()
	}
	if r.filters == nil {
		r.filters = filter.New
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// MutateItem reconciles a write of op.Input into every cache entry of
// op.Schema.op.Table and triggers the declared revalidations. Rows the cache
// holds are updated, moved or removed; rows it does not hold are left alone.
// An input without a value for every primary key is logged and ignored.
func (r *Reconciler) MutateItem(ctx context.Context, op Operation) error {
	if err := op.validate(); err != nil {
		return err
	}
	return r.run(ctx, op, "mutate", r.writeDelta(op, false))
}

// UpsertItem is MutateItem that also inserts the written row into cached
// lists that do not hold it but whose query admits it. Inserted rows take
// their order-by position, wrapped list counts grow with them, and a
// paginated entry receives the row on its first page.
func (r *Reconciler) UpsertItem(ctx context.Context, op Operation) error {
	if err := op.validate(); err != nil {
		return err
	}
	return r.run(ctx, op, "upsert", r.writeDelta(op, true))
}

// writeDelta projects the input into each entry's result shape before the
// mutate function sees it, so aliased columns are written under their alias
// and filters evaluate the new values.
func (r *Reconciler) writeDelta(op Operation, insert bool) deltaBuilder {
	mutate := op.mutate()
	return func(key query.Key, ev filter.Evaluator, pk []any) cache.DeltaFn {
		var relocate *int
		if r.relocate {
			relocate = key.Limit
		}
		input := ev.Denormalize(op.Input)
		admits := admitter(ev, op.Input)
		order := key.Order()
		rows := rowOp{
			list: func(items []query.Entity) ([]query.Entity, bool) {
				return MutateList(pk, input, mutate, items, op.PrimaryKeys, admits, order)
			},
			item: func(e query.Entity) (query.Entity, bool) {
				if !query.SamePrimaryKey(e, op.PrimaryKeys, pk) {
					return nil, false
				}
				updated := mutate(maps.Clone(e), input)
				if !admits.Apply(updated) {
					return nil, true
				}
				return updated, true
			},
		}
		if insert {
			rows.insert = func(items []query.Entity) ([]query.Entity, bool) {
				return InsertIntoList(input, items, admits, order)
			}
		}
		return func(current any) (any, bool) {
			return classify(key, current).apply(rows, relocate)
		}
	}
}

type admitFunc func(query.Entity) bool

func (f admitFunc) Apply(e query.Entity) bool { return f(e) }

// admitter evaluates ev on result rows with the written row's columns filling
// in the ones the result does not select, so filters on unselected columns
// see the written values. The rows themselves are not extended.
func admitter(ev filter.Evaluator, input query.Entity) Applier {
	return admitFunc(func(e query.Entity) bool {
		view := maps.Clone(e)
		for k, v := range input {
			if _, ok := view[k]; !ok {
				view[k] = v
			}
		}
		return ev.Apply(view)
	})
}

// DeleteItem removes the row identified by op.Input from every cache entry of
// op.Schema.op.Table. Wrapped list counts are decremented; a wrapped single row
// becomes nil.
func (r *Reconciler) DeleteItem(ctx context.Context, op Operation) error {
	if err := op.validate(); err != nil {
		return err
	}
	return r.run(ctx, op, "delete", func(key query.Key, _ filter.Evaluator, pk []any) cache.DeltaFn {
		rows := rowOp{
			list: func(items []query.Entity) ([]query.Entity, bool) {
				return RemoveFromList(pk, items, op.PrimaryKeys)
			},
			item: func(e query.Entity) (query.Entity, bool) {
				return nil, query.SamePrimaryKey(e, op.PrimaryKeys, pk)
			},
		}
		return func(current any) (any, bool) {
			return classify(key, current).apply(rows, nil)
		}
	})
}

type deltaBuilder func(key query.Key, ev filter.Evaluator, pk []any) cache.DeltaFn

func (r *Reconciler) run(ctx context.Context, op Operation, kind string, build deltaBuilder) error {
	start := time.Now()
	defer r.metrics.observe(start)

	logger := r.logger.With(
		"mutation_id", uuid.NewString(),
		"kind", kind,
		"schema", op.Schema,
		"table", op.Table,
	)

	pk, addressable := query.PrimaryKey(op.Input, op.PrimaryKeys)
	r.revalidate(ctx, logger, op, pk)

	if !addressable {
		logger.Warn("write is missing a primary key value, cache entries left untouched",
			"primary_keys", op.PrimaryKeys,
		)
		r.metrics.key(OutcomeSkippedMissingKey)
		return nil
	}

	keys, err := r.store.Keys(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "list cache keys")
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		sem  = make(chan struct{}, r.concurrency)
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, raw := range keys {
		if err := ctx.Err(); err != nil {
			fail(err)
			break
		}

		key, ok := r.codec.Decode(raw)
		if !ok || key == nil {
			r.metrics.key(OutcomeSkippedDecode)
			continue
		}
		if !key.Matches(op.Schema, op.Table) {
			r.metrics.key(OutcomeSkippedTable)
			continue
		}

		ev, err := r.filters(*key)
		if err != nil {
			logger.Warn("cannot evaluate cached query, entry left untouched", "key", raw, "error", err)
			r.metrics.key(OutcomeSkippedFilterErr)
			continue
		}
		if ev.HasFiltersOnPaths(op.PrimaryKeys) && !ev.ApplyFiltersOnPaths(op.Input, op.PrimaryKeys) {
			logger.Debug("primary key excluded by query filters", "key", raw)
			r.metrics.key(OutcomeSkippedPKFilter)
			continue
		}

		delta := r.observed(build(*key, ev, pk))

		sem <- struct{}{}
		wg.Add(1)
		go func(raw string, delta cache.DeltaFn) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			if err := r.store.Mutate(ctx, raw, delta); err != nil {
				logger.Error("cache setter failed", "key", raw, "error", err)
				r.metrics.key(OutcomeError)
				fail(goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("reconcile cache key %q", raw)))
			}
		}(raw, delta)
	}

	wg.Wait()
	return errors.Join(dedupe(errs)...)
}

// observed counts whether the delta changed the entry once the store runs it.
func (r *Reconciler) observed(delta cache.DeltaFn) cache.DeltaFn {
	return func(current any) (any, bool) {
		next, changed := delta(current)
		if changed {
			r.metrics.key(OutcomeMutated)
		} else {
			r.metrics.key(OutcomeUnchanged)
		}
		return next, changed
	}
}

func (r *Reconciler) revalidate(ctx context.Context, logger *slog.Logger, op Operation, pk []any) {
	if len(op.RevalidateTables) == 0 && len(op.RevalidateRelations) == 0 {
		return
	}
	if r.revalidator == nil {
		logger.Debug("no revalidator configured, revalidation targets ignored")
		return
	}

	var id any
	switch len(pk) {
	case 0:
	case 1:
		id = pk[0]
	default:
		id = pk
	}

	for _, t := range op.RevalidateTables {
		r.metrics.revalidation("table")
		if err := r.revalidator.Revalidate(ctx, t.Schema, t.Table, "", id); err != nil {
			r.metrics.revalidation("failed")
			logger.Warn("revalidation failed", "target_schema", t.Schema, "target_table", t.Table, "error", err)
		}
	}
	for _, rel := range op.RevalidateRelations {
		r.metrics.revalidation("relation")
		if err := r.revalidator.Revalidate(ctx, rel.Schema, rel.Relation, rel.RelationIDColumn, op.Input[rel.FKeyColumn]); err != nil {
			r.metrics.revalidation("failed")
			logger.Warn("revalidation failed", "target_schema", rel.Schema, "target_table", rel.Relation, "error", err)
		}
	}
}

// dedupe collapses repeated context errors so a cancelled run reports once.
func dedupe(errs []error) []error {
	out := errs[:0]
	seenCtx := false
	for _, err := range errs {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if seenCtx {
				continue
			}
			seenCtx = true
		}
		out = append(out, err)
	}
	return out
}
