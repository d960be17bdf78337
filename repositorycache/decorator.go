package repositorycache

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/query"
	"github.com/goliatone/go-query-cache/reconcile"
)

var _ repository.Repository[any] = (*ReconcilingRepository[any])(nil)

// KeyPrefix starts every read-through key the decorator writes. Those keys do
// not decode as query keys, so the reconciler leaves them alone.
const KeyPrefix = "repo"

// Reconciler applies single-row writes to cached query results.
type Reconciler interface {
	UpsertItem(ctx context.Context, op reconcile.Operation) error
	DeleteItem(ctx context.Context, op reconcile.Operation) error
}

// listResult wraps the tuple result from List operations for caching
type listResult[T any] struct {
	Records []T `json:"records"`
	Total   int `json:"total"`
}

// Option configures a ReconcilingRepository.
type Option func(*options)

type options struct {
	schema       string
	table        string
	primaryKeys  []string
	mapper       EntityMapper
	serializer   cache.KeySerializer
	revalidator  reconcile.Revalidator
	logger       *slog.Logger
	revalTables  []reconcile.RevalidateTable
	revalRelated []reconcile.RevalidateRelation
}

// WithSchema sets the schema of the table. Default: public, unless the model
// tag names one.
func WithSchema(schema string) Option {
	return func(o *options) { o.schema = schema }
}

// WithTable overrides the table name read from the model tags.
func WithTable(table string) Option {
	return func(o *options) { o.table = table }
}

// WithPrimaryKeys overrides the primary key columns read from the model tags.
func WithPrimaryKeys(columns ...string) Option {
	return func(o *options) { o.primaryKeys = columns }
}

// WithEntityMapper replaces StructEntity as the record to row mapping.
func WithEntityMapper(mapper EntityMapper) Option {
	return func(o *options) { o.mapper = mapper }
}

// WithKeySerializer replaces the serializer of read-through keys. Keys must
// keep the prefix the default serializer uses or they will not be invalidated.
func WithKeySerializer(serializer cache.KeySerializer) Option {
	return func(o *options) { o.serializer = serializer }
}

// WithRevalidator sets what revalidates the table after writes that carry no
// record, such as DeleteWhere.
func WithRevalidator(revalidator reconcile.Revalidator) Option {
	return func(o *options) { o.revalidator = revalidator }
}

// WithLogger sets the structured logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRevalidateTables lists tables to revalidate after every write.
func WithRevalidateTables(tables ...reconcile.RevalidateTable) Option {
	return func(o *options) { o.revalTables = append(o.revalTables, tables...) }
}

// WithRevalidateRelations lists related tables to revalidate for the row a
// written record references.
func WithRevalidateRelations(relations ...reconcile.RevalidateRelation) Option {
	return func(o *options) { o.revalRelated = append(o.revalRelated, relations...) }
}

// ReconcilingRepository decorates a base repository with caching. Reads go
// through the CacheService; writes patch the cached query results of the
// table in place through the Reconciler and evict the read-through entries.
type ReconcilingRepository[T any] struct {
	base          repository.Repository[T]
	cache         cache.CacheService
	reconciler    Reconciler
	keySerializer cache.KeySerializer
	keyRegistry   *xsync.MapOf[string, []string] // read-through key -> tags
	opts          options
	prefix        string
}

// New wraps base. The table and primary keys come from the bun tags of T
// unless overridden.
func New[T any](base repository.Repository[T], service cache.CacheService, reconciler Reconciler, opts ...Option) (*ReconcilingRepository[T], error) {
	o := options{
		mapper: StructEntity,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var zero T
	if o.table == "" || len(o.primaryKeys) == 0 {
		info, err := InspectModel(zero)
		if err != nil {
			return nil, err
		}
		if o.table == "" {
			o.table = info.Table
		}
		if o.schema == "" {
			o.schema = info.Schema
		}
		if len(o.primaryKeys) == 0 {
			o.primaryKeys = info.PrimaryKeys
		}
	}
	if o.schema == "" {
		o.schema = "public"
	}
	if len(o.primaryKeys) == 0 {
		o.primaryKeys = []string{"id"}
	}

	prefix := strings.Join([]string{KeyPrefix, o.schema, o.table}, cache.KeySeparator)
	if o.serializer == nil {
		o.serializer = cache.NewKeySerializer(prefix)
	}

	return &ReconcilingRepository[T]{
		base:          base,
		cache:         service,
		reconciler:    reconciler,
		keySerializer: o.serializer,
		keyRegistry:   xsync.NewMapOf[string, []string](),
		opts:          o,
		prefix:        prefix + cache.KeySeparator,
	}, nil
}

// Table returns the schema and table the repository reconciles.
func (c *ReconcilingRepository[T]) Table() (schema, table string) {
	return c.opts.schema, c.opts.table
}

// Get retrieves a single record using the provided criteria, with caching
func (c *ReconcilingRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	key := c.keySerializer.SerializeKey("Get", criteria)
	c.trackKey(ctx, key)
	return cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (T, error) {
		return c.base.Get(ctx, criteria...)
	})
}

// GetByID retrieves a record by ID with optional criteria, with caching
func (c *ReconcilingRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	key := c.keySerializer.SerializeKey("GetByID", id, criteria)
	c.trackKey(ctx, key)
	return cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (T, error) {
		return c.base.GetByID(ctx, id, criteria...)
	})
}

// List retrieves multiple records using the provided criteria, with caching
func (c *ReconcilingRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	key := c.keySerializer.SerializeKey("List", criteria)
	c.trackKey(ctx, key)
	res, err := cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (listResult[T], error) {
		records, total, err := c.base.List(ctx, criteria...)
		return listResult[T]{Records: records, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

// Count returns the number of records matching the criteria, with caching
func (c *ReconcilingRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	key := c.keySerializer.SerializeKey("Count", criteria)
	c.trackKey(ctx, key)
	return cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (int, error) {
		return c.base.Count(ctx, criteria...)
	})
}

// GetByIdentifier retrieves a record by identifier with optional criteria, with caching
func (c *ReconcilingRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	key := c.keySerializer.SerializeKey("GetByIdentifier", identifier, criteria)
	c.trackKey(ctx, key)
	return cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (T, error) {
		return c.base.GetByIdentifier(ctx, identifier, criteria...)
	})
}

// Create creates a record and inserts the stored row into the cached results
// whose queries admit it.
func (c *ReconcilingRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.Create(ctx, record, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result)
	}
	return result, err
}

// CreateTx creates a new record within a transaction
func (c *ReconcilingRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.CreateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result)
	}
	return result, err
}

// CreateMany creates multiple records
func (c *ReconcilingRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateMany(ctx, records, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result...)
	}
	return result, err
}

// CreateManyTx creates multiple records within a transaction
func (c *ReconcilingRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result...)
	}
	return result, err
}

// GetOrCreate gets a record or creates it if it doesn't exist
func (c *ReconcilingRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := c.base.GetOrCreate(ctx, record)
	if err == nil {
		c.afterUpsert(ctx, result)
	}
	return result, err
}

// GetOrCreateTx gets a record or creates it if it doesn't exist within a transaction
func (c *ReconcilingRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := c.base.GetOrCreateTx(ctx, tx, record)
	if err == nil {
		c.afterUpsert(ctx, result)
	}
	return result, err
}

// Update updates a record and merges the stored row into cached results.
func (c *ReconcilingRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Update(ctx, record, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result)
	}
	return result, err
}

// UpdateTx updates a record within a transaction
func (c *ReconcilingRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpdateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result)
	}
	return result, err
}

// UpdateMany updates multiple records
func (c *ReconcilingRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateMany(ctx, records, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result...)
	}
	return result, err
}

// UpdateManyTx updates multiple records within a transaction
func (c *ReconcilingRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result...)
	}
	return result, err
}

// Upsert inserts or updates a record
func (c *ReconcilingRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Upsert(ctx, record, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result)
	}
	return result, err
}

// UpsertTx inserts or updates a record within a transaction
func (c *ReconcilingRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpsertTx(ctx, tx, record, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result)
	}
	return result, err
}

// UpsertMany inserts or updates multiple records
func (c *ReconcilingRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertMany(ctx, records, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result...)
	}
	return result, err
}

// UpsertManyTx inserts or updates multiple records within a transaction
func (c *ReconcilingRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.afterUpsert(ctx, result...)
	}
	return result, err
}

// Delete deletes a record and removes it from cached results.
func (c *ReconcilingRepository[T]) Delete(ctx context.Context, record T) error {
	err := c.base.Delete(ctx, record)
	if err == nil {
		c.afterDelete(ctx, record)
	}
	return err
}

// DeleteTx deletes a record within a transaction
func (c *ReconcilingRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.DeleteTx(ctx, tx, record)
	if err == nil {
		c.afterDelete(ctx, record)
	}
	return err
}

// DeleteMany deletes multiple records based on criteria
func (c *ReconcilingRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteMany(ctx, criteria...)
	if err == nil {
		c.afterCriteriaWrite(ctx)
	}
	return err
}

// DeleteManyTx deletes multiple records based on criteria within a transaction
func (c *ReconcilingRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteManyTx(ctx, tx, criteria...)
	if err == nil {
		c.afterCriteriaWrite(ctx)
	}
	return err
}

// DeleteWhere deletes records based on criteria
func (c *ReconcilingRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhere(ctx, criteria...)
	if err == nil {
		c.afterCriteriaWrite(ctx)
	}
	return err
}

// DeleteWhereTx deletes records based on criteria within a transaction
func (c *ReconcilingRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhereTx(ctx, tx, criteria...)
	if err == nil {
		c.afterCriteriaWrite(ctx)
	}
	return err
}

// ForceDelete force deletes a record (bypassing soft delete)
func (c *ReconcilingRepository[T]) ForceDelete(ctx context.Context, record T) error {
	err := c.base.ForceDelete(ctx, record)
	if err == nil {
		c.afterDelete(ctx, record)
	}
	return err
}

// ForceDeleteTx force deletes a record within a transaction (bypassing soft delete)
func (c *ReconcilingRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.ForceDeleteTx(ctx, tx, record)
	if err == nil {
		c.afterDelete(ctx, record)
	}
	return err
}

// GetTx retrieves a single record using the provided criteria within a transaction
func (c *ReconcilingRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

// GetByIDTx retrieves a record by ID with optional criteria within a transaction
func (c *ReconcilingRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

// ListTx retrieves multiple records using the provided criteria within a transaction
func (c *ReconcilingRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

// CountTx returns the number of records matching the criteria within a transaction
func (c *ReconcilingRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

// GetByIdentifierTx retrieves a record by identifier with optional criteria within a transaction
func (c *ReconcilingRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

// Raw executes a raw SQL query and returns the results
func (c *ReconcilingRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

// RawTx executes a raw SQL query within a transaction and returns the results
func (c *ReconcilingRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

// Handlers returns the model handlers from the base repository
func (c *ReconcilingRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// InvalidateTags evicts every read-through entry registered under one of
// tags, see WithCacheTags.
func (c *ReconcilingRepository[T]) InvalidateTags(ctx context.Context, tags ...string) error {
	var keys []string
	c.keyRegistry.Range(func(key string, keyTags []string) bool {
		for _, tag := range tags {
			if slices.Contains(keyTags, tag) {
				keys = append(keys, key)
				break
			}
		}
		return true
	})
	return c.evict(ctx, keys)
}

func (c *ReconcilingRepository[T]) trackKey(ctx context.Context, key string) {
	c.keyRegistry.Store(key, cacheTagsFromContext(ctx))
}

func (c *ReconcilingRepository[T]) evict(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	for _, key := range keys {
		c.keyRegistry.Delete(key)
	}
	return c.cache.InvalidateKeys(ctx, keys)
}

// invalidateByPrefix evicts the tracked read-through keys that start with
// the table prefix followed by one of methods.
func (c *ReconcilingRepository[T]) invalidateByPrefix(ctx context.Context, methods ...string) {
	var keys []string
	c.keyRegistry.Range(func(key string, _ []string) bool {
		rest, ok := strings.CutPrefix(key, c.prefix)
		if !ok {
			return true
		}
		for _, m := range methods {
			if strings.HasPrefix(rest, m) {
				keys = append(keys, key)
				break
			}
		}
		return true
	})
	if err := c.evict(ctx, keys); err != nil {
		c.opts.logger.Warn("read-through eviction failed", "table", c.opts.table, "error", err)
	}
}

func (c *ReconcilingRepository[T]) operation(row query.Entity) reconcile.Operation {
	return reconcile.Operation{
		Input:               row,
		Schema:              c.opts.schema,
		Table:               c.opts.table,
		PrimaryKeys:         c.opts.primaryKeys,
		RevalidateTables:    c.opts.revalTables,
		RevalidateRelations: c.opts.revalRelated,
	}
}

// afterUpsert merges every written record into the cached results that hold
// it and inserts it into those whose queries admit it. Errors are logged; the
// write itself already succeeded.
func (c *ReconcilingRepository[T]) afterUpsert(ctx context.Context, records ...T) {
	// "Get" covers GetByID and GetByIdentifier
	c.invalidateByPrefix(ctx, "Get", "List", "Count")
	if c.reconciler == nil {
		return
	}
	for _, record := range records {
		row, err := c.opts.mapper(record)
		if err != nil {
			c.opts.logger.Warn("cannot map record to row", "table", c.opts.table, "error", err)
			continue
		}
		if err := c.reconciler.UpsertItem(ctx, c.operation(row)); err != nil {
			c.opts.logger.Error("cache reconciliation failed", "table", c.opts.table, "error", err)
		}
	}
}

func (c *ReconcilingRepository[T]) afterDelete(ctx context.Context, record T) {
	c.invalidateByPrefix(ctx, "Get", "List", "Count")
	if c.reconciler == nil {
		return
	}
	row, err := c.opts.mapper(record)
	if err != nil {
		c.opts.logger.Warn("cannot map record to row", "table", c.opts.table, "error", err)
		return
	}
	if err := c.reconciler.DeleteItem(ctx, c.operation(row)); err != nil {
		c.opts.logger.Error("cache reconciliation failed", "table", c.opts.table, "error", err)
	}
}

// afterCriteriaWrite handles writes that return no records: nothing can be
// patched, so the whole table is revalidated.
func (c *ReconcilingRepository[T]) afterCriteriaWrite(ctx context.Context) {
	c.revalidateTable(ctx)
}

func (c *ReconcilingRepository[T]) revalidateTable(ctx context.Context) {
	c.invalidateByPrefix(ctx, "Get", "List", "Count")
	if c.opts.revalidator == nil {
		return
	}
	if err := c.opts.revalidator.Revalidate(ctx, c.opts.schema, c.opts.table, "", nil); err != nil {
		c.opts.logger.Error("table revalidation failed", "table", c.opts.table, "error", err)
	}
}
