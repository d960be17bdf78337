package di

import (
	"io"
	"log/slog"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/filter"
	"github.com/goliatone/go-query-cache/query"
	"github.com/goliatone/go-query-cache/reconcile"
	"github.com/goliatone/go-query-cache/repositorycache"
)

// Option configures a Container.
type Option func(*settings)

type settings struct {
	logger      *slog.Logger
	registerer  prometheus.Registerer
	relocate    bool
	concurrency int
	codec       query.Codec
	filters     filter.Factory
}

// WithLogger sets the logger handed to every component. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithRegisterer registers the reconciler metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// WithPageRelocation enables moving updated rows across pages of paginated
// entries.
func WithPageRelocation(enabled bool) Option {
	return func(s *settings) { s.relocate = enabled }
}

// WithConcurrency bounds how many cache keys the reconciler writes at once.
func WithConcurrency(n int) Option {
	return func(s *settings) { s.concurrency = n }
}

// WithCodec replaces the default query key codec.
func WithCodec(codec query.Codec) Option {
	return func(s *settings) { s.codec = codec }
}

// WithFilterFactory replaces the default PostgREST filter factory.
func WithFilterFactory(factory filter.Factory) Option {
	return func(s *settings) { s.filters = factory }
}

// Container wires the cache store, key codec, filter factory, revalidator
// and reconciler, and builds reconciling repositories on top of them.
//
// With the memory backend one sturdyc store holds both the reconciled query
// results and the read-through repository entries. With the redis backend
// query results live in Redis and read-through entries in a process local
// sturdyc store.
type Container struct {
	config      cache.Config
	store       cache.Store
	service     cache.CacheService
	codec       query.Codec
	filters     filter.Factory
	revalidator *cache.StoreRevalidator
	reconciler  *reconcile.Reconciler
	metrics     *reconcile.Metrics
	logger      *slog.Logger
}

// NewContainer creates a container for config.
func NewContainer(config cache.Config, opts ...Option) (*Container, error) {
	s := settings{
		codec:   query.NewCodec(),
		filters: filter.New,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		config:  config,
		codec:   s.codec,
		filters: s.filters,
		logger:  s.logger,
	}

	if config.Backend == cache.BackendRedis {
		store, err := cache.NewStore(config)
		if err != nil {
			return nil, err
		}
		service, err := cache.NewCacheService(localConfig(config))
		if err != nil {
			return nil, err
		}
		c.store, c.service = store, service
	} else {
		store, err := cache.NewMemoryStore(config)
		if err != nil {
			return nil, err
		}
		c.store, c.service = store, store
	}

	c.revalidator = cache.NewStoreRevalidator(c.store, s.logger.With("component", "revalidator"))
	c.revalidator.Codec = c.codec
	c.revalidator.Filters = c.filters
	c.metrics = reconcile.NewMetrics(s.registerer)

	reconcileOpts := []reconcile.Option{
		reconcile.WithLogger(s.logger.With("component", "reconciler")),
		reconcile.WithMetrics(c.metrics),
		reconcile.WithPageRelocation(s.relocate),
	}
	if s.concurrency > 0 {
		reconcileOpts = append(reconcileOpts, reconcile.WithConcurrency(s.concurrency))
	}

	reconciler, err := reconcile.New(reconcile.Deps{
		Store:       c.store,
		Codec:       c.codec,
		Filters:     c.filters,
		Revalidator: c.revalidator,
	}, reconcileOpts...)
	if err != nil {
		return nil, err
	}
	c.reconciler = reconciler

	return c, nil
}

// localConfig sizes the process local read-through cache that sits next to a
// remote store, falling back to the defaults for unset sizes.
func localConfig(config cache.Config) cache.Config {
	defaults := cache.DefaultConfig()
	config.Backend = cache.BackendMemory
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.NumShards <= 0 {
		config.NumShards = defaults.NumShards
	}
	if config.EvictionPercentage <= 0 {
		config.EvictionPercentage = defaults.EvictionPercentage
	}
	return config
}

// NewContainerWithDefaults creates a container using cache.DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cache.DefaultConfig(), opts...)
}

// Store returns the store holding reconciled query results.
func (c *Container) Store() cache.Store {
	return c.store
}

// CacheService returns the read-through cache used by repositories.
func (c *Container) CacheService() cache.CacheService {
	return c.service
}

// Codec returns the query key codec.
func (c *Container) Codec() query.Codec {
	return c.codec
}

// Filters returns the filter factory.
func (c *Container) Filters() filter.Factory {
	return c.filters
}

// Revalidator returns the store backed revalidator.
func (c *Container) Revalidator() *cache.StoreRevalidator {
	return c.revalidator
}

// Reconciler returns the reconciler.
func (c *Container) Reconciler() *reconcile.Reconciler {
	return c.reconciler
}

// Metrics returns the reconciler metrics.
func (c *Container) Metrics() *reconcile.Metrics {
	return c.metrics
}

// Config returns a copy of the configuration.
func (c *Container) Config() cache.Config {
	return c.config
}

// Close releases the store connection when the backend holds one.
func (c *Container) Close() error {
	if closer, ok := c.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// NewReconcilingRepository wraps base so that its writes reconcile the
// container's cached query results.
//
// Go methods cannot have type parameters, so this is a package-level function:
//
//	users, err := di.NewReconcilingRepository[User](container, baseUsers)
func NewReconcilingRepository[T any](container *Container, base repository.Repository[T], opts ...repositorycache.Option) (*repositorycache.ReconcilingRepository[T], error) {
	defaults := []repositorycache.Option{
		repositorycache.WithRevalidator(container.revalidator),
		repositorycache.WithLogger(container.logger.With("component", "repositorycache")),
	}
	return repositorycache.New(base, container.service, container.reconciler, append(defaults, opts...)...)
}
