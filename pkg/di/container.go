package di

import (
	"fmt"
	"log/slog"
	"sync"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-entity-provider/cache"
	"github.com/goliatone/go-entity-provider/config"
	"github.com/goliatone/go-entity-provider/container"
	"github.com/goliatone/go-entity-provider/database"
	"github.com/goliatone/go-entity-provider/logging"
	"github.com/goliatone/go-entity-provider/provider"
	"github.com/uptrace/bun"
)

// keyHashThreshold is the key length above which filter cache keys are hashed.
const keyHashThreshold = 128

// Container wires entity providers and containers from one configuration.
// The database handle is opened on first use and shared by every provider.
type Container struct {
	config        config.Config
	logger        *slog.Logger
	keySerializer cache.KeySerializer

	mu     sync.Mutex
	db     *bun.DB
	ownsDB bool
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger handed to the database hook and the providers.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) { c.logger = logger }
}

// WithDB makes the container use db instead of opening one from the
// database configuration. Close leaves db open.
func WithDB(db *bun.DB) Option {
	return func(c *Container) { c.db = db }
}

// NewContainer validates cfg and creates a container.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Container{
		config:        cfg,
		keySerializer: cache.NewHashedKeySerializer(cache.NewDefaultKeySerializer(), keyHashThreshold),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)
	return c, nil
}

// NewContainerWithDefaults creates a container over config.Default.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(config.Default(), opts...)
}

func (c *Container) Config() config.Config {
	return c.config
}

func (c *Container) Logger() *slog.Logger {
	return c.logger
}

// KeySerializer returns the serializer shared by every caching provider.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// DB returns the shared database handle, opening it on first call.
func (c *Container) DB() (*bun.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db, nil
	}
	db, err := database.Open(c.config.Database, c.logger)
	if err != nil {
		return nil, err
	}
	c.db = db
	c.ownsDB = true
	return db, nil
}

// Close closes the database handle if the container opened it.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil || !c.ownsDB {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.ownsDB = false
	return err
}

// ProviderOptions translates the provider configuration into provider
// options. The database handle is included so batch updates work.
func (c *Container) ProviderOptions() ([]provider.Option, error) {
	db, err := c.DB()
	if err != nil {
		return nil, err
	}
	p := c.config.Provider
	return []provider.Option{
		provider.WithDB(db),
		provider.WithLogger(c.logger),
		provider.WithCacheConfig(c.config.Cache),
		provider.WithKeySerializer(c.keySerializer),
		provider.WithCacheInUse(p.CacheInUse),
		provider.WithCloneCachedEntities(p.CloneCachedEntities),
		provider.WithEntityCacheMaxSize(p.EntityCacheMaxSize),
		provider.WithMaxCacheSize(p.MaxCacheSize),
		provider.WithChunkSize(p.ChunkSize),
	}, nil
}

// NewRepository creates a go-repository-bun repository on the shared database.
// Since Go methods cannot have type parameters, the factories are
// package-level functions: NewRepository[*Order](container, handlers).
func NewRepository[T any](c *Container, handlers repository.ModelHandlers[T]) (repository.Repository[T], error) {
	db, err := c.DB()
	if err != nil {
		return nil, err
	}
	return repository.NewRepository[T](db, handlers), nil
}

// NewLocalProvider creates a provider that queries store on every call.
// opts are applied after the configured ones.
func NewLocalProvider[T any, ID comparable](c *Container, store provider.Store[T], opts ...provider.Option) (*provider.LocalEntityProvider[T, ID], error) {
	base, err := c.ProviderOptions()
	if err != nil {
		return nil, err
	}
	return provider.NewLocalEntityProvider[T, ID](store, append(base, opts...)...)
}

// NewCachingProvider creates a caching provider over store with the
// configured cache limits. opts are applied after the configured ones.
func NewCachingProvider[T any, ID comparable](c *Container, store provider.Store[T], opts ...provider.Option) (*provider.CachingLocalEntityProvider[T, ID], error) {
	base, err := c.ProviderOptions()
	if err != nil {
		return nil, err
	}
	return provider.NewCachingLocalEntityProvider[T, ID](store, append(base, opts...)...)
}

// NewEntityContainer creates a container over p that logs with the
// container's logger.
func NewEntityContainer[T any, ID comparable](c *Container, p provider.EntityProvider[T, ID], opts ...container.Option) (*container.EntityContainer[T, ID], error) {
	return container.New(p, append([]container.Option{container.WithLogger(c.logger)}, opts...)...)
}
