package provider

import (
	"log/slog"

	"github.com/goliatone/go-entity-provider/cache"
	"github.com/uptrace/bun"
)

// DefaultChunkSize is the number of identifiers a caching provider loads per
// query when walking a result list.
const DefaultChunkSize = 150

// DefaultCacheSize bounds both caches of a caching provider.
const DefaultCacheSize = 1000

type options struct {
	db             *bun.DB
	logger         *slog.Logger
	modifier       QueryModifier
	relations      []string
	relationsSet   bool
	chunkSize      int
	cacheConfig    cache.Config
	keySerializer  cache.KeySerializer
	cacheInUse     bool
	cloneEntities  bool
	entityCacheMax int
	maxCacheSize   int
}

func defaultOptions() options {
	return options{
		chunkSize:      DefaultChunkSize,
		cacheConfig:    cache.DefaultConfig(),
		cacheInUse:     true,
		entityCacheMax: DefaultCacheSize,
		maxCacheSize:   DefaultCacheSize,
	}
}

// Option configures a provider.
type Option func(*options)

// WithDB enables BatchUpdate, which needs a database to open transactions on.
func WithDB(db *bun.DB) Option {
	return func(o *options) { o.db = db }
}

// WithLogger sets the logger. Providers are silent by default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithQueryModifier installs a hook that can alter every select query.
func WithQueryModifier(m QueryModifier) Option {
	return func(o *options) { o.modifier = m }
}

// WithRelations sets the bun relations loaded with every entity, such as
// "Customer". By default all reference properties of the entity are loaded.
// Passing no relations loads none.
func WithRelations(relations ...string) Option {
	return func(o *options) {
		o.relations = relations
		o.relationsSet = true
	}
}

// WithChunkSize sets how many identifiers a caching provider loads at once.
func WithChunkSize(size int) Option {
	return func(o *options) { o.chunkSize = size }
}

// WithCacheConfig sets the base configuration of both caches. Capacities are
// taken from WithEntityCacheMaxSize and WithMaxCacheSize.
func WithCacheConfig(cfg cache.Config) Option {
	return func(o *options) { o.cacheConfig = cfg }
}

// WithKeySerializer sets how filter cache keys are built.
func WithKeySerializer(s cache.KeySerializer) Option {
	return func(o *options) { o.keySerializer = s }
}

// WithCacheInUse sets whether a caching provider starts with its caches on.
func WithCacheInUse(inUse bool) Option {
	return func(o *options) { o.cacheInUse = inUse }
}

// WithCloneCachedEntities makes a caching provider hand out copies.
func WithCloneCachedEntities(clone bool) Option {
	return func(o *options) { o.cloneEntities = clone }
}

// WithEntityCacheMaxSize bounds the entity cache.
func WithEntityCacheMaxSize(size int) Option {
	return func(o *options) { o.entityCacheMax = size }
}

// WithMaxCacheSize bounds the number of cached filter results.
func WithMaxCacheSize(size int) Option {
	return func(o *options) { o.maxCacheSize = size }
}
