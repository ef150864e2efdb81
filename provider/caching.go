package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-entity-provider/cache"
	"github.com/goliatone/go-entity-provider/filter"
	"github.com/goliatone/go-entity-provider/metadata"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	_ CachingEntityProvider[any, int] = (*CachingLocalEntityProvider[any, int])(nil)
	_ IndexedEntityProvider[int]      = (*CachingLocalEntityProvider[any, int])(nil)
)

// keyHashThreshold is the length above which filter cache keys are hashed.
const keyHashThreshold = 128

// CachingLocalEntityProvider serves reads from two bounded caches in front
// of a LocalEntityProvider. The entity cache maps identifiers to entities, so
// the same identifier yields the same pointer while it stays cached. The
// filter cache maps a filter and sort order to its count and identifier
// list, which is loaded in chunks as callers walk it.
type CachingLocalEntityProvider[T any, ID comparable] struct {
	local      *LocalEntityProvider[T, ID]
	keys       cache.KeySerializer
	baseConfig cache.Config
	logger     *slog.Logger

	mu        sync.RWMutex
	entities  cache.CacheService
	queries   cache.CacheService
	inUse     bool
	cloner    func(T) (T, error)
	entityMax int
	maxCache  int
	chunkSize int

	// property root -> filter cache keys whose filter or sort reads it
	dependents *xsync.MapOf[string, *xsync.MapOf[string, struct{}]]
}

// CacheStats reports how many entries each cache holds.
type CacheStats struct {
	Entities int
	Queries  int
}

// queryEntry is the cached result of one filter and sort order. ids is a
// prefix of the full result, complete once the last chunk has been read.
type queryEntry[ID comparable] struct {
	mu       sync.Mutex
	filter   filter.Filter
	sort     []SortBy
	count    int
	ids      []ID
	index    map[ID]int
	complete bool
}

func newQueryEntry[ID comparable](f filter.Filter, sort []SortBy) *queryEntry[ID] {
	return &queryEntry[ID]{
		filter: f,
		sort:   append([]SortBy(nil), sort...),
		count:  -1,
		index:  map[ID]int{},
	}
}

type cacheState[T any] struct {
	entities cache.CacheService
	queries  cache.CacheService
	inUse    bool
	cloner   func(T) (T, error)
	chunk    int
}

// NewCachingLocalEntityProvider creates a caching provider for the entities
// held by store. Both caches are sized DefaultCacheSize unless configured.
func NewCachingLocalEntityProvider[T any, ID comparable](store Store[T], opts ...Option) (*CachingLocalEntityProvider[T, ID], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	local, err := newLocal[T, ID](store, o)
	if err != nil {
		return nil, err
	}

	keys := o.keySerializer
	if keys == nil {
		keys = cache.NewHashedKeySerializer(cache.NewDefaultKeySerializer(), keyHashThreshold)
	}
	chunk := o.chunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	p := &CachingLocalEntityProvider[T, ID]{
		local:      local,
		keys:       keys,
		baseConfig: o.cacheConfig,
		logger:     local.logger,
		inUse:      o.cacheInUse,
		chunkSize:  chunk,
		dependents: xsync.NewMapOf[string, *xsync.MapOf[string, struct{}]](),
	}
	if err := p.SetEntityCacheMaxSize(o.entityCacheMax); err != nil {
		return nil, err
	}
	if err := p.SetMaxCacheSize(o.maxCacheSize); err != nil {
		return nil, err
	}
	if err := p.SetCloneCachedEntities(o.cloneEntities); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *CachingLocalEntityProvider[T, ID]) state() cacheState[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cacheState[T]{
		entities: p.entities,
		queries:  p.queries,
		inUse:    p.inUse,
		cloner:   p.cloner,
		chunk:    p.chunkSize,
	}
}

// Metadata describes the entity type.
func (p *CachingLocalEntityProvider[T, ID]) Metadata() *metadata.ClassMetadata {
	return p.local.Metadata()
}

// GetIdentifier reads the primary key of entity.
func (p *CachingLocalEntityProvider[T, ID]) GetIdentifier(entity T) (ID, error) {
	return p.local.GetIdentifier(entity)
}

// CacheInUse reports whether reads go through the caches.
func (p *CachingLocalEntityProvider[T, ID]) CacheInUse() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inUse
}

// SetCacheInUse turns the caches on or off. Turning them off empties them.
func (p *CachingLocalEntityProvider[T, ID]) SetCacheInUse(ctx context.Context, inUse bool) error {
	p.mu.Lock()
	p.inUse = inUse
	p.mu.Unlock()

	if !inUse {
		return p.Flush(ctx)
	}
	return nil
}

// CloneCachedEntities reports whether reads return copies.
func (p *CachingLocalEntityProvider[T, ID]) CloneCachedEntities() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cloner != nil
}

// SetCloneCachedEntities makes every read return a copy of the cached
// entity. It fails with ErrNotCloneable when T cannot be copied.
func (p *CachingLocalEntityProvider[T, ID]) SetCloneCachedEntities(clone bool) error {
	var fn func(T) (T, error)
	if clone {
		var err error
		if fn, err = cloneFunc[T](); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.cloner = fn
	p.mu.Unlock()
	return nil
}

// EntityCacheMaxSize is the capacity of the entity cache.
func (p *CachingLocalEntityProvider[T, ID]) EntityCacheMaxSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entityMax
}

// SetEntityCacheMaxSize replaces the entity cache with an empty one of the
// given capacity.
func (p *CachingLocalEntityProvider[T, ID]) SetEntityCacheMaxSize(size int) error {
	if err := validation.Validate(size, validation.Min(1)); err != nil {
		return fmt.Errorf("entity cache max size: %w", err)
	}
	service, err := cache.NewCacheService(p.baseConfig.WithCapacity(size))
	if err != nil {
		return fmt.Errorf("entity cache: %w", err)
	}

	p.mu.Lock()
	p.entities = service
	p.entityMax = size
	p.mu.Unlock()
	return nil
}

// MaxCacheSize is the number of filter results kept.
func (p *CachingLocalEntityProvider[T, ID]) MaxCacheSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxCache
}

// SetMaxCacheSize replaces the filter cache with an empty one of the given
// capacity.
func (p *CachingLocalEntityProvider[T, ID]) SetMaxCacheSize(size int) error {
	if err := validation.Validate(size, validation.Min(1)); err != nil {
		return fmt.Errorf("max cache size: %w", err)
	}
	cfg := p.baseConfig.WithCapacity(size)
	cfg.MissingRecordStorage = false
	service, err := cache.NewCacheService(cfg)
	if err != nil {
		return fmt.Errorf("filter cache: %w", err)
	}

	p.mu.Lock()
	p.queries = service
	p.maxCache = size
	p.mu.Unlock()
	p.dependents.Clear()
	return nil
}

// Stats reports the current number of cached entries.
func (p *CachingLocalEntityProvider[T, ID]) Stats() CacheStats {
	st := p.state()
	return CacheStats{Entities: st.entities.Size(), Queries: st.queries.Size()}
}

// Flush empties both caches.
func (p *CachingLocalEntityProvider[T, ID]) Flush(ctx context.Context) error {
	st := p.state()
	err := errors.Join(st.entities.Flush(ctx), p.flushQueries(ctx, st))
	p.logger.Debug("caches flushed", "entity", p.local.md.Type.Name())
	return err
}

// Refresh drops everything cached so the next reads hit the database.
func (p *CachingLocalEntityProvider[T, ID]) Refresh(ctx context.Context) error {
	return p.Flush(ctx)
}

// InvalidateEntity drops id from the entity cache.
func (p *CachingLocalEntityProvider[T, ID]) InvalidateEntity(ctx context.Context, id ID) error {
	return p.invalidateEntity(ctx, p.state(), id)
}

func (p *CachingLocalEntityProvider[T, ID]) invalidateEntity(ctx context.Context, st cacheState[T], id ID) error {
	p.logger.Debug("entity invalidated", "entity", p.local.md.Type.Name(), "id", id)
	return st.entities.Delete(ctx, p.entityKey(id))
}

func (p *CachingLocalEntityProvider[T, ID]) flushQueries(ctx context.Context, st cacheState[T]) error {
	p.dependents.Clear()
	return st.queries.Flush(ctx)
}

// invalidateProperty drops the filter results that read property. Foreign
// keys are plain properties, so results reading through any relation are
// dropped as well.
func (p *CachingLocalEntityProvider[T, ID]) invalidateProperty(ctx context.Context, st cacheState[T], property string) error {
	roots := map[string]bool{rootOf(property): true}
	for _, prop := range p.local.md.Properties() {
		if prop.Kind == metadata.Reference {
			roots[prop.Name] = true
		}
	}

	var keys []string
	for root := range roots {
		dependent, ok := p.dependents.LoadAndDelete(root)
		if !ok {
			continue
		}
		dependent.Range(func(key string, _ struct{}) bool {
			keys = append(keys, key)
			return true
		})
	}
	if len(keys) == 0 {
		return nil
	}
	p.logger.Debug("filter results invalidated", "entity", p.local.md.Type.Name(), "property", property, "count", len(keys))
	return st.queries.InvalidateKeys(ctx, keys)
}

func rootOf(property string) string {
	root, _, _ := strings.Cut(property, ".")
	return root
}

func (p *CachingLocalEntityProvider[T, ID]) entityKey(id ID) string {
	return p.keys.SerializeKey("entity", id)
}

func (p *CachingLocalEntityProvider[T, ID]) queryKey(f filter.Filter, sort []SortBy) string {
	return p.keys.SerializeKey("query", filter.Key(f), SortKey(sort))
}

func (p *CachingLocalEntityProvider[T, ID]) track(key string, f filter.Filter, sort []SortBy) {
	props := filter.Properties(f)
	for _, s := range sort {
		props = append(props, s.Property)
	}
	for _, prop := range props {
		dependent, _ := p.dependents.LoadOrCompute(rootOf(prop), func() *xsync.MapOf[string, struct{}] {
			return xsync.NewMapOf[string, struct{}]()
		})
		dependent.Store(key, struct{}{})
	}
}

func (p *CachingLocalEntityProvider[T, ID]) entry(ctx context.Context, st cacheState[T], f filter.Filter, sort []SortBy) (*queryEntry[ID], error) {
	key := p.queryKey(f, sort)
	return cache.GetOrFetch(ctx, st.queries, key, func(ctx context.Context) (*queryEntry[ID], error) {
		p.track(key, f, sort)
		return newQueryEntry[ID](f, sort), nil
	})
}

// handOut applies the clone policy to a cached entity.
func (p *CachingLocalEntityProvider[T, ID]) handOut(st cacheState[T], entity T) (T, error) {
	if st.cloner == nil {
		return entity, nil
	}
	return st.cloner(entity)
}

// GetEntity returns the cached entity for id, loading it on a miss. Missing
// identifiers are remembered until the entity is added.
func (p *CachingLocalEntityProvider[T, ID]) GetEntity(ctx context.Context, id ID) (T, bool, error) {
	var zero T
	st := p.state()
	if !st.inUse {
		return p.local.GetEntity(ctx, id)
	}

	entity, err := cache.GetOrFetch(ctx, st.entities, p.entityKey(id), func(ctx context.Context) (T, error) {
		entity, ok, err := p.local.GetEntity(ctx, id)
		if err == nil && !ok {
			err = cache.ErrNotFound
		}
		return entity, err
	})
	if errors.Is(err, cache.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}

	entity, err = p.handOut(st, entity)
	if err != nil {
		return zero, false, err
	}
	return entity, true, nil
}

// ContainsEntity answers from the identifier list of f when it is loaded.
func (p *CachingLocalEntityProvider[T, ID]) ContainsEntity(ctx context.Context, id ID, f filter.Filter) (bool, error) {
	st := p.state()
	if !st.inUse {
		return p.local.ContainsEntity(ctx, id, f)
	}

	e, err := p.entry(ctx, st, f, nil)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	_, found := e.index[id]
	complete := e.complete
	e.mu.Unlock()

	if found || complete {
		return found, nil
	}
	return p.local.ContainsEntity(ctx, id, f)
}

// GetEntityCount returns the cached count for f.
func (p *CachingLocalEntityProvider[T, ID]) GetEntityCount(ctx context.Context, f filter.Filter) (int, error) {
	st := p.state()
	if !st.inUse {
		return p.local.GetEntityCount(ctx, f)
	}

	e, err := p.entry(ctx, st, f, nil)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return p.countLocked(ctx, e)
}

func (p *CachingLocalEntityProvider[T, ID]) countLocked(ctx context.Context, e *queryEntry[ID]) (int, error) {
	if e.count < 0 {
		n, err := p.local.GetEntityCount(ctx, e.filter)
		if err != nil {
			return 0, err
		}
		e.count = n
	}
	return e.count, nil
}

// GetEntityIdentifierAt walks the cached identifier list, loading chunks up
// to index.
func (p *CachingLocalEntityProvider[T, ID]) GetEntityIdentifierAt(ctx context.Context, f filter.Filter, sort []SortBy, index int) (ID, bool, error) {
	var zero ID
	st := p.state()
	if !st.inUse {
		return p.local.GetEntityIdentifierAt(ctx, f, sort, index)
	}
	if index < 0 {
		return zero, false, nil
	}

	e, err := p.entry(ctx, st, f, sort)
	if err != nil {
		return zero, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return p.idAtLocked(ctx, st, e, index)
}

func (p *CachingLocalEntityProvider[T, ID]) idAtLocked(ctx context.Context, st cacheState[T], e *queryEntry[ID], index int) (ID, bool, error) {
	var zero ID
	if index < 0 || (e.count >= 0 && index >= e.count) {
		return zero, false, nil
	}
	if index >= len(e.ids) && !e.complete {
		if err := p.loadLocked(ctx, st, e, index+1-len(e.ids)); err != nil {
			return zero, false, err
		}
	}
	if index >= len(e.ids) {
		return zero, false, nil
	}
	return e.ids[index], true, nil
}

// loadLocked reads at least need more rows of e, rounded up to whole chunks,
// and puts the entities that are not cached yet into the entity cache.
func (p *CachingLocalEntityProvider[T, ID]) loadLocked(ctx context.Context, st cacheState[T], e *queryEntry[ID], need int) error {
	limit := ((need + st.chunk - 1) / st.chunk) * st.chunk
	offset := len(e.ids)

	records, err := p.local.entities(ctx, e.filter, e.sort, offset, limit)
	if err != nil {
		return err
	}
	for _, record := range records {
		id, err := p.local.GetIdentifier(record)
		if err != nil {
			return err
		}
		if _, seen := e.index[id]; seen {
			continue
		}
		e.index[id] = len(e.ids)
		e.ids = append(e.ids, id)

		key := p.entityKey(id)
		if _, cached := cache.Lookup[T](ctx, st.entities, key); !cached {
			if err := st.entities.Set(ctx, key, record); err != nil {
				return err
			}
		}
	}
	if len(records) < limit {
		e.complete = true
		e.count = len(e.ids)
	}

	p.logger.Debug("identifier chunk loaded",
		"entity", p.local.md.Type.Name(),
		"filter", filter.Key(e.filter),
		"offset", offset,
		"rows", len(records),
		"complete", e.complete,
	)
	return nil
}

// GetAllEntityIdentifiers returns the full identifier list, reading the
// part not loaded yet in one query.
func (p *CachingLocalEntityProvider[T, ID]) GetAllEntityIdentifiers(ctx context.Context, f filter.Filter, sort []SortBy) ([]ID, error) {
	st := p.state()
	if !st.inUse {
		return p.local.GetAllEntityIdentifiers(ctx, f, sort)
	}

	e, err := p.entry(ctx, st, f, sort)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := p.completeLocked(ctx, e); err != nil {
		return nil, err
	}
	return append([]ID(nil), e.ids...), nil
}

// IndexOfEntityIdentifier returns the position of id in the result of f and
// sort, or -1. Identifiers already loaded are answered from the index;
// otherwise the full identifier list is read once and kept.
func (p *CachingLocalEntityProvider[T, ID]) IndexOfEntityIdentifier(ctx context.Context, id ID, f filter.Filter, sort []SortBy) (int, error) {
	st := p.state()
	if !st.inUse {
		ids, err := p.local.GetAllEntityIdentifiers(ctx, f, sort)
		if err != nil {
			return -1, err
		}
		return slices.Index(ids, id), nil
	}

	e, err := p.entry(ctx, st, f, sort)
	if err != nil {
		return -1, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if i, found := e.index[id]; found {
		return i, nil
	}
	if err := p.completeLocked(ctx, e); err != nil {
		return -1, err
	}
	if i, found := e.index[id]; found {
		return i, nil
	}
	return -1, nil
}

// completeLocked replaces the loaded prefix of e with the full identifier
// list. The caller holds e.mu.
func (p *CachingLocalEntityProvider[T, ID]) completeLocked(ctx context.Context, e *queryEntry[ID]) error {
	if e.complete {
		return nil
	}
	ids, err := p.local.GetAllEntityIdentifiers(ctx, e.filter, e.sort)
	if err != nil {
		return err
	}
	e.ids = ids
	e.index = make(map[ID]int, len(ids))
	for i, id := range ids {
		e.index[id] = i
	}
	e.complete = true
	e.count = len(ids)
	return nil
}

// GetFirstEntityIdentifier returns the identifier at index 0.
func (p *CachingLocalEntityProvider[T, ID]) GetFirstEntityIdentifier(ctx context.Context, f filter.Filter, sort []SortBy) (ID, bool, error) {
	return p.GetEntityIdentifierAt(ctx, f, sort, 0)
}

// GetLastEntityIdentifier answers from a complete identifier list, or asks
// the database for the last row rather than loading every chunk.
func (p *CachingLocalEntityProvider[T, ID]) GetLastEntityIdentifier(ctx context.Context, f filter.Filter, sort []SortBy) (ID, bool, error) {
	var zero ID
	st := p.state()
	if !st.inUse {
		return p.local.GetLastEntityIdentifier(ctx, f, sort)
	}

	e, err := p.entry(ctx, st, f, sort)
	if err != nil {
		return zero, false, err
	}
	e.mu.Lock()
	if e.complete {
		defer e.mu.Unlock()
		if len(e.ids) == 0 {
			return zero, false, nil
		}
		return e.ids[len(e.ids)-1], true, nil
	}
	e.mu.Unlock()
	return p.local.GetLastEntityIdentifier(ctx, f, sort)
}

// GetNextEntityIdentifier returns the identifier after id.
func (p *CachingLocalEntityProvider[T, ID]) GetNextEntityIdentifier(ctx context.Context, id ID, f filter.Filter, sort []SortBy) (ID, bool, error) {
	return p.sibling(ctx, id, f, sort, true)
}

// GetPreviousEntityIdentifier returns the identifier before id.
func (p *CachingLocalEntityProvider[T, ID]) GetPreviousEntityIdentifier(ctx context.Context, id ID, f filter.Filter, sort []SortBy) (ID, bool, error) {
	return p.sibling(ctx, id, f, sort, false)
}

// sibling uses the position of id in the loaded identifiers. Identifiers
// beyond the loaded part are looked up by the local provider.
func (p *CachingLocalEntityProvider[T, ID]) sibling(ctx context.Context, id ID, f filter.Filter, sort []SortBy, forward bool) (ID, bool, error) {
	var zero ID
	st := p.state()
	if !st.inUse {
		return p.local.sibling(ctx, id, f, sort, forward)
	}

	e, err := p.entry(ctx, st, f, sort)
	if err != nil {
		return zero, false, err
	}
	e.mu.Lock()
	i, found := e.index[id]
	if !found {
		complete := e.complete
		e.mu.Unlock()
		if complete {
			return zero, false, nil
		}
		return p.local.sibling(ctx, id, f, sort, forward)
	}
	defer e.mu.Unlock()

	if !forward {
		if i == 0 {
			return zero, false, nil
		}
		return e.ids[i-1], true, nil
	}
	return p.idAtLocked(ctx, st, e, i+1)
}

// AddEntity stores entity and drops every cached filter result.
func (p *CachingLocalEntityProvider[T, ID]) AddEntity(ctx context.Context, entity T) (T, error) {
	created, err := p.local.AddEntity(ctx, entity)
	if err != nil {
		return created, err
	}

	st := p.state()
	errs := []error{p.flushQueries(ctx, st)}
	if id, err := p.local.GetIdentifier(created); err == nil {
		errs = append(errs, p.invalidateEntity(ctx, st, id))
	}
	return created, errors.Join(errs...)
}

// UpdateEntity writes entity, then drops it and every filter result.
func (p *CachingLocalEntityProvider[T, ID]) UpdateEntity(ctx context.Context, entity T) (T, error) {
	updated, err := p.local.UpdateEntity(ctx, entity)
	if err != nil {
		return updated, err
	}

	st := p.state()
	errs := []error{p.flushQueries(ctx, st)}
	if id, err := p.local.GetIdentifier(updated); err == nil {
		errs = append(errs, p.invalidateEntity(ctx, st, id))
	}
	return updated, errors.Join(errs...)
}

// UpdateEntityProperty writes one property, then drops the entity and the
// filter results that depend on the property.
func (p *CachingLocalEntityProvider[T, ID]) UpdateEntityProperty(ctx context.Context, id ID, property string, value any) error {
	if err := p.local.UpdateEntityProperty(ctx, id, property, value); err != nil {
		return err
	}

	st := p.state()
	return errors.Join(
		p.invalidateEntity(ctx, st, id),
		p.invalidateProperty(ctx, st, property),
	)
}

// RemoveEntity deletes id, then drops it and every filter result.
func (p *CachingLocalEntityProvider[T, ID]) RemoveEntity(ctx context.Context, id ID) error {
	if err := p.local.RemoveEntity(ctx, id); err != nil {
		return err
	}

	st := p.state()
	return errors.Join(
		p.invalidateEntity(ctx, st, id),
		p.flushQueries(ctx, st),
	)
}

// BatchUpdate runs fn in a transaction against the database directly and
// flushes both caches afterwards, whether or not it committed.
func (p *CachingLocalEntityProvider[T, ID]) BatchUpdate(ctx context.Context, fn BatchUpdateCallback[T, ID]) error {
	err := p.local.BatchUpdate(ctx, fn)
	if errors.Is(err, ErrNoTransaction) {
		return err
	}
	return errors.Join(err, p.Flush(ctx))
}
