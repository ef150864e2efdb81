// Package container exposes the entities of a provider as an ordered,
// filterable set of items addressed by identifier or index.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/goliatone/go-entity-provider/filter"
	"github.com/goliatone/go-entity-provider/logging"
	"github.com/goliatone/go-entity-provider/metadata"
	"github.com/goliatone/go-entity-provider/provider"
)

type options struct {
	logger   *slog.Logger
	readOnly bool
	buffered bool
	deferred bool
}

// Option configures a container.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithReadOnly starts the container read-only.
func WithReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// WithBufferedItems makes items keep property changes until Commit instead
// of writing each one through to the provider.
func WithBufferedItems() Option {
	return func(o *options) { o.buffered = true }
}

// WithDeferredFilters keeps added filters pending until ApplyFilters.
func WithDeferredFilters() Option {
	return func(o *options) { o.deferred = true }
}

// EntityContainer presents the entities of a provider, narrowed by the
// applied filters and ordered by the sort order. It is meant for a single
// owner; only listener registration is safe from other goroutines.
type EntityContainer[T any, ID comparable] struct {
	provider provider.EntityProvider[T, ID]
	md       *metadata.ClassMetadata
	filters  *filter.Support
	logger   *slog.Logger
	buffered bool

	mu           sync.Mutex
	propertyIDs  []string
	sort         []provider.SortBy
	readOnly     bool
	listeners    map[int]Listener[ID]
	nextListener int
}

// New creates a container over p. A provider that cannot write makes the
// container read-only for good.
func New[T any, ID comparable](p provider.EntityProvider[T, ID], opts ...Option) (*EntityContainer[T, ID], error) {
	if p == nil || reflect.ValueOf(p).IsZero() {
		return nil, ErrNoProvider
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	md := p.Metadata()
	c := &EntityContainer[T, ID]{
		provider:    p,
		md:          md,
		filters:     filter.NewSupport(defaultFilterable(md)...),
		logger:      logging.OrDiscard(o.logger),
		buffered:    o.buffered,
		propertyIDs: md.PropertyIDs(),
		listeners:   map[int]Listener[ID]{},
	}
	_, mutable := p.(provider.MutableEntityProvider[T, ID])
	c.readOnly = o.readOnly || !mutable

	c.filters.SetApplyFiltersImmediately(!o.deferred)
	c.filters.AddListener(func([]filter.Filter) {
		c.fire(Event[ID]{Kind: FiltersApplied})
	})
	return c, nil
}

// defaultFilterable lists the stored top level properties that a filter can
// compare: simple columns and references (compared by identifier).
func defaultFilterable(md *metadata.ClassMetadata) []string {
	var ids []string
	for _, p := range md.Properties() {
		if p.Persistent() && (p.Kind == metadata.Simple || p.Kind == metadata.Reference) {
			ids = append(ids, p.Name)
		}
	}
	return ids
}

// Provider returns the provider behind the container.
func (c *EntityContainer[T, ID]) Provider() provider.EntityProvider[T, ID] {
	return c.provider
}

// Metadata describes the entity type.
func (c *EntityContainer[T, ID]) Metadata() *metadata.ClassMetadata {
	return c.md
}

// ContainerPropertyIDs returns the top level properties followed by the
// nested properties added so far.
func (c *EntityContainer[T, ID]) ContainerPropertyIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.propertyIDs)
}

// AddNestedContainerProperty adds a property reached through embedded or
// referenced structs, such as "customer.customerName". A trailing ".*"
// adds every simple property of the nested struct. Queryable nested
// properties also become filterable.
func (c *EntityContainer[T, ID]) AddNestedContainerProperty(pattern string) error {
	ids, err := c.md.NestedPropertyIDs(pattern)
	if err != nil {
		return err
	}

	c.mu.Lock()
	var added []string
	for _, id := range ids {
		if !slices.Contains(c.propertyIDs, id) {
			c.propertyIDs = append(c.propertyIDs, id)
			added = append(added, id)
		}
	}
	c.mu.Unlock()

	filterable := c.filters.FilterablePropertyIDs()
	for _, id := range added {
		path, err := c.md.Resolve(id)
		if err == nil && path.Queryable() && !slices.Contains(filterable, id) {
			filterable = append(filterable, id)
		}
	}
	c.filters.SetFilterablePropertyIDs(filterable...)

	c.logger.Debug("nested container properties added", "pattern", pattern, "added", added)
	return nil
}

// RemoveContainerProperty hides a property. Removing a nested property also
// stops it from being filterable; filters already added are kept.
func (c *EntityContainer[T, ID]) RemoveContainerProperty(id string) error {
	c.mu.Lock()
	i := slices.Index(c.propertyIDs, id)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q is not a container property", provider.ErrUnknownProperty, id)
	}
	c.propertyIDs = slices.Delete(c.propertyIDs, i, i+1)
	c.mu.Unlock()

	if strings.Contains(id, ".") {
		filterable := slices.DeleteFunc(c.filters.FilterablePropertyIDs(), func(p string) bool { return p == id })
		c.filters.SetFilterablePropertyIDs(filterable...)
	}
	return nil
}

// PropertyType returns the Go type of a container property.
func (c *EntityContainer[T, ID]) PropertyType(id string) (reflect.Type, error) {
	path, err := c.md.Resolve(id)
	if err != nil {
		return nil, err
	}
	return path.Leaf().Type, nil
}

// SortableContainerPropertyIDs returns the container properties backed by
// a stored column.
func (c *EntityContainer[T, ID]) SortableContainerPropertyIDs() []string {
	var ids []string
	for _, id := range c.ContainerPropertyIDs() {
		if c.sortable(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *EntityContainer[T, ID]) sortable(id string) bool {
	c.mu.Lock()
	known := slices.Contains(c.propertyIDs, id)
	c.mu.Unlock()
	if !known {
		return false
	}
	path, err := c.md.Resolve(id)
	return err == nil && path.Queryable()
}

// Sort orders the container by properties, each with its own direction.
// An empty list restores identifier order.
func (c *EntityContainer[T, ID]) Sort(properties []string, ascending []bool) error {
	if len(properties) != len(ascending) {
		return fmt.Errorf("%w: %d properties but %d directions", provider.ErrInvalidSort, len(properties), len(ascending))
	}

	order := make([]provider.SortBy, len(properties))
	for i, p := range properties {
		if !c.sortable(p) {
			return fmt.Errorf("%w: %s", provider.ErrNotSortable, p)
		}
		order[i] = provider.SortBy{Property: p, Ascending: ascending[i]}
	}

	c.mu.Lock()
	c.sort = order
	c.mu.Unlock()

	c.fire(Event[ID]{Kind: Sorted})
	return nil
}

// SortOrder returns the current sort order.
func (c *EntityContainer[T, ID]) SortOrder() []provider.SortBy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sort)
}

func (c *EntityContainer[T, ID]) FilterablePropertyIDs() []string {
	return c.filters.FilterablePropertyIDs()
}

func (c *EntityContainer[T, ID]) AddFilter(f filter.Filter) error {
	return c.filters.AddFilter(f)
}

func (c *EntityContainer[T, ID]) RemoveFilter(f filter.Filter) {
	c.filters.RemoveFilter(f)
}

func (c *EntityContainer[T, ID]) RemoveAllFilters() {
	c.filters.RemoveAllFilters()
}

// Filters returns the filters added, applied or not.
func (c *EntityContainer[T, ID]) Filters() []filter.Filter {
	return c.filters.Filters()
}

// AppliedFilters returns the filters narrowing the container.
func (c *EntityContainer[T, ID]) AppliedFilters() []filter.Filter {
	return c.filters.AppliedFilters()
}

func (c *EntityContainer[T, ID]) ApplyFilters() {
	c.filters.ApplyFilters()
}

func (c *EntityContainer[T, ID]) HasUnappliedFilters() bool {
	return c.filters.HasUnappliedFilters()
}

func (c *EntityContainer[T, ID]) SetApplyFiltersImmediately(on bool) {
	c.filters.SetApplyFiltersImmediately(on)
}

func (c *EntityContainer[T, ID]) ApplyFiltersImmediately() bool {
	return c.filters.ApplyFiltersImmediately()
}

func (c *EntityContainer[T, ID]) query() (filter.Filter, []provider.SortBy) {
	return c.filters.Applied(), c.SortOrder()
}

// Size counts the items passing the applied filters.
func (c *EntityContainer[T, ID]) Size(ctx context.Context) (int, error) {
	f, _ := c.query()
	return c.provider.GetEntityCount(ctx, f)
}

// IDByIndex returns the identifier at index in the current order.
func (c *EntityContainer[T, ID]) IDByIndex(ctx context.Context, index int) (ID, bool, error) {
	f, sort := c.query()
	return c.provider.GetEntityIdentifierAt(ctx, f, sort, index)
}

// IndexOfID returns the position of id, or -1 when the container does not
// hold it.
func (c *EntityContainer[T, ID]) IndexOfID(ctx context.Context, id ID) (int, error) {
	if indexed, ok := c.provider.(provider.IndexedEntityProvider[ID]); ok {
		f, sort := c.query()
		return indexed.IndexOfEntityIdentifier(ctx, id, f, sort)
	}
	ids, err := c.ItemIDs(ctx)
	if err != nil {
		return -1, err
	}
	return slices.Index(ids, id), nil
}

// ItemIDs returns every identifier in the current order.
func (c *EntityContainer[T, ID]) ItemIDs(ctx context.Context) ([]ID, error) {
	f, sort := c.query()
	return c.provider.GetAllEntityIdentifiers(ctx, f, sort)
}

// ItemIDRange returns up to n identifiers starting at index start.
func (c *EntityContainer[T, ID]) ItemIDRange(ctx context.Context, start, n int) ([]ID, error) {
	if start < 0 || n < 0 {
		return nil, fmt.Errorf("%w: start %d, count %d", ErrIndexOutOfRange, start, n)
	}
	f, sort := c.query()
	ids := make([]ID, 0, n)
	for i := start; i < start+n; i++ {
		id, ok, err := c.provider.GetEntityIdentifierAt(ctx, f, sort, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *EntityContainer[T, ID]) FirstItemID(ctx context.Context) (ID, bool, error) {
	f, sort := c.query()
	return c.provider.GetFirstEntityIdentifier(ctx, f, sort)
}

func (c *EntityContainer[T, ID]) LastItemID(ctx context.Context) (ID, bool, error) {
	f, sort := c.query()
	return c.provider.GetLastEntityIdentifier(ctx, f, sort)
}

func (c *EntityContainer[T, ID]) NextItemID(ctx context.Context, id ID) (ID, bool, error) {
	f, sort := c.query()
	return c.provider.GetNextEntityIdentifier(ctx, id, f, sort)
}

func (c *EntityContainer[T, ID]) PrevItemID(ctx context.Context, id ID) (ID, bool, error) {
	f, sort := c.query()
	return c.provider.GetPreviousEntityIdentifier(ctx, id, f, sort)
}

func (c *EntityContainer[T, ID]) IsFirstID(ctx context.Context, id ID) (bool, error) {
	first, ok, err := c.FirstItemID(ctx)
	return ok && first == id, err
}

func (c *EntityContainer[T, ID]) IsLastID(ctx context.Context, id ID) (bool, error) {
	last, ok, err := c.LastItemID(ctx)
	return ok && last == id, err
}

// ContainsID reports whether id passes the applied filters.
func (c *EntityContainer[T, ID]) ContainsID(ctx context.Context, id ID) (bool, error) {
	f, _ := c.query()
	return c.provider.ContainsEntity(ctx, id, f)
}

// Item returns the item for id. Filters are not consulted, so an item can be
// fetched even when it is filtered out.
func (c *EntityContainer[T, ID]) Item(ctx context.Context, id ID) (*EntityItem[T, ID], bool, error) {
	entity, ok, err := c.provider.GetEntity(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	item, err := c.newItem(id, entity)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

// IsReadOnly reports whether mutations are rejected.
func (c *EntityContainer[T, ID]) IsReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

// SetReadOnly toggles mutations. A container over a provider that cannot
// write stays read-only.
func (c *EntityContainer[T, ID]) SetReadOnly(readOnly bool) error {
	if _, ok := c.provider.(provider.MutableEntityProvider[T, ID]); !ok && !readOnly {
		return fmt.Errorf("%w: provider is read only", provider.ErrUnsupported)
	}
	c.mu.Lock()
	c.readOnly = readOnly
	c.mu.Unlock()
	return nil
}

func (c *EntityContainer[T, ID]) writable() (provider.MutableEntityProvider[T, ID], error) {
	if c.IsReadOnly() {
		return nil, ErrReadOnly
	}
	return c.provider.(provider.MutableEntityProvider[T, ID]), nil
}

// AddEntity stores entity and returns its identifier.
func (c *EntityContainer[T, ID]) AddEntity(ctx context.Context, entity T) (ID, error) {
	var zero ID
	m, err := c.writable()
	if err != nil {
		return zero, err
	}
	created, err := m.AddEntity(ctx, entity)
	if err != nil {
		return zero, err
	}
	id, err := c.provider.GetIdentifier(created)
	if err != nil {
		return zero, err
	}

	c.fire(Event[ID]{Kind: ItemAdded, ItemID: id})
	return id, nil
}

// RemoveItem deletes the entity with id. It reports false when there was
// no such entity.
func (c *EntityContainer[T, ID]) RemoveItem(ctx context.Context, id ID) (bool, error) {
	m, err := c.writable()
	if err != nil {
		return false, err
	}
	found, err := c.provider.ContainsEntity(ctx, id, nil)
	if err != nil || !found {
		return false, err
	}
	if err := m.RemoveEntity(ctx, id); err != nil {
		return false, err
	}

	c.fire(Event[ID]{Kind: ItemRemoved, ItemID: id})
	return true, nil
}

// RemoveAllItems is not supported; remove items one by one or in a batch.
func (c *EntityContainer[T, ID]) RemoveAllItems(context.Context) error {
	return fmt.Errorf("%w: remove all items", provider.ErrUnsupported)
}

// BatchUpdate runs fn in one transaction of a batchable provider.
func (c *EntityContainer[T, ID]) BatchUpdate(ctx context.Context, fn provider.BatchUpdateCallback[T, ID]) error {
	if _, err := c.writable(); err != nil {
		return err
	}
	batchable, ok := c.provider.(provider.BatchableEntityProvider[T, ID])
	if !ok {
		return fmt.Errorf("%w: provider cannot batch updates", provider.ErrUnsupported)
	}
	if err := batchable.BatchUpdate(ctx, fn); err != nil {
		return err
	}

	c.fire(Event[ID]{Kind: BatchUpdated})
	return nil
}

// Refresh drops whatever the provider keeps in memory.
func (c *EntityContainer[T, ID]) Refresh(ctx context.Context) error {
	if err := c.provider.Refresh(ctx); err != nil {
		return err
	}
	c.fire(Event[ID]{Kind: Refreshed})
	return nil
}
