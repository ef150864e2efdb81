package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/goliatone/go-entity-provider/filter"
	"github.com/goliatone/go-entity-provider/logging"
	"github.com/goliatone/go-entity-provider/metadata"
	"github.com/uptrace/bun"
)

var _ BatchableEntityProvider[any, int] = (*LocalEntityProvider[any, int])(nil)

// LocalEntityProvider answers every call with a query against the store.
type LocalEntityProvider[T any, ID comparable] struct {
	store     Store[T]
	db        *bun.DB
	tx        bun.IDB
	md        *metadata.ClassMetadata
	pk        *metadata.Property
	pkPath    *metadata.Path
	idType    reflect.Type
	relations []string
	modifier  QueryModifier
	logger    *slog.Logger
}

// NewLocalEntityProvider creates a provider for the entities held by store.
// T is the entity pointer type and ID the type of its primary key.
func NewLocalEntityProvider[T any, ID comparable](store Store[T], opts ...Option) (*LocalEntityProvider[T, ID], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newLocal[T, ID](store, o)
}

func newLocal[T any, ID comparable](store Store[T], o options) (*LocalEntityProvider[T, ID], error) {
	if store == nil {
		return nil, errors.New("provider: store is required")
	}

	md, err := metadata.ForType(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	pk, err := md.Identifier()
	if err != nil {
		return nil, err
	}
	pkPath, err := md.Resolve(pk.Name)
	if err != nil {
		return nil, err
	}

	idType := reflect.TypeOf((*ID)(nil)).Elem()
	if !identifierCompatible(pk.Type, idType) {
		return nil, fmt.Errorf("%w: %s.%s is %s, provider uses %s", ErrIdentifierType, md.Type.Name(), pk.GoName, pk.Type, idType)
	}

	relations := o.relations
	if !o.relationsSet {
		for _, prop := range md.Properties() {
			if prop.Kind == metadata.Reference && prop.Persistent() {
				relations = append(relations, prop.GoName)
			}
		}
	}

	return &LocalEntityProvider[T, ID]{
		store:     store,
		db:        o.db,
		md:        md,
		pk:        pk,
		pkPath:    pkPath,
		idType:    idType,
		relations: relations,
		modifier:  o.modifier,
		logger:    logging.OrDiscard(o.logger),
	}, nil
}

// identifierCompatible allows the same type or a conversion within one kind
// family, such as int64 keys read as int.
func identifierCompatible(pk, id reflect.Type) bool {
	if pk == id {
		return true
	}
	if !pk.ConvertibleTo(id) {
		return false
	}
	return isNumeric(pk) == isNumeric(id) && (pk.Kind() == reflect.String) == (id.Kind() == reflect.String)
}

func isNumeric(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// Metadata describes the entity type.
func (p *LocalEntityProvider[T, ID]) Metadata() *metadata.ClassMetadata {
	return p.md
}

// Relations lists the relations loaded with every entity.
func (p *LocalEntityProvider[T, ID]) Relations() []string {
	return append([]string(nil), p.relations...)
}

// GetIdentifier reads the primary key of entity.
func (p *LocalEntityProvider[T, ID]) GetIdentifier(entity T) (ID, error) {
	v, err := p.md.IdentifierValue(entity)
	if err != nil {
		var zero ID
		return zero, err
	}
	return p.toID(v)
}

func (p *LocalEntityProvider[T, ID]) toID(v any) (ID, error) {
	if id, ok := v.(ID); ok {
		return id, nil
	}
	var zero ID
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || !rv.Type().ConvertibleTo(p.idType) {
		return zero, fmt.Errorf("%w: %T", ErrIdentifierType, v)
	}
	return rv.Convert(p.idType).Interface().(ID), nil
}

// GetEntity loads the entity with identifier id.
func (p *LocalEntityProvider[T, ID]) GetEntity(ctx context.Context, id ID) (T, bool, error) {
	var zero T

	criteria, err := p.criteria(selection{where: []condition{p.pkEquals(id)}, limit: 1})
	if err != nil {
		return zero, false, err
	}
	records, _, err := p.store.List(ctx, criteria)
	if err != nil {
		return zero, false, fmt.Errorf("get %s %v: %w", p.md.Type.Name(), id, err)
	}
	if len(records) == 0 {
		return zero, false, nil
	}
	return records[0], true, nil
}

// ContainsEntity reports whether id is among the entities matching f.
func (p *LocalEntityProvider[T, ID]) ContainsEntity(ctx context.Context, id ID, f filter.Filter) (bool, error) {
	n, err := p.count(ctx, selection{filter: f, where: []condition{p.pkEquals(id)}})
	return n > 0, err
}

// GetEntityCount counts the entities matching f.
func (p *LocalEntityProvider[T, ID]) GetEntityCount(ctx context.Context, f filter.Filter) (int, error) {
	return p.count(ctx, selection{filter: f})
}

func (p *LocalEntityProvider[T, ID]) count(ctx context.Context, s selection) (int, error) {
	s.idsOnly = true
	criteria, err := p.criteria(s)
	if err != nil {
		return 0, err
	}
	n, err := p.store.Count(ctx, criteria)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", p.md.Table, err)
	}
	return n, nil
}

// GetEntityIdentifierAt returns the identifier at index in the sorted result.
func (p *LocalEntityProvider[T, ID]) GetEntityIdentifierAt(ctx context.Context, f filter.Filter, sort []SortBy, index int) (ID, bool, error) {
	if index < 0 {
		var zero ID
		return zero, false, nil
	}
	return p.firstOf(p.identifiers(ctx, selection{filter: f, sort: sort, offset: index, limit: 1}))
}

// GetAllEntityIdentifiers lists every identifier matching f in sort order.
func (p *LocalEntityProvider[T, ID]) GetAllEntityIdentifiers(ctx context.Context, f filter.Filter, sort []SortBy) ([]ID, error) {
	return p.identifiers(ctx, selection{filter: f, sort: sort})
}

// GetFirstEntityIdentifier returns the identifier at index 0.
func (p *LocalEntityProvider[T, ID]) GetFirstEntityIdentifier(ctx context.Context, f filter.Filter, sort []SortBy) (ID, bool, error) {
	return p.GetEntityIdentifierAt(ctx, f, sort, 0)
}

// GetLastEntityIdentifier returns the identifier at the end of the sorted
// result by reading the reversed order.
func (p *LocalEntityProvider[T, ID]) GetLastEntityIdentifier(ctx context.Context, f filter.Filter, sort []SortBy) (ID, bool, error) {
	return p.firstOf(p.identifiers(ctx, selection{filter: f, sort: sort, reverse: true, limit: 1}))
}

// GetNextEntityIdentifier returns the identifier that follows id.
func (p *LocalEntityProvider[T, ID]) GetNextEntityIdentifier(ctx context.Context, id ID, f filter.Filter, sort []SortBy) (ID, bool, error) {
	return p.sibling(ctx, id, f, sort, true)
}

// GetPreviousEntityIdentifier returns the identifier that precedes id.
func (p *LocalEntityProvider[T, ID]) GetPreviousEntityIdentifier(ctx context.Context, id ID, f filter.Filter, sort []SortBy) (ID, bool, error) {
	return p.sibling(ctx, id, f, sort, false)
}

// sibling seeks from the row of id with a keyset predicate. NULLs do not
// compare, so when a nullable sort column holds NULL in the anchor or in the
// result set the position is taken from the full identifier list instead.
func (p *LocalEntityProvider[T, ID]) sibling(ctx context.Context, id ID, f filter.Filter, sort []SortBy, forward bool) (ID, bool, error) {
	var zero ID

	terms, err := p.orderTerms(sort)
	if err != nil {
		return zero, false, err
	}
	anchor, ok, err := p.GetEntity(ctx, id)
	if err != nil || !ok {
		return zero, false, err
	}

	values := make([]any, len(terms))
	useKeyset := true
	for i, t := range terms {
		v, err := p.md.Value(anchor, t.path.ID)
		if err != nil {
			return zero, false, err
		}
		if isNil(v) {
			useKeyset = false
			break
		}
		values[i] = v
	}
	if useKeyset {
		if nulls, ok := nullConditions(terms); ok {
			n, err := p.count(ctx, selection{filter: f, where: []condition{nulls}})
			if err != nil {
				return zero, false, err
			}
			useKeyset = n == 0
		}
	}

	if !useKeyset {
		p.logger.Debug("sibling lookup falls back to identifier list", "entity", p.md.Type.Name(), "id", id)
		ids, err := p.GetAllEntityIdentifiers(ctx, f, sort)
		if err != nil {
			return zero, false, err
		}
		next, ok := neighbour(ids, id, forward)
		return next, ok, nil
	}

	return p.firstOf(p.identifiers(ctx, selection{
		filter:  f,
		sort:    sort,
		where:   []condition{keyset(terms, values, forward)},
		reverse: !forward,
		limit:   1,
	}))
}

func (p *LocalEntityProvider[T, ID]) identifiers(ctx context.Context, s selection) ([]ID, error) {
	s.idsOnly = true
	s.ordered = true
	criteria, err := p.criteria(s)
	if err != nil {
		return nil, err
	}
	records, _, err := p.store.List(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("list %s identifiers: %w", p.md.Table, err)
	}

	ids := make([]ID, 0, len(records))
	for _, record := range records {
		id, err := p.GetIdentifier(record)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// entities loads full entities in sort order, used by caching providers to
// fill their caches one chunk at a time.
func (p *LocalEntityProvider[T, ID]) entities(ctx context.Context, f filter.Filter, sort []SortBy, offset, limit int) ([]T, error) {
	criteria, err := p.criteria(selection{filter: f, sort: sort, ordered: true, offset: offset, limit: limit})
	if err != nil {
		return nil, err
	}
	records, _, err := p.store.List(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p.md.Table, err)
	}
	return records, nil
}

func (p *LocalEntityProvider[T, ID]) firstOf(ids []ID, err error) (ID, bool, error) {
	var zero ID
	if err != nil || len(ids) == 0 {
		return zero, false, err
	}
	return ids[0], true, nil
}

// AddEntity inserts entity and returns it as stored.
func (p *LocalEntityProvider[T, ID]) AddEntity(ctx context.Context, entity T) (T, error) {
	created, err := p.store.Create(ctx, entity)
	if err != nil {
		return created, fmt.Errorf("add %s: %w", p.md.Type.Name(), err)
	}
	p.logger.Debug("entity added", "entity", p.md.Type.Name())
	return created, nil
}

// UpdateEntity writes every column of entity, zero values included when the
// provider has a database. Without one the store's update skips zero values.
func (p *LocalEntityProvider[T, ID]) UpdateEntity(ctx context.Context, entity T) (T, error) {
	var err error
	if w := p.writer(); w != nil {
		_, err = w.NewUpdate().Model(entity).WherePK().Exec(ctx)
	} else {
		entity, err = p.store.Update(ctx, entity)
	}
	if err != nil {
		return entity, fmt.Errorf("update %s: %w", p.md.Type.Name(), err)
	}
	return entity, nil
}

// UpdateEntityProperty loads the entity, sets one property and writes only
// that column. Properties of related entities cannot be updated this way.
// Without a database the store writes the column and skips a zero value.
func (p *LocalEntityProvider[T, ID]) UpdateEntityProperty(ctx context.Context, id ID, property string, value any) error {
	path, err := p.md.Resolve(property)
	if err != nil {
		return err
	}
	if path.Relation != "" || !path.Queryable() {
		return fmt.Errorf("%w: cannot update %s", ErrUnsupported, property)
	}

	entity, ok, err := p.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %v", ErrEntityNotFound, p.md.Type.Name(), id)
	}
	if err := p.md.SetValue(entity, property, value); err != nil {
		return err
	}

	if w := p.writer(); w != nil {
		_, err = w.NewUpdate().Model(entity).Column(path.Column).WherePK().Exec(ctx)
	} else {
		_, err = p.store.Update(ctx, entity, func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Column(path.Column)
		})
	}
	if err != nil {
		return fmt.Errorf("update %s.%s: %w", p.md.Type.Name(), property, err)
	}
	p.logger.Debug("entity property updated", "entity", p.md.Type.Name(), "id", id, "property", property)
	return nil
}

// writer is where updates are issued: the transaction inside a batch,
// otherwise the database. It is nil when the provider has neither.
func (p *LocalEntityProvider[T, ID]) writer() bun.IDB {
	if p.tx != nil {
		return p.tx
	}
	if p.db != nil {
		return p.db
	}
	return nil
}

// RemoveEntity deletes the entity with identifier id.
func (p *LocalEntityProvider[T, ID]) RemoveEntity(ctx context.Context, id ID) error {
	err := p.store.DeleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("? = ?", bun.Ident(p.pk.Column), id)
	})
	if err != nil {
		return fmt.Errorf("remove %s %v: %w", p.md.Type.Name(), id, err)
	}
	p.logger.Debug("entity removed", "entity", p.md.Type.Name(), "id", id)
	return nil
}

// BatchUpdate runs fn in a transaction. The provider handed to fn writes
// through that transaction and cannot start another batch.
func (p *LocalEntityProvider[T, ID]) BatchUpdate(ctx context.Context, fn BatchUpdateCallback[T, ID]) error {
	if p.db == nil {
		return ErrNoTransaction
	}
	return p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, p.inTx(tx))
	})
}

func (p *LocalEntityProvider[T, ID]) inTx(tx bun.IDB) *LocalEntityProvider[T, ID] {
	batch := *p
	batch.store = txStore[T]{base: p.store, tx: tx}
	batch.db = nil
	batch.tx = tx
	return &batch
}

// Refresh is a no-op; nothing is held between calls.
func (p *LocalEntityProvider[T, ID]) Refresh(context.Context) error {
	return nil
}
