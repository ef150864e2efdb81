package provider

import (
	"context"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-entity-provider/filter"
	"github.com/goliatone/go-entity-provider/metadata"
	"github.com/uptrace/bun"
)

// SortBy orders results by one property.
type SortBy struct {
	Property  string
	Ascending bool
}

// Asc sorts property in ascending order.
func Asc(property string) SortBy { return SortBy{Property: property, Ascending: true} }

// Desc sorts property in descending order.
func Desc(property string) SortBy { return SortBy{Property: property} }

// SortKey renders a sort order in canonical form for cache keys.
func SortKey(sorts []SortBy) string {
	parts := make([]string, len(sorts))
	for i, s := range sorts {
		dir := "desc"
		if s.Ascending {
			dir = "asc"
		}
		parts[i] = s.Property + " " + dir
	}
	return strings.Join(parts, ",")
}

// EntityProvider gives a container read access to a set of entities. Lookups
// that find nothing report ok=false; errors are reserved for failures.
type EntityProvider[T any, ID comparable] interface {
	GetEntity(ctx context.Context, id ID) (T, bool, error)
	ContainsEntity(ctx context.Context, id ID, f filter.Filter) (bool, error)
	GetEntityCount(ctx context.Context, f filter.Filter) (int, error)
	GetEntityIdentifierAt(ctx context.Context, f filter.Filter, sort []SortBy, index int) (ID, bool, error)
	GetAllEntityIdentifiers(ctx context.Context, f filter.Filter, sort []SortBy) ([]ID, error)
	GetFirstEntityIdentifier(ctx context.Context, f filter.Filter, sort []SortBy) (ID, bool, error)
	GetLastEntityIdentifier(ctx context.Context, f filter.Filter, sort []SortBy) (ID, bool, error)
	GetNextEntityIdentifier(ctx context.Context, id ID, f filter.Filter, sort []SortBy) (ID, bool, error)
	GetPreviousEntityIdentifier(ctx context.Context, id ID, f filter.Filter, sort []SortBy) (ID, bool, error)
	GetIdentifier(entity T) (ID, error)
	Metadata() *metadata.ClassMetadata
	Refresh(ctx context.Context) error
}

// MutableEntityProvider also writes entities.
type MutableEntityProvider[T any, ID comparable] interface {
	EntityProvider[T, ID]
	AddEntity(ctx context.Context, entity T) (T, error)
	RemoveEntity(ctx context.Context, id ID) error
	UpdateEntity(ctx context.Context, entity T) (T, error)
	UpdateEntityProperty(ctx context.Context, id ID, property string, value any) error
}

// BatchUpdateCallback runs a group of mutations. Returning an error rolls
// all of them back.
type BatchUpdateCallback[T any, ID comparable] func(ctx context.Context, batch MutableEntityProvider[T, ID]) error

// BatchableEntityProvider runs mutations in a single transaction.
type BatchableEntityProvider[T any, ID comparable] interface {
	MutableEntityProvider[T, ID]
	BatchUpdate(ctx context.Context, fn BatchUpdateCallback[T, ID]) error
}

// CachingEntityProvider keeps loaded entities and query results in memory.
type CachingEntityProvider[T any, ID comparable] interface {
	BatchableEntityProvider[T, ID]
	CacheInUse() bool
	SetCacheInUse(ctx context.Context, inUse bool) error
	CloneCachedEntities() bool
	SetCloneCachedEntities(clone bool) error
	EntityCacheMaxSize() int
	SetEntityCacheMaxSize(size int) error
	MaxCacheSize() int
	SetMaxCacheSize(size int) error
	Flush(ctx context.Context) error
	InvalidateEntity(ctx context.Context, id ID) error
}

// IndexedEntityProvider finds the position of an identifier without handing
// out the whole identifier list.
type IndexedEntityProvider[ID comparable] interface {
	IndexOfEntityIdentifier(ctx context.Context, id ID, f filter.Filter, sort []SortBy) (int, error)
}

// Store is the part of repository.Repository a provider needs. Any
// go-repository-bun repository satisfies it.
type Store[T any] interface {
	List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error)
	ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error)
	Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error)
	CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error)
	Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error)
	CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error)
	Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error)
	UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error)
	DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error
	DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error
}

var _ Store[any] = (repository.Repository[any])(nil)

// txStore binds every call of a store to one transaction.
type txStore[T any] struct {
	base Store[T]
	tx   bun.IDB
}

func (s txStore[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return s.base.ListTx(ctx, s.tx, criteria...)
}

func (s txStore[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return s.base.ListTx(ctx, tx, criteria...)
}

func (s txStore[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	return s.base.CountTx(ctx, s.tx, criteria...)
}

func (s txStore[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return s.base.CountTx(ctx, tx, criteria...)
}

func (s txStore[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	return s.base.CreateTx(ctx, s.tx, record, criteria...)
}

func (s txStore[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	return s.base.CreateTx(ctx, tx, record, criteria...)
}

func (s txStore[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return s.base.UpdateTx(ctx, s.tx, record, criteria...)
}

func (s txStore[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return s.base.UpdateTx(ctx, tx, record, criteria...)
}

func (s txStore[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return s.base.DeleteWhereTx(ctx, s.tx, criteria...)
}

func (s txStore[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return s.base.DeleteWhereTx(ctx, tx, criteria...)
}
