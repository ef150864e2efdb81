package provider

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goliatone/go-entity-provider/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCaching(t *testing.T, store *fakeStore[*testOrder], opts ...Option) *CachingLocalEntityProvider[*testOrder, int64] {
	t.Helper()
	p, err := NewCachingLocalEntityProvider[*testOrder, int64](store, opts...)
	require.NoError(t, err)
	return p
}

func TestCaching_Defaults(t *testing.T) {
	p := newTestCaching(t, newOrderStore(t, 0))

	assert.True(t, p.CacheInUse())
	assert.False(t, p.CloneCachedEntities())
	assert.Equal(t, DefaultCacheSize, p.EntityCacheMaxSize())
	assert.Equal(t, DefaultCacheSize, p.MaxCacheSize())
	assert.Equal(t, CacheStats{}, p.Stats())
}

func TestCaching_InvalidSizes(t *testing.T) {
	p := newTestCaching(t, newOrderStore(t, 0))

	assert.Error(t, p.SetEntityCacheMaxSize(0))
	assert.Error(t, p.SetMaxCacheSize(-1))
	assert.Equal(t, DefaultCacheSize, p.EntityCacheMaxSize())

	require.NoError(t, p.SetEntityCacheMaxSize(10))
	require.NoError(t, p.SetMaxCacheSize(20))
	assert.Equal(t, 10, p.EntityCacheMaxSize())
	assert.Equal(t, 20, p.MaxCacheSize())

	_, err := NewCachingLocalEntityProvider[*testOrder, int64](newOrderStore(t, 0), WithEntityCacheMaxSize(0))
	assert.Error(t, err)
}

func TestCaching_GetEntityIdentity(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 3)
	p := newTestCaching(t, store)

	first, ok, err := p.GetEntity(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	second, ok, err := p.GetEntity(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Same(t, first, second)
	assert.Equal(t, 1, store.selectCount())
}

func TestCaching_GetEntityMissingIsRemembered(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 1)
	p := newTestCaching(t, store)

	for i := 0; i < 2; i++ {
		_, ok, err := p.GetEntity(ctx, 7)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 1, store.selectCount())

	_, err := p.AddEntity(ctx, &testOrder{ID: 7, No: 700})
	require.NoError(t, err)

	added, ok, err := p.GetEntity(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 700, added.No)
}

func TestCaching_GetEntityError(t *testing.T) {
	store := newOrderStore(t, 1)
	store.err = errStore
	p := newTestCaching(t, store)

	_, ok, err := p.GetEntity(context.Background(), 1)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, errStore))
}

func TestCaching_CloneCachedEntities(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 2)
	note := "fragile"
	store.rows[0].Note = &note
	p := newTestCaching(t, store, WithCloneCachedEntities(true))
	require.True(t, p.CloneCachedEntities())

	first, _, err := p.GetEntity(ctx, 1)
	require.NoError(t, err)
	second, _, err := p.GetEntity(ctx, 1)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.NotSame(t, store.rows[0], first)
	assert.Equal(t, store.rows[0].No, first.No)
	require.NotNil(t, first.Note)
	assert.Equal(t, "fragile", *first.Note)

	first.No = -1
	third, _, err := p.GetEntity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100, third.No)
	assert.Equal(t, 1, store.selectCount())

	require.NoError(t, p.SetCloneCachedEntities(false))
	fourth, _, err := p.GetEntity(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, store.rows[0], fourth)
}

func TestCloneFunc(t *testing.T) {
	clone, err := cloneFunc[*testCustomer]()
	require.NoError(t, err)

	c := &testCustomer{ID: 1, Name: "Ann"}
	copied, err := clone(c)
	require.NoError(t, err)
	assert.NotSame(t, c, copied)
	assert.Equal(t, c, copied)

	var nilCustomer *testCustomer
	copied, err = clone(nilCustomer)
	require.NoError(t, err)
	assert.Nil(t, copied)

	_, err = cloneFunc[testCustomer]()
	assert.True(t, errors.Is(err, ErrNotCloneable))

	_, err = cloneFunc[int64]()
	assert.True(t, errors.Is(err, ErrNotCloneable))
}

func TestCaching_ChunkLoading(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 7)
	p := newTestCaching(t, store, WithChunkSize(3))
	sort := []SortBy{Asc("no")}

	id, ok, err := p.GetEntityIdentifierAt(ctx, nil, sort, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, 1, store.selectCount())
	assert.Contains(t, store.lastSelect(), "LIMIT 3")
	assert.NotContains(t, store.lastSelect(), "OFFSET")

	id, _, err = p.GetEntityIdentifierAt(ctx, nil, sort, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.Equal(t, 1, store.selectCount())

	id, _, err = p.GetEntityIdentifierAt(ctx, nil, sort, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.Equal(t, 2, store.selectCount())
	assert.Contains(t, store.lastSelect(), "LIMIT 3 OFFSET 3")

	id, ok, err = p.GetEntityIdentifierAt(ctx, nil, sort, 6)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Contains(t, store.lastSelect(), "LIMIT 3 OFFSET 6")

	_, ok, err = p.GetEntityIdentifierAt(ctx, nil, sort, 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, store.selectCount())

	// chunk loads filled the entity cache
	entity, ok, err := p.GetEntity(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, store.rows[4], entity)
	assert.Equal(t, 3, store.selectCount())

	// the walk is complete, so the rest is answered from memory
	ids, err := p.GetAllEntityIdentifiers(ctx, nil, sort)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, ids)

	last, ok, err := p.GetLastEntityIdentifier(ctx, nil, sort)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), last)

	next, ok, err := p.GetNextEntityIdentifier(ctx, 3, nil, sort)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), next)

	prev, ok, err := p.GetPreviousEntityIdentifier(ctx, 1, nil, sort)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, prev)

	_, ok, err = p.GetNextEntityIdentifier(ctx, 7, nil, sort)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 3, store.selectCount())
	assert.Zero(t, store.countCount())
}

func TestCaching_ChunkLoadingJumpsAhead(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 20)
	p := newTestCaching(t, store, WithChunkSize(4))

	id, ok, err := p.GetEntityIdentifierAt(ctx, nil, nil, 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), id)
	assert.Equal(t, 1, store.selectCount())
	assert.Contains(t, store.lastSelect(), "LIMIT 12")
}

func TestCaching_IdentifiersBeyondDefaultPage(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 30)
	p := newTestCaching(t, store, WithChunkSize(4))

	_, _, err := p.GetEntityIdentifierAt(ctx, nil, nil, 0)
	require.NoError(t, err)

	ids, err := p.GetAllEntityIdentifiers(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, ids, 30)
	assert.Equal(t, int64(30), ids[29])
}

func TestCaching_IndexOfEntityIdentifier(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 30)
	p := newTestCaching(t, store, WithChunkSize(4))
	sort := []SortBy{Asc("no")}

	i, err := p.IndexOfEntityIdentifier(ctx, 3, nil, sort)
	require.NoError(t, err)
	assert.Equal(t, 2, i)
	selects := store.selectCount()

	i, err = p.IndexOfEntityIdentifier(ctx, 30, nil, sort)
	require.NoError(t, err)
	assert.Equal(t, 29, i)

	i, err = p.IndexOfEntityIdentifier(ctx, 99, nil, sort)
	require.NoError(t, err)
	assert.Equal(t, -1, i)
	assert.Equal(t, selects, store.selectCount())

	// identifiers of a partly loaded result are answered from the index
	byNo := []SortBy{Desc("no")}
	_, _, err = p.GetEntityIdentifierAt(ctx, nil, byNo, 0)
	require.NoError(t, err)
	selects = store.selectCount()
	i, err = p.IndexOfEntityIdentifier(ctx, 2, nil, byNo)
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	assert.Equal(t, selects, store.selectCount())

	require.NoError(t, p.SetCacheInUse(ctx, false))
	i, err = p.IndexOfEntityIdentifier(ctx, 5, nil, sort)
	require.NoError(t, err)
	assert.Equal(t, 4, i)
}

func TestCaching_CountAndContains(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 4)
	p := newTestCaching(t, store)
	f := filter.Gt("no", 0)

	for i := 0; i < 3; i++ {
		n, err := p.GetEntityCount(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	}
	assert.Equal(t, 1, store.countCount())

	// nothing loaded yet, ask the database
	found, err := p.ContainsEntity(ctx, 2, f)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, store.countCount())

	_, err = p.GetAllEntityIdentifiers(ctx, f, nil)
	require.NoError(t, err)

	found, err = p.ContainsEntity(ctx, 3, f)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = p.ContainsEntity(ctx, 99, f)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 2, store.countCount())
}

func TestCaching_LastWithoutLoadingEverything(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 10)
	p := newTestCaching(t, store, WithChunkSize(3))

	_, _, err := p.GetEntityIdentifierAt(ctx, nil, nil, 0)
	require.NoError(t, err)

	_, _, err = p.GetLastEntityIdentifier(ctx, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, store.lastSelect(), `ORDER BY "o"."id" DESC LIMIT 1`)
}

func TestCaching_SiblingBeyondLoadedPart(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 10)
	p := newTestCaching(t, store, WithChunkSize(3))

	_, _, err := p.GetEntityIdentifierAt(ctx, nil, nil, 0)
	require.NoError(t, err)

	_, _, err = p.GetNextEntityIdentifier(ctx, 8, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, store.lastSelect(), `"o"."id" > 8`)
}

func TestCaching_UpdateEntityPropertyInvalidatesDependents(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 4)
	p := newTestCaching(t, store, WithRelations())

	byNo := filter.Gt("no", 0)
	byNote := filter.IsNull("note")
	for _, f := range []filter.Filter{byNo, byNote} {
		_, err := p.GetEntityCount(ctx, f)
		require.NoError(t, err)
	}
	entity, _, err := p.GetEntity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, CacheStats{Entities: 1, Queries: 2}, p.Stats())

	require.NoError(t, p.UpdateEntityProperty(ctx, 1, "note", "checked"))
	assert.Equal(t, CacheStats{Entities: 0, Queries: 1}, p.Stats())

	counts := store.countCount()
	_, err = p.GetEntityCount(ctx, byNo)
	require.NoError(t, err)
	assert.Equal(t, counts, store.countCount())

	_, err = p.GetEntityCount(ctx, byNote)
	require.NoError(t, err)
	assert.Equal(t, counts+1, store.countCount())

	reloaded, _, err := p.GetEntity(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, entity, reloaded, "the fake store hands out its own rows")
	require.NotNil(t, reloaded.Note)
	assert.Equal(t, "checked", *reloaded.Note)
}

func TestCaching_UpdateEntityPropertyDropsRelationResults(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 4)
	p := newTestCaching(t, store)

	_, err := p.GetEntityCount(ctx, filter.Eq("customer.name", "Ann"))
	require.NoError(t, err)
	require.Equal(t, 1, p.Stats().Queries)

	require.NoError(t, p.UpdateEntityProperty(ctx, 1, "customerID", int64(2)))
	assert.Equal(t, 0, p.Stats().Queries)
}

func TestCaching_MutationsFlushFilterResults(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 4)
	p := newTestCaching(t, store)

	warm := func() {
		_, err := p.GetEntityCount(ctx, nil)
		require.NoError(t, err)
		_, _, err = p.GetEntity(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, 1, p.Stats().Queries)
	}

	warm()
	_, err := p.AddEntity(ctx, &testOrder{ID: 5, No: 500})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stats().Queries)
	assert.Equal(t, 1, p.Stats().Entities)

	warm()
	entity, _, err := p.GetEntity(ctx, 1)
	require.NoError(t, err)
	_, err = p.UpdateEntity(ctx, entity)
	require.NoError(t, err)
	assert.Equal(t, CacheStats{}, p.Stats())

	warm()
	require.NoError(t, p.RemoveEntity(ctx, 1))
	assert.Equal(t, CacheStats{}, p.Stats())

	n, err := p.GetEntityCount(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestCaching_FailedMutationKeepsCaches(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 2)
	p := newTestCaching(t, store)

	_, err := p.GetEntityCount(ctx, nil)
	require.NoError(t, err)

	store.err = errStore
	require.Error(t, p.RemoveEntity(ctx, 1))
	assert.Equal(t, 1, p.Stats().Queries)
}

func TestCaching_CacheOff(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 3)
	p := newTestCaching(t, store)

	_, _, err := p.GetEntity(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, p.Stats().Entities)

	require.NoError(t, p.SetCacheInUse(ctx, false))
	assert.False(t, p.CacheInUse())
	assert.Equal(t, CacheStats{}, p.Stats())

	for i := 0; i < 2; i++ {
		_, _, err := p.GetEntity(ctx, 1)
		require.NoError(t, err)
		_, err = p.GetEntityCount(ctx, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.selectCount())
	assert.Equal(t, 2, store.countCount())
	assert.Equal(t, CacheStats{}, p.Stats())

	n := store.selectCount()
	next, ok, err := p.GetNextEntityIdentifier(ctx, 1, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), next, "the fake store ignores the keyset predicate")
	assert.Equal(t, n+2, store.selectCount())
}

func TestCaching_FlushAndInvalidate(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 3)
	p := newTestCaching(t, store)

	_, _, err := p.GetEntity(ctx, 1)
	require.NoError(t, err)
	_, _, err = p.GetEntity(ctx, 2)
	require.NoError(t, err)
	_, err = p.GetEntityCount(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, p.InvalidateEntity(ctx, 1))
	assert.Equal(t, CacheStats{Entities: 1, Queries: 1}, p.Stats())

	require.NoError(t, p.Refresh(ctx))
	assert.Equal(t, CacheStats{}, p.Stats())
}

func TestCaching_BatchUpdateNeedsDB(t *testing.T) {
	p := newTestCaching(t, newOrderStore(t, 1))

	err := p.BatchUpdate(context.Background(), func(context.Context, MutableEntityProvider[*testOrder, int64]) error {
		return nil
	})
	assert.True(t, errors.Is(err, ErrNoTransaction))
}

func TestCaching_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	store := newOrderStore(t, 50)
	p := newTestCaching(t, store, WithChunkSize(7))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, ok, err := p.GetEntityIdentifierAt(ctx, nil, nil, i)
				if err != nil || !ok || id != int64(i+1) {
					t.Errorf("index %d: id=%d ok=%v err=%v", i, id, ok, err)
					return
				}
				if _, _, err := p.GetEntity(ctx, id); err != nil {
					t.Errorf("entity %d: %v", id, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	ids, err := p.GetAllEntityIdentifiers(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, ids, 50)
}
