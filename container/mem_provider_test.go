package container

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/goliatone/go-entity-provider/filter"
	"github.com/goliatone/go-entity-provider/metadata"
	"github.com/goliatone/go-entity-provider/provider"
	"github.com/uptrace/bun"
)

type address struct {
	Street string `bun:"street"`
	City   string `bun:"city"`
}

type team struct {
	bun.BaseModel `bun:"table:teams,alias:t"`

	ID   int64  `bun:"id,pk"`
	Name string `bun:"name"`
}

type person struct {
	bun.BaseModel `bun:"table:people,alias:p"`

	ID       int64   `bun:"id,pk,autoincrement"`
	Name     string  `bun:"name"`
	Age      int     `bun:"age"`
	Address  address `bun:"embed:address_"`
	Nickname string  `bun:"-"`
	TeamID   int64   `bun:"team_id"`
	Team     *team   `bun:"rel:belongs-to,join:team_id=id"`
}

func (p *person) Clone() *person {
	cp := *p
	if p.Team != nil {
		t := *p.Team
		cp.Team = &t
	}
	return &cp
}

var errProvider = errors.New("provider failure")

// memProvider keeps people in identifier order. It records the filter and
// sort it is asked for but does not apply them.
type memProvider struct {
	md *metadata.ClassMetadata

	mu         sync.Mutex
	rows       []*person
	err        error
	lastFilter filter.Filter
	lastSort   []provider.SortBy
	updates    []string
	refreshes  int
	batches    int
}

func newMemProvider(names ...string) *memProvider {
	md, err := metadata.For((*person)(nil))
	if err != nil {
		panic(err)
	}
	p := &memProvider{md: md}
	for i, name := range names {
		p.rows = append(p.rows, &person{
			ID:      int64(i + 1),
			Name:    name,
			Age:     20 + i,
			Address: address{Street: "Main " + name, City: "Turku"},
			TeamID:  1,
			Team:    &team{ID: 1, Name: "core"},
		})
	}
	return p
}

func (p *memProvider) record(f filter.Filter, sort []provider.SortBy) error {
	p.lastFilter = f
	p.lastSort = sort
	return p.err
}

func (p *memProvider) ids() []int64 {
	ids := make([]int64, len(p.rows))
	for i, r := range p.rows {
		ids[i] = r.ID
	}
	return ids
}

func (p *memProvider) find(id int64) (*person, int) {
	for i, r := range p.rows {
		if r.ID == id {
			return r, i
		}
	}
	return nil, -1
}

func (p *memProvider) GetEntity(ctx context.Context, id int64) (*person, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, false, p.err
	}
	r, _ := p.find(id)
	return r, r != nil, nil
}

func (p *memProvider) ContainsEntity(ctx context.Context, id int64, f filter.Filter) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(f, nil); err != nil {
		return false, err
	}
	r, _ := p.find(id)
	return r != nil, nil
}

func (p *memProvider) GetEntityCount(ctx context.Context, f filter.Filter) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(f, nil); err != nil {
		return 0, err
	}
	return len(p.rows), nil
}

func (p *memProvider) GetEntityIdentifierAt(ctx context.Context, f filter.Filter, sort []provider.SortBy, index int) (int64, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(f, sort); err != nil {
		return 0, false, err
	}
	if index < 0 || index >= len(p.rows) {
		return 0, false, nil
	}
	return p.rows[index].ID, true, nil
}

func (p *memProvider) GetAllEntityIdentifiers(ctx context.Context, f filter.Filter, sort []provider.SortBy) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(f, sort); err != nil {
		return nil, err
	}
	return p.ids(), nil
}

func (p *memProvider) GetFirstEntityIdentifier(ctx context.Context, f filter.Filter, sort []provider.SortBy) (int64, bool, error) {
	return p.GetEntityIdentifierAt(ctx, f, sort, 0)
}

func (p *memProvider) GetLastEntityIdentifier(ctx context.Context, f filter.Filter, sort []provider.SortBy) (int64, bool, error) {
	p.mu.Lock()
	n := len(p.rows)
	p.mu.Unlock()
	return p.GetEntityIdentifierAt(ctx, f, sort, n-1)
}

func (p *memProvider) sibling(id int64, f filter.Filter, sort []provider.SortBy, step int) (int64, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(f, sort); err != nil {
		return 0, false, err
	}
	i := slices.Index(p.ids(), id)
	if i < 0 || i+step < 0 || i+step >= len(p.rows) {
		return 0, false, nil
	}
	return p.rows[i+step].ID, true, nil
}

func (p *memProvider) GetNextEntityIdentifier(ctx context.Context, id int64, f filter.Filter, sort []provider.SortBy) (int64, bool, error) {
	return p.sibling(id, f, sort, 1)
}

func (p *memProvider) GetPreviousEntityIdentifier(ctx context.Context, id int64, f filter.Filter, sort []provider.SortBy) (int64, bool, error) {
	return p.sibling(id, f, sort, -1)
}

func (p *memProvider) GetIdentifier(entity *person) (int64, error) {
	return entity.ID, nil
}

func (p *memProvider) Metadata() *metadata.ClassMetadata { return p.md }

func (p *memProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	return p.err
}

func (p *memProvider) AddEntity(ctx context.Context, entity *person) (*person, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if entity.ID == 0 {
		entity.ID = int64(len(p.rows) + 100)
	}
	p.rows = append(p.rows, entity)
	return entity, nil
}

func (p *memProvider) RemoveEntity(ctx context.Context, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if _, i := p.find(id); i >= 0 {
		p.rows = slices.Delete(p.rows, i, i+1)
	}
	return nil
}

func (p *memProvider) UpdateEntity(ctx context.Context, entity *person) (*person, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	_, i := p.find(entity.ID)
	if i < 0 {
		return nil, provider.ErrEntityNotFound
	}
	p.rows[i] = entity.Clone()
	p.updates = append(p.updates, "entity")
	return entity, nil
}

func (p *memProvider) UpdateEntityProperty(ctx context.Context, id int64, property string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	r, _ := p.find(id)
	if r == nil {
		return provider.ErrEntityNotFound
	}
	// stored rows are replaced, never mutated, so items keep their own copy
	cp := r.Clone()
	if err := p.md.SetValue(cp, property, value); err != nil {
		return err
	}
	_, i := p.find(id)
	p.rows[i] = cp
	p.updates = append(p.updates, property)
	return nil
}

func (p *memProvider) BatchUpdate(ctx context.Context, fn provider.BatchUpdateCallback[*person, int64]) error {
	p.mu.Lock()
	p.batches++
	p.mu.Unlock()
	return fn(ctx, p)
}

func (p *memProvider) stored(id int64) *person {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, _ := p.find(id)
	return r
}

// readOnlyProvider hides the write methods of a provider.
type readOnlyProvider struct {
	provider.EntityProvider[*person, int64]
}

// indexedProvider finds positions itself and counts how often it is asked.
type indexedProvider struct {
	*memProvider
	lookups int
}

func (p *indexedProvider) IndexOfEntityIdentifier(ctx context.Context, id int64, f filter.Filter, sort []provider.SortBy) (int, error) {
	p.lookups++
	ids, err := p.memProvider.GetAllEntityIdentifiers(ctx, f, sort)
	if err != nil {
		return -1, err
	}
	return slices.Index(ids, id), nil
}
