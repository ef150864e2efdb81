package container

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/goliatone/go-entity-provider/metadata"
	"github.com/goliatone/go-entity-provider/provider"
)

// EntityItem wraps one entity of a container. In a buffered container the
// item owns a private copy of the entity until Commit or Discard.
type EntityItem[T any, ID comparable] struct {
	container *EntityContainer[T, ID]
	id        ID
	entity    T
	modified  []string
}

func (c *EntityContainer[T, ID]) newItem(id ID, entity T) (*EntityItem[T, ID], error) {
	if c.buffered {
		copied, err := provider.Clone(entity)
		if err != nil {
			return nil, err
		}
		entity = copied
	}
	return &EntityItem[T, ID]{container: c, id: id, entity: entity}, nil
}

func (i *EntityItem[T, ID]) ID() ID { return i.id }

// Entity returns the wrapped entity, including uncommitted changes.
func (i *EntityItem[T, ID]) Entity() T { return i.entity }

// ItemPropertyIDs returns the container's property ids.
func (i *EntityItem[T, ID]) ItemPropertyIDs() []string {
	return i.container.ContainerPropertyIDs()
}

// ItemProperty returns the property at path, which may be any resolvable
// path even if the container does not list it.
func (i *EntityItem[T, ID]) ItemProperty(path string) (*ItemProperty[T, ID], error) {
	resolved, err := i.container.md.Resolve(path)
	if err != nil {
		return nil, err
	}
	return &ItemProperty[T, ID]{item: i, path: resolved}, nil
}

// IsModified reports uncommitted changes. Write-through items are never
// modified.
func (i *EntityItem[T, ID]) IsModified() bool {
	return len(i.modified) > 0
}

// ModifiedProperties lists the properties changed since the last Commit or
// Discard.
func (i *EntityItem[T, ID]) ModifiedProperties() []string {
	return slices.Clone(i.modified)
}

// Commit writes the buffered changes with one entity update.
func (i *EntityItem[T, ID]) Commit(ctx context.Context) error {
	if !i.IsModified() {
		return nil
	}
	m, err := i.container.writable()
	if err != nil {
		return err
	}
	if _, err := m.UpdateEntity(ctx, i.entity); err != nil {
		return err
	}
	i.modified = nil

	i.container.fire(Event[ID]{Kind: ItemUpdated, ItemID: i.id})
	return nil
}

// Discard drops buffered changes by reloading the entity.
func (i *EntityItem[T, ID]) Discard(ctx context.Context) error {
	if !i.IsModified() {
		return nil
	}
	entity, ok, err := i.container.provider.GetEntity(ctx, i.id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %v", provider.ErrEntityNotFound, i.id)
	}
	fresh, err := i.container.newItem(i.id, entity)
	if err != nil {
		return err
	}
	i.entity = fresh.entity
	i.modified = nil
	return nil
}

// ItemProperty is one property of an item.
type ItemProperty[T any, ID comparable] struct {
	item *EntityItem[T, ID]
	path *metadata.Path
}

func (p *ItemProperty[T, ID]) ID() string { return p.path.ID }

// Type returns the Go type of the property.
func (p *ItemProperty[T, ID]) Type() reflect.Type { return p.path.Leaf().Type }

// Value reads the property. A nil reference on the way reads as nil.
func (p *ItemProperty[T, ID]) Value() (any, error) {
	return p.item.container.md.Value(p.item.entity, p.path.ID)
}

// ReadOnly reports whether SetValue is rejected. Only stored columns of the
// entity's own table are writable, and never the identifier.
func (p *ItemProperty[T, ID]) ReadOnly() bool {
	if p.item.container.IsReadOnly() {
		return true
	}
	return p.path.Relation != "" || !p.path.Queryable() || p.path.Leaf().PK
}

// SetValue assigns the property. A write-through item updates the stored
// column at once; a buffered item only records the change.
func (p *ItemProperty[T, ID]) SetValue(ctx context.Context, value any) error {
	if p.ReadOnly() {
		return fmt.Errorf("%w: %s", ErrReadOnly, p.path.ID)
	}

	c := p.item.container
	if c.buffered {
		if err := c.md.SetValue(p.item.entity, p.path.ID, value); err != nil {
			return err
		}
		if !slices.Contains(p.item.modified, p.path.ID) {
			p.item.modified = append(p.item.modified, p.path.ID)
		}
		return nil
	}

	m, err := c.writable()
	if err != nil {
		return err
	}
	if err := m.UpdateEntityProperty(ctx, p.item.id, p.path.ID, value); err != nil {
		return err
	}
	// keep the wrapped entity in step with the stored row
	if err := c.md.SetValue(p.item.entity, p.path.ID, value); err != nil {
		return err
	}

	c.fire(Event[ID]{Kind: ItemUpdated, ItemID: p.item.id})
	return nil
}
