package container

import (
	"context"
	"fmt"
	"reflect"

	"github.com/goliatone/go-entity-provider/provider"
)

// IdentifierConverter translates between the item ids a selection holds and
// the entities a model field stores.
type IdentifierConverter[T any, ID comparable] struct {
	container *EntityContainer[T, ID]
}

func NewIdentifierConverter[T any, ID comparable](c *EntityContainer[T, ID]) *IdentifierConverter[T, ID] {
	return &IdentifierConverter[T, ID]{container: c}
}

// ToModel returns the entity for id. The zero id converts to the zero entity.
func (c *IdentifierConverter[T, ID]) ToModel(ctx context.Context, id ID) (T, error) {
	var zero T
	var none ID
	if id == none {
		return zero, nil
	}
	entity, ok, err := c.container.provider.GetEntity(ctx, id)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, fmt.Errorf("%w: %v", provider.ErrEntityNotFound, id)
	}
	return entity, nil
}

// ToPresentation returns the item id of entity. A nil entity converts to the
// zero id.
func (c *IdentifierConverter[T, ID]) ToPresentation(entity T) (ID, error) {
	if v := reflect.ValueOf(any(entity)); !v.IsValid() || (v.Kind() == reflect.Ptr && v.IsNil()) {
		var none ID
		return none, nil
	}
	return c.container.provider.GetIdentifier(entity)
}
