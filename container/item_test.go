package container

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-entity-provider/metadata"
	"github.com/goliatone/go-entity-provider/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_Lookup(t *testing.T) {
	ctx := context.Background()
	p := newMemProvider("Ann")
	c := newTestContainer(t, p)

	item, ok, err := c.Item(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), item.ID())
	assert.Same(t, p.stored(1), item.Entity())
	assert.Equal(t, c.ContainerPropertyIDs(), item.ItemPropertyIDs())

	_, ok, err = c.Item(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestItemProperty_Values(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, newMemProvider("Ann"))

	item, _, err := c.Item(ctx, 1)
	require.NoError(t, err)

	tests := []struct {
		path string
		want any
	}{
		{"name", "Ann"},
		{"age", 20},
		{"address.city", "Turku"},
		{"team.name", "core"},
	}
	for _, tt := range tests {
		prop, err := item.ItemProperty(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.path, prop.ID())

		v, err := prop.Value()
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, v, tt.path)
	}

	prop, err := item.ItemProperty("age")
	require.NoError(t, err)
	assert.Equal(t, "int", prop.Type().String())

	item.Entity().Team = nil
	prop, err = item.ItemProperty("team.name")
	require.NoError(t, err)
	v, err := prop.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = item.ItemProperty("missing")
	assert.True(t, errors.Is(err, provider.ErrUnknownProperty))
}

func TestItemProperty_ReadOnly(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, newMemProvider("Ann"))
	item, _, err := c.Item(ctx, 1)
	require.NoError(t, err)

	tests := map[string]bool{
		"name":         false,
		"address.city": false,
		"teamID":       false,
		"id":           true,
		"nickname":     true,
		"team":         true,
		"team.name":    true,
		"address":      true,
	}
	for path, want := range tests {
		prop, err := item.ItemProperty(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, prop.ReadOnly(), path)

		if want {
			err := prop.SetValue(ctx, nil)
			assert.True(t, errors.Is(err, ErrReadOnly), path)
		}
	}

	require.NoError(t, c.SetReadOnly(true))
	prop, err := item.ItemProperty("name")
	require.NoError(t, err)
	assert.True(t, prop.ReadOnly())
}

func TestItemProperty_WriteThrough(t *testing.T) {
	ctx := context.Background()
	p := newMemProvider("Ann")
	c := newTestContainer(t, p)
	events := recordEvents(c)

	item, _, err := c.Item(ctx, 1)
	require.NoError(t, err)

	prop, err := item.ItemProperty("address.city")
	require.NoError(t, err)
	require.NoError(t, prop.SetValue(ctx, "Espoo"))

	assert.Equal(t, []string{"address.city"}, p.updates)
	assert.Equal(t, "Espoo", p.stored(1).Address.City)
	assert.Equal(t, "Espoo", item.Entity().Address.City)
	assert.False(t, item.IsModified())
	assert.Equal(t, []Event[int64]{{Kind: ItemUpdated, ItemID: 1}}, *events)

	prop, err = item.ItemProperty("age")
	require.NoError(t, err)
	err = prop.SetValue(ctx, "old")
	assert.True(t, errors.Is(err, metadata.ErrTypeMismatch))
	assert.Equal(t, 20, item.Entity().Age)
	assert.Len(t, *events, 1)

	p.err = errProvider
	err = prop.SetValue(ctx, 30)
	assert.True(t, errors.Is(err, errProvider))
	assert.Equal(t, 20, item.Entity().Age)
}

func TestItem_Buffered(t *testing.T) {
	ctx := context.Background()
	p := newMemProvider("Ann")
	c := newTestContainer(t, p, WithBufferedItems())
	events := recordEvents(c)

	item, _, err := c.Item(ctx, 1)
	require.NoError(t, err)
	assert.NotSame(t, p.stored(1), item.Entity())

	name, err := item.ItemProperty("name")
	require.NoError(t, err)
	require.NoError(t, name.SetValue(ctx, "Anna"))
	require.NoError(t, name.SetValue(ctx, "Annie"))
	city, err := item.ItemProperty("address.city")
	require.NoError(t, err)
	require.NoError(t, city.SetValue(ctx, "Oulu"))

	assert.True(t, item.IsModified())
	assert.Equal(t, []string{"name", "address.city"}, item.ModifiedProperties())
	assert.Equal(t, "Ann", p.stored(1).Name)
	assert.Empty(t, p.updates)
	assert.Empty(t, *events)

	require.NoError(t, item.Commit(ctx))
	assert.False(t, item.IsModified())
	assert.Equal(t, []string{"entity"}, p.updates)
	assert.Equal(t, "Annie", p.stored(1).Name)
	assert.Equal(t, "Oulu", p.stored(1).Address.City)
	assert.Equal(t, []Event[int64]{{Kind: ItemUpdated, ItemID: 1}}, *events)

	require.NoError(t, item.Commit(ctx))
	assert.Len(t, p.updates, 1)
}

func TestItem_Discard(t *testing.T) {
	ctx := context.Background()
	p := newMemProvider("Ann")
	c := newTestContainer(t, p, WithBufferedItems())

	item, _, err := c.Item(ctx, 1)
	require.NoError(t, err)
	name, err := item.ItemProperty("name")
	require.NoError(t, err)
	require.NoError(t, name.SetValue(ctx, "Anna"))

	require.NoError(t, item.Discard(ctx))
	assert.False(t, item.IsModified())
	assert.Equal(t, "Ann", item.Entity().Name)
	assert.NotSame(t, p.stored(1), item.Entity())
	assert.Empty(t, p.updates)

	require.NoError(t, name.SetValue(ctx, "Anna"))
	_, err = c.RemoveItem(ctx, 1)
	require.NoError(t, err)
	err = item.Discard(ctx)
	assert.True(t, errors.Is(err, provider.ErrEntityNotFound))
}

func TestItem_CommitReadOnly(t *testing.T) {
	ctx := context.Background()
	p := newMemProvider("Ann")
	c := newTestContainer(t, p, WithBufferedItems())

	item, _, err := c.Item(ctx, 1)
	require.NoError(t, err)
	name, err := item.ItemProperty("name")
	require.NoError(t, err)
	require.NoError(t, name.SetValue(ctx, "Anna"))

	require.NoError(t, c.SetReadOnly(true))
	err = item.Commit(ctx)
	assert.True(t, errors.Is(err, ErrReadOnly))
	assert.True(t, item.IsModified())
	assert.Empty(t, p.updates)
}
