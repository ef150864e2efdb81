package provider

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Cloner is implemented by entities that copy themselves. A caching provider
// prefers it over the msgpack deep copy.
type Cloner[T any] interface {
	Clone() T
}

// cloneFunc returns how entities of type T are copied, or ErrNotCloneable.
// Without a Clone method, T must be a pointer to a struct that msgpack can
// encode. Unexported fields are not carried over by msgpack.
func cloneFunc[T any]() (func(T) (T, error), error) {
	var zero T
	if _, ok := any(zero).(Cloner[T]); ok {
		return func(entity T) (T, error) {
			if isNil(entity) {
				return entity, nil
			}
			return any(entity).(Cloner[T]).Clone(), nil
		}, nil
	}

	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", ErrNotCloneable, typ)
	}
	if _, err := msgpack.Marshal(reflect.New(typ.Elem()).Interface()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotCloneable, typ, err)
	}

	return func(entity T) (T, error) {
		if isNil(entity) {
			return entity, nil
		}
		data, err := msgpack.Marshal(entity)
		if err != nil {
			return zero, fmt.Errorf("clone %s: %w", typ, err)
		}
		copied := reflect.New(typ.Elem())
		if err := msgpack.Unmarshal(data, copied.Interface()); err != nil {
			return zero, fmt.Errorf("clone %s: %w", typ, err)
		}
		return copied.Interface().(T), nil
	}, nil
}

// Clone copies entity the way a caching provider does when cloning is on.
func Clone[T any](entity T) (T, error) {
	clone, err := cloneFunc[T]()
	if err != nil {
		var zero T
		return zero, err
	}
	return clone(entity)
}
