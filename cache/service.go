package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-entity-provider/internal/cacheinfra"
)

// ErrNotFound signals a missing record. Fetch functions return it so the
// backend can remember the miss; GetOrFetch surfaces it to the caller.
var ErrNotFound = cacheinfra.ErrNotFound

// ErrInvalidResultType is returned by GetOrFetch when the cached value does
// not have the requested type, which happens when two call sites share a key.
var ErrInvalidResultType = errors.New("cache: invalid result type")

// KeySerializer builds a cache key from a method name + arbitrary args.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// KeyFormatter is implemented by values that know their canonical cache key
// form, such as filters and sort orders.
type KeyFormatter interface {
	CacheKey() string
}

// FetchFn is the function signature CacheService expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the storage used by caching entity providers. One instance
// holds entities by identifier, another holds filter query results.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error)) (any, error)
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	InvalidateKeys(ctx context.Context, keys []string) error
	Flush(ctx context.Context) error
	Size() int
}

// GetOrFetch is a type-safe wrapper function that provides generic support for CacheService.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T

	result, err := service.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}

	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: key %q holds %T", ErrInvalidResultType, key, result)
	}
	return typed, nil
}

// Lookup returns the typed value stored under key, if any.
func Lookup[T any](ctx context.Context, service CacheService, key string) (T, bool) {
	var zero T
	v, ok := service.Get(ctx, key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}
