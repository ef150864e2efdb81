// Package cache provides the storage interfaces used by caching entity providers.
//
// # Overview
//
// This package exports two main interfaces and their default implementations:
//
//   - CacheService: read-through and direct access storage backed by sturdyc
//   - KeySerializer: builds stable cache keys from a method name and arguments
//
// A caching entity provider keeps two CacheService instances. The entity
// cache maps identifiers to loaded entities and is bounded by the provider's
// entity cache max size. The filter cache maps a (filter, sort order) pair to
// the entity count and the identifier list loaded so far.
//
// # Basic Usage
//
//	cfg := cache.DefaultConfig().WithCapacity(400)
//	entities, err := cache.NewCacheService(cfg)
//	if err != nil {
//		return err
//	}
//
//	person, err := cache.GetOrFetch(ctx, entities, "entity::42", func(ctx context.Context) (*Person, error) {
//		return load(ctx, 42)
//	})
//
// Fetch functions return ErrNotFound for identifiers that do not exist. With
// MissingRecordStorage enabled, the miss is remembered until it expires or is
// invalidated.
//
// # Key Serialization Strategy
//
// The default key serializer walks arguments with reflection:
//
//   - KeyFormatter values: their CacheKey() form (filters, sort orders)
//   - time.Time: RFC3339 in UTC
//   - fmt.Stringer values: String()
//   - Slices/arrays: recursive serialization of elements
//   - Maps: sorted key-value pairs for deterministic output
//   - Structs: exported fields with name:value pairs
//   - Function pointers: %p formatting, stable only within a process
//
// NewHashedKeySerializer wraps a serializer and replaces long argument lists
// with an xxhash digest while keeping the method segment, so prefix
// invalidation keeps working.
package cache
