package cacheinfra

import (
	"context"
	"errors"
	"time"

	"github.com/viccon/sturdyc"
)

// ErrNotFound is returned by fetch functions (and surfaced by GetOrFetch) when
// the source of truth has no record for a key. With MissingRecordStorage on,
// the miss itself is cached so repeated lookups do not reach the source.
var ErrNotFound = errors.New("cache: record not found")

// Config holds the configuration for the sturdyc cache adapter.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Must be greater than 0 and not greater than Capacity.
	NumShards int

	// TTL is the default time-to-live for cached entries.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when a shard reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EarlyRefresh configures early refresh behavior for cached entries.
	// If nil, early refresh is disabled.
	EarlyRefresh *EarlyRefreshConfig

	// MissingRecordStorage caches ErrNotFound results so that lookups for
	// identifiers that do not exist do not hit the database again.
	MissingRecordStorage bool

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// EarlyRefreshConfig configures early refresh behavior.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns the configuration used for the entity cache of a
// caching provider: 1000 entries, no early refresh.
func DefaultConfig() Config {
	return Config{
		Capacity:             1000,
		NumShards:            8,
		TTL:                  10 * time.Minute,
		EvictionPercentage:   10,
		MissingRecordStorage: true,
	}
}

// WithCapacity returns a copy of c bounded to capacity entries. The shard
// count is reduced when needed so that every shard holds at least one entry.
func (c Config) WithCapacity(capacity int) Config {
	c.Capacity = capacity
	if c.NumShards > capacity {
		c.NumShards = capacity
	}
	if c.NumShards <= 0 {
		c.NumShards = 1
	}
	return c
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL, and EvictionPercentage are passed directly
// to the sturdyc.New() constructor and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}

	if c.MissingRecordStorage {
		options = append(options, sturdyc.WithMissingRecordStorage())
	}

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.NumShards > c.Capacity {
		return &ConfigError{Field: "NumShards", Message: "must not exceed Capacity"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if e := c.EarlyRefresh; e != nil {
		switch {
		case e.MinAsyncRefreshTime < 0:
			return &ConfigError{Field: "EarlyRefresh.MinAsyncRefreshTime", Message: "must be non-negative"}
		case e.MaxAsyncRefreshTime < 0:
			return &ConfigError{Field: "EarlyRefresh.MaxAsyncRefreshTime", Message: "must be non-negative"}
		case e.SyncRefreshTime < 0:
			return &ConfigError{Field: "EarlyRefresh.SyncRefreshTime", Message: "must be non-negative"}
		case e.RetryBaseDelay < 0:
			return &ConfigError{Field: "EarlyRefresh.RetryBaseDelay", Message: "must be non-negative"}
		case e.MinAsyncRefreshTime > e.MaxAsyncRefreshTime:
			return &ConfigError{Field: "EarlyRefresh.MinAsyncRefreshTime", Message: "must not exceed MaxAsyncRefreshTime"}
		}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// SturdycService stores entities and query results in a sharded sturdyc client.
type SturdycService struct {
	client *sturdyc.Client[any]
}

// NewSturdycService validates cfg and creates a sturdyc backed service.
func NewSturdycService(cfg Config) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SturdycService{client: client}, nil
}

// GetOrFetch returns the cached value for key, calling fetchFn on a miss.
// Concurrent misses for the same key are deduplicated by sturdyc.
func (s *SturdycService) GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error)) (any, error) {
	if fetchFn == nil {
		return nil, &ConfigError{Field: "fetchFn", Message: "cannot be nil"}
	}

	// sturdyc asserts every fetch result to the value type, even next to an
	// error, and a nil interface fails that assertion.
	value, err := s.client.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		v, err := fetchFn(ctx)
		if errors.Is(err, ErrNotFound) {
			return nilValue{}, sturdyc.ErrNotFound
		}
		if err != nil {
			return nilValue{}, err
		}
		if v == nil {
			return nilValue{}, nil
		}
		return v, nil
	})
	if errors.Is(err, sturdyc.ErrNotFound) || errors.Is(err, sturdyc.ErrMissingRecord) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return unwrapNil(value), nil
}

// nilValue stands in for a nil fetch result inside the sturdyc client.
type nilValue struct{}

func unwrapNil(v any) any {
	if _, ok := v.(nilValue); ok {
		return nil
	}
	return v
}

// Get returns the cached value for key without touching the source.
func (s *SturdycService) Get(ctx context.Context, key string) (any, bool) {
	v, ok := s.client.Get(key)
	if !ok {
		return nil, false
	}
	return unwrapNil(v), true
}

// Set stores value under key.
func (s *SturdycService) Set(ctx context.Context, key string, value any) error {
	if value == nil {
		value = nilValue{}
	}
	s.client.Set(key, value)
	return nil
}

// Delete removes a single entry.
func (s *SturdycService) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// InvalidateKeys removes the given keys.
func (s *SturdycService) InvalidateKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}

// Flush empties the cache.
func (s *SturdycService) Flush(ctx context.Context) error {
	return s.InvalidateKeys(ctx, s.client.ScanKeys())
}

// Size reports the number of stored entries, missing-record markers included.
func (s *SturdycService) Size() int {
	return s.client.Size()
}
