package config

import (
	"fmt"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-entity-provider/cache"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
)

// Config is the file configuration of entityctl and of the DI container.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Cache    cache.Config   `yaml:"cache"`
	Provider ProviderConfig `yaml:"provider"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	LogQueries   bool   `yaml:"log_queries"`
}

// ProviderConfig holds the settings of caching entity providers.
type ProviderConfig struct {
	CacheInUse          bool `yaml:"cache_in_use"`
	CloneCachedEntities bool `yaml:"clone_cached_entities"`
	EntityCacheMaxSize  int  `yaml:"entity_cache_max_size"`
	MaxCacheSize        int  `yaml:"max_cache_size"`
	ChunkSize           int  `yaml:"chunk_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given: an in-memory
// sqlite database and caching providers with the stock limits.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:       DriverSQLite,
			DSN:          "file::memory:?cache=shared",
			MaxOpenConns: 1,
		},
		Cache: cache.DefaultConfig(),
		Provider: ProviderConfig{
			CacheInUse:         true,
			EntityCacheMaxSize: 1000,
			MaxCacheSize:       1000,
			ChunkSize:          150,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path on top of Default and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Database),
		validation.Field(&c.Cache),
		validation.Field(&c.Provider),
		validation.Field(&c.Log),
	)
}

func (c DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverPostgres, DriverSQLite, DriverMySQL)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
	)
}

func (c ProviderConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.EntityCacheMaxSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxCacheSize, validation.Required, validation.Min(1)),
		validation.Field(&c.ChunkSize, validation.Required, validation.Min(1)),
	)
}

func (c LogConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.In("text", "json")),
	)
}
