package di

import (
	"strings"
	"testing"

	"github.com/goliatone/go-entity-provider/config"
	"github.com/goliatone/go-entity-provider/internal/demo"
	"github.com/goliatone/go-entity-provider/pkg/testsupport"
	"github.com/goliatone/go-entity-provider/provider"
	"github.com/google/uuid"
)

func TestNewContainer(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.EntityCacheMaxSize = 42

	container, err := NewContainer(cfg)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	if container == nil {
		t.Fatal("NewContainer() returned nil container")
	}

	if container.KeySerializer() == nil {
		t.Error("Container should have a non-nil key serializer")
	}
	if container.Logger() == nil {
		t.Error("Container should fall back to a discarding logger")
	}
	if got := container.Config().Provider.EntityCacheMaxSize; got != 42 {
		t.Errorf("Expected entity cache max size 42, got %d", got)
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	tests := map[string]func(*config.Config){
		"zero chunk size":   func(c *config.Config) { c.Provider.ChunkSize = 0 },
		"unknown driver":    func(c *config.Config) { c.Database.Driver = "oracle" },
		"zero cache shards": func(c *config.Config) { c.Cache.NumShards = 0 },
		"bad log level":     func(c *config.Config) { c.Log.Level = "loud" },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if _, err := NewContainer(cfg); err == nil {
				t.Error("NewContainer() should fail with invalid config")
			}
		})
	}
}

func TestContainerSingletonBehavior(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer container.Close()

	if container.KeySerializer() != container.KeySerializer() {
		t.Error("KeySerializer() should return the same instance")
	}

	db1, err := container.DB()
	if err != nil {
		t.Fatalf("DB() failed: %v", err)
	}
	db2, err := container.DB()
	if err != nil {
		t.Fatalf("DB() failed: %v", err)
	}
	if db1 != db2 {
		t.Error("DB() should open the database once")
	}

	if err := container.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if err := container.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}
}

func TestContainer_WithDB(t *testing.T) {
	db := testsupport.QueryDB(t)
	container, err := NewContainerWithDefaults(WithDB(db))
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}

	got, err := container.DB()
	if err != nil {
		t.Fatalf("DB() failed: %v", err)
	}
	if got != db {
		t.Error("DB() should return the injected database")
	}
	if err := container.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if got, _ := container.DB(); got != db {
		t.Error("Close() must not drop an injected database")
	}
}

func TestKeySerializerIntegration(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	keys := container.KeySerializer()

	if got := keys.SerializeKey("entity", "123"); got != "entity::123" {
		t.Errorf("Expected key %q, got %q", "entity::123", got)
	}

	long := keys.SerializeKey("query", strings.Repeat("customerName = 'x' and ", 10))
	if !strings.HasPrefix(long, "query::xxh:") {
		t.Errorf("Expected long keys to be hashed, got %q", long)
	}
	if len(long) > keyHashThreshold {
		t.Errorf("Hashed key is %d bytes long", len(long))
	}
}

func TestProviderFactories(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.EntityCacheMaxSize = 50
	cfg.Provider.MaxCacheSize = 20
	cfg.Provider.CloneCachedEntities = true
	cfg.Provider.CacheInUse = false

	db := testsupport.QueryDB(t)
	container, err := NewContainer(cfg, WithDB(db))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}

	repo, err := NewRepository(container, demo.OrderHandlers())
	if err != nil {
		t.Fatalf("NewRepository() failed: %v", err)
	}

	cached, err := NewCachingProvider[*demo.Order, uuid.UUID](container, repo)
	if err != nil {
		t.Fatalf("NewCachingProvider() failed: %v", err)
	}
	if got := cached.EntityCacheMaxSize(); got != 50 {
		t.Errorf("Expected entity cache max size 50, got %d", got)
	}
	if got := cached.MaxCacheSize(); got != 20 {
		t.Errorf("Expected max cache size 20, got %d", got)
	}
	if !cached.CloneCachedEntities() {
		t.Error("Expected cloning to be on")
	}
	if cached.CacheInUse() {
		t.Error("Expected the cache to start off")
	}

	local, err := NewLocalProvider[*demo.Order, uuid.UUID](container, repo, provider.WithRelations())
	if err != nil {
		t.Fatalf("NewLocalProvider() failed: %v", err)
	}
	if got := local.Relations(); len(got) != 0 {
		t.Errorf("Expected caller options to override, got relations %v", got)
	}

	orders, err := NewEntityContainer[*demo.Order, uuid.UUID](container, cached)
	if err != nil {
		t.Fatalf("NewEntityContainer() failed: %v", err)
	}
	if orders.IsReadOnly() {
		t.Error("A container over a caching provider should be writable")
	}
}
