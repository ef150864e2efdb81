package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-entity-provider/internal/demo"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
// The path is relative to the test package directory.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// Customers returns fresh copies of the seed customers.
func Customers(t testing.TB) []*demo.Customer {
	t.Helper()

	customers, err := demo.Customers()
	if err != nil {
		t.Fatalf("failed to load seed customers: %v", err)
	}
	return customers
}

// Orders returns fresh copies of the seed orders with Customer set.
func Orders(t testing.TB) []*demo.Order {
	t.Helper()

	customers := Customers(t)
	byID := make(map[string]*demo.Customer, len(customers))
	for _, c := range customers {
		byID[c.ID.String()] = c
	}

	orders := demo.Orders(customers)
	for _, o := range orders {
		o.Customer = byID[o.CustomerID.String()]
	}
	return orders
}
