package filter

import (
	"fmt"
	"sort"
	"sync"
)

// Listener is called after the applied filters change.
type Listener func(applied []Filter)

// Support keeps the filter state of a container: the filterable property
// ids, the filters added so far and the filters last applied. With apply
// immediately on (the default), every change is applied at once; otherwise
// changes stay pending until ApplyFilters.
type Support struct {
	mu          sync.Mutex
	filterable  []string
	filters     []Filter
	applied     []Filter
	immediately bool
	listeners   map[int]Listener
	nextID      int
}

// NewSupport creates a Support that accepts filters on the given properties.
func NewSupport(filterable ...string) *Support {
	return &Support{
		filterable:  append([]string(nil), filterable...),
		immediately: true,
		listeners:   map[int]Listener{},
	}
}

// FilterablePropertyIDs returns the properties filters may reference.
func (s *Support) FilterablePropertyIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.filterable...)
}

// SetFilterablePropertyIDs replaces the filterable properties. Existing
// filters are kept even if they no longer validate.
func (s *Support) SetFilterablePropertyIDs(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filterable = append([]string(nil), ids...)
}

// IsFilterable reports whether filters may reference property.
func (s *Support) IsFilterable(property string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isFilterable(property)
}

func (s *Support) isFilterable(property string) bool {
	for _, id := range s.filterable {
		if id == property {
			return true
		}
	}
	return false
}

// AddFilter adds f. Every property f references must be filterable.
func (s *Support) AddFilter(f Filter) error {
	if f == nil {
		return fmt.Errorf("%w: nil filter", ErrUnsupportedFilter)
	}

	s.mu.Lock()
	for _, p := range Properties(f) {
		if !s.isFilterable(p) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFilterable, p)
		}
	}
	s.filters = append(s.filters, f)
	fire := s.applyIfImmediate()
	s.mu.Unlock()

	fire()
	return nil
}

// RemoveFilter removes the first filter with the same cache key as f.
func (s *Support) RemoveFilter(f Filter) {
	if f == nil {
		return
	}
	key := f.CacheKey()

	s.mu.Lock()
	for i, existing := range s.filters {
		if existing.CacheKey() == key {
			s.filters = append(s.filters[:i:i], s.filters[i+1:]...)
			break
		}
	}
	fire := s.applyIfImmediate()
	s.mu.Unlock()

	fire()
}

// RemoveAllFilters removes every filter.
func (s *Support) RemoveAllFilters() {
	s.mu.Lock()
	s.filters = nil
	fire := s.applyIfImmediate()
	s.mu.Unlock()

	fire()
}

// Filters returns the current filters, applied or not.
func (s *Support) Filters() []Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Filter(nil), s.filters...)
}

// AppliedFilters returns the filters in effect.
func (s *Support) AppliedFilters() []Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Filter(nil), s.applied...)
}

// Applied returns the applied filters joined with And, or nil.
func (s *Support) Applied() Filter {
	return And(s.AppliedFilters()...)
}

// ApplyFilters makes the current filters the applied ones and notifies
// listeners, even when nothing changed.
func (s *Support) ApplyFilters() {
	s.mu.Lock()
	fire := s.apply()
	s.mu.Unlock()

	fire()
}

// HasUnappliedFilters reports whether the current filters differ from the
// applied ones.
func (s *Support) HasUnappliedFilters() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.filters) != len(s.applied) {
		return true
	}
	for i := range s.filters {
		if s.filters[i].CacheKey() != s.applied[i].CacheKey() {
			return true
		}
	}
	return false
}

// SetApplyFiltersImmediately toggles immediate application. Pending filters
// are not applied by turning it on.
func (s *Support) SetApplyFiltersImmediately(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.immediately = on
}

func (s *Support) ApplyFiltersImmediately() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.immediately
}

// AddListener registers fn and returns a function that removes it.
func (s *Support) AddListener(fn Listener) (remove func()) {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Support) applyIfImmediate() func() {
	if !s.immediately {
		return func() {}
	}
	return s.apply()
}

// apply must be called with mu held. The returned function notifies
// listeners and must be called after mu is released.
func (s *Support) apply() func() {
	s.applied = append([]Filter(nil), s.filters...)
	applied := append([]Filter(nil), s.applied...)

	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, len(ids))
	for i, id := range ids {
		listeners[i] = s.listeners[id]
	}

	return func() {
		for _, l := range listeners {
			l(applied)
		}
	}
}
