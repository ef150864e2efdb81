package container

import "sort"

// EventKind tells listeners what changed in a container.
type EventKind int

const (
	Sorted EventKind = iota + 1
	FiltersApplied
	ItemAdded
	ItemRemoved
	ItemUpdated
	Refreshed
	BatchUpdated
)

func (k EventKind) String() string {
	switch k {
	case Sorted:
		return "sorted"
	case FiltersApplied:
		return "filters-applied"
	case ItemAdded:
		return "item-added"
	case ItemRemoved:
		return "item-removed"
	case ItemUpdated:
		return "item-updated"
	case Refreshed:
		return "refreshed"
	case BatchUpdated:
		return "batch-updated"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners after the change took effect.
type Event[ID comparable] struct {
	Kind EventKind
	// ItemID is set for item events.
	ItemID ID
}

// Listener receives container events.
type Listener[ID comparable] func(Event[ID])

// AddListener registers fn and returns a function that removes it.
// Listeners are called in registration order on the caller's goroutine.
func (c *EntityContainer[T, ID]) AddListener(fn Listener[ID]) (remove func()) {
	if fn == nil {
		return func() {}
	}

	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *EntityContainer[T, ID]) fire(e Event[ID]) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener[ID], len(ids))
	for i, id := range ids {
		listeners[i] = c.listeners[id]
	}
	c.mu.Unlock()

	c.logger.Debug("container event", "kind", e.Kind.String())
	for _, l := range listeners {
		l(e)
	}
}
