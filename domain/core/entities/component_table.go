package entities

import (
	"graphledger-backend/domain/core/valueobjects"
)

// ComponentTable is the owned flyweight table for component values.
// Nodes reference components by content-derived ref; the table stores each
// distinct value once and tracks how many nodes still reference it.
type ComponentTable struct {
	values   map[valueobjects.ComponentRef]valueobjects.Component
	refCount map[valueobjects.ComponentRef]int
}

// NewComponentTable creates an empty component table
func NewComponentTable() *ComponentTable {
	return &ComponentTable{
		values:   make(map[valueobjects.ComponentRef]valueobjects.Component),
		refCount: make(map[valueobjects.ComponentRef]int),
	}
}

// Intern stores the component value if it is not already present and
// returns its ref, incrementing the reference count either way.
func (t *ComponentTable) Intern(c valueobjects.Component) valueobjects.ComponentRef {
	ref := c.Ref()
	if _, exists := t.values[ref]; !exists {
		t.values[ref] = c
	}
	t.refCount[ref]++
	return ref
}

// Release decrements the reference count for ref, dropping the value once
// no node references it anymore.
func (t *ComponentTable) Release(ref valueobjects.ComponentRef) {
	count, exists := t.refCount[ref]
	if !exists {
		return
	}
	if count <= 1 {
		delete(t.refCount, ref)
		delete(t.values, ref)
		return
	}
	t.refCount[ref] = count - 1
}

// Get returns the component value for ref
func (t *ComponentTable) Get(ref valueobjects.ComponentRef) (valueobjects.Component, bool) {
	c, ok := t.values[ref]
	return c, ok
}

// Len returns the number of distinct component values in the table
func (t *ComponentTable) Len() int {
	return len(t.values)
}

// Values returns a snapshot of all stored components keyed by ref
func (t *ComponentTable) Values() map[valueobjects.ComponentRef]valueobjects.Component {
	out := make(map[valueobjects.ComponentRef]valueobjects.Component, len(t.values))
	for ref, c := range t.values {
		out[ref] = c
	}
	return out
}

// RefCount returns how many nodes reference the given component
func (t *ComponentTable) RefCount(ref valueobjects.ComponentRef) int {
	return t.refCount[ref]
}
