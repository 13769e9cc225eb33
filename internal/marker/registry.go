package marker

import (
	"traffic-map/internal/dataset"
	"traffic-map/internal/surface"
)

// Entry pairs a marker handle with the record whose content is currently
// bound to it. The record is kept so the next reconciliation can tell
// unchanged markers from ones needing an in-place content update.
type Entry struct {
	Handle surface.Handle
	Record dataset.LocationRecord
}

// Registry maps identity keys to live marker entries. It is the single
// source of truth for what is currently drawn: every key corresponds to a
// record of the active dataset, and every handle exists on the surface.
type Registry map[dataset.Key]Entry

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return make(Registry)
}

// Lookup returns the entry for a key, if registered.
func (r Registry) Lookup(key dataset.Key) (Entry, bool) {
	e, ok := r[key]
	return e, ok
}

// Keys returns the registered identity keys in no particular order.
func (r Registry) Keys() []dataset.Key {
	keys := make([]dataset.Key, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	return keys
}

// Clone returns a shallow copy. Reconciliation mutates a clone and returns
// it, so the returned registry always reflects exactly the operations that
// succeeded on the surface, whatever the caller held before.
func (r Registry) Clone() Registry {
	out := make(Registry, len(r))
	for k, e := range r {
		out[k] = e
	}
	return out
}
