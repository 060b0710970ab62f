package profile

import (
	"sync"
	"sync/atomic"
)

// Registry is a read-mostly map from profile name to Record. Readers never
// take a lock: they dereference an atomic.Pointer snapshot. Writers
// (Load/Refresh) build a brand-new map and swap the pointer under a short
// lock, a read-copy-update pattern that lets capture and transcode workers
// borrow a Record for the duration of a single operation without blocking
// a concurrent reload.
type Registry struct {
	mu          sync.Mutex // serializes writers only
	snapshot    atomic.Pointer[map[string]*Record]
	defaultName string
}

// NewRegistry constructs an empty registry. defaultName is the fallback
// profile name used when a lookup misses.
func NewRegistry(defaultName string) *Registry {
	r := &Registry{defaultName: defaultName}
	empty := map[string]*Record{}
	r.snapshot.Store(&empty)
	return r
}

// Replace atomically swaps in a brand-new set of records, discarding any
// previous generation. Existing borrows of the old map remain valid since
// readers hold their own reference to the snapshot they loaded.
func (r *Registry) Replace(records map[string]*Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]*Record, len(records))
	for name, rec := range records {
		snap[name] = rec
	}
	r.snapshot.Store(&snap)
}

// Lookup resolves name in the current snapshot. An unknown name falls back
// to the configured default name, then to the first registered profile (in
// map iteration order, since the registry imposes no ordering on profile
// names), matching the fallback rule in the data model. ok is false only
// when the registry holds no profiles at all.
func (r *Registry) Lookup(name string) (rec *Record, ok bool) {
	snap := *r.snapshot.Load()
	if rec, found := snap[name]; found {
		return rec, true
	}
	if rec, found := snap[r.defaultName]; found {
		return rec, true
	}
	for _, rec := range snap {
		return rec, true
	}
	return nil, false
}

// Names returns every currently registered profile name.
func (r *Registry) Names() []string {
	snap := *r.snapshot.Load()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	return names
}

// Len returns the number of currently registered profiles.
func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}
