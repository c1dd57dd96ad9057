// Package lockreg provides a registry of mutual-exclusion locks keyed by
// resource. It is used to serialise every operation touching the same
// on-disk credential store.
package lockreg

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int // holders plus waiters, guarded by Registry.mu
}

// Registry hands out one lock per key. Entries are created on first use and
// reclaimed once nobody holds or waits for them.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *Registry {
	return &Registry{
		locks: make(map[string]*entry),
	}
}

// Lock blocks until the lock for key is held and returns the function
// releasing it. The returned function must be called exactly once.
func (r *Registry) Lock(key string) (unlock func()) {
	r.mu.Lock()
	e, ok := r.locks[key]
	if !ok {
		e = &entry{}
		r.locks[key] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			r.release(key, e)
		})
	}
}

func (r *Registry) release(key string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.refs--
	if e.refs == 0 && r.locks[key] == e {
		delete(r.locks, key)
	}
}

// Len returns the number of keys currently held or waited for.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.locks)
}
