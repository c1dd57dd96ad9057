// Package transient implements a small in-memory key/value store whose
// entries expire a fixed time after they were put. Expiry is evaluated
// lazily on every read; there is no background sweep.
package transient

import (
	"sync"
	"time"
)

const DefaultTTL = 60 * time.Second

type Clock func() time.Time

type Option func(*options)

type options struct {
	ttl   time.Duration
	clock Clock
}

// WithTTL sets the lifetime of the entries.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

type item[V any] struct {
	value      V
	insertedAt time.Time
}

type Store[V any] struct {
	mu    sync.Mutex
	items map[string]item[V]
	ttl   time.Duration
	clock Clock
}

func New[V any](opts ...Option) *Store[V] {
	o := options{
		ttl:   DefaultTTL,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Store[V]{
		items: make(map[string]item[V]),
		ttl:   o.ttl,
		clock: o.clock,
	}
}

func (s *Store[V]) TTL() time.Duration {
	return s.ttl
}

// Put stores value under id, replacing any previous value and restarting
// its lifetime.
func (s *Store[V]) Put(id string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[id] = item[V]{value: value, insertedAt: s.clock()}
}

// Get returns the value stored under id if it has not expired. Expired
// entries are removed.
func (s *Store[V]) Get(id string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.get(id)
}

// Pop returns and removes the value stored under id.
func (s *Store[V]) Pop(id string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.get(id)
	if ok {
		delete(s.items, id)
	}

	return v, ok
}

func (s *Store[V]) get(id string) (V, bool) {
	var zero V

	it, ok := s.items[id]
	if !ok {
		return zero, false
	}
	if s.clock().Sub(it.insertedAt) > s.ttl {
		delete(s.items, id)
		return zero, false
	}

	return it.value, true
}

// Len returns the number of entries, expired ones included.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}
