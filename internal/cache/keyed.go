package cache

import (
	"context"
	"sync"
	"time"
)

// KeyedFetchFunc loads a fresh value for key.
type KeyedFetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// sweepEvery is the key count at which Keyed first drops expired entries.
// After a sweep the threshold is twice the surviving count, or sweepEvery.
const sweepEvery = 256

// Keyed holds one Stale per key, created on first use. Entries that have
// expired are dropped as the key set grows, so keys that stop being asked
// for do not accumulate.
type Keyed[K comparable, V any] struct {
	ttl   time.Duration
	fetch KeyedFetchFunc[K, V]
	opts  []Option
	now   func() time.Time

	mu      sync.Mutex
	entries map[K]*Stale[V]
	sweepAt int
}

// NewKeyed returns a Keyed cache. Panics if fetch is nil.
func NewKeyed[K comparable, V any](ttl time.Duration, fetch KeyedFetchFunc[K, V], opts ...Option) *Keyed[K, V] {
	if fetch == nil {
		panic("cache: KeyedFetchFunc must not be nil")
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Keyed[K, V]{
		ttl:     ttl,
		fetch:   fetch,
		opts:    opts,
		now:     o.now,
		entries: make(map[K]*Stale[V]),
		sweepAt: sweepEvery,
	}
}

func (k *Keyed[K, V]) entry(key K) *Stale[V] {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.entries[key]
	if !ok {
		if len(k.entries) >= k.sweepAt {
			k.sweepLocked()
		}
		s = New(k.ttl, func(ctx context.Context) (V, error) {
			return k.fetch(ctx, key)
		}, k.opts...)
		k.entries[key] = s
	}
	return s
}

// sweepLocked drops entries that hold no fresh value. Callers hold k.mu.
func (k *Keyed[K, V]) sweepLocked() {
	now := k.now()
	for key, s := range k.entries {
		s.mu.RLock()
		live := s.fresh(now)
		s.mu.RUnlock()
		if !live {
			delete(k.entries, key)
		}
	}
	k.sweepAt = 2 * len(k.entries)
	if k.sweepAt < sweepEvery {
		k.sweepAt = sweepEvery
	}
}

// Get behaves like Stale.Get for key.
func (k *Keyed[K, V]) Get(ctx context.Context, key K) (V, error) {
	return k.entry(key).Get(ctx)
}

// Invalidate expires the value for key, if any.
func (k *Keyed[K, V]) Invalidate(key K) {
	k.mu.Lock()
	s, ok := k.entries[key]
	k.mu.Unlock()
	if ok {
		s.Invalidate()
	}
}

// Forget drops key entirely, including any stale value.
func (k *Keyed[K, V]) Forget(key K) {
	k.mu.Lock()
	delete(k.entries, key)
	k.mu.Unlock()
}

// Len returns the number of keys held.
func (k *Keyed[K, V]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
