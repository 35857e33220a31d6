// Package cache provides a refresh-if-stale value holder.
//
// A Stale keeps one value with the time it was fetched. Get returns the
// cached value while it is younger than the TTL and calls the fetch function
// otherwise. Concurrent misses share one fetch, and after a failed fetch the
// next one waits for the retry backoff.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrStale wraps a fetch error when Get falls back to an expired value.
	ErrStale = errors.New("cache: serving stale value")
	// ErrBackingOff wraps the last fetch error while Get waits out the retry
	// backoff instead of fetching.
	ErrBackingOff = errors.New("cache: waiting to retry failed fetch")
)

// DefaultRetryBackoff is how long Get waits after a failed fetch before
// trying again.
const DefaultRetryBackoff = time.Minute

// FetchFunc loads a fresh value.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Option configures a Stale.
type Option func(*options)

type options struct {
	now     func() time.Time
	backoff time.Duration
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithRetryBackoff sets how long Get serves the stale value, or the fetch
// error, after a failed fetch. d <= 0 retries on every Get.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *options) {
		o.backoff = d
	}
}

// Stale is safe for concurrent use.
type Stale[T any] struct {
	fetch   FetchFunc[T]
	ttl     time.Duration
	backoff time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	value     T
	fetchedAt time.Time
	valid     bool
	expired   bool
	failedAt  time.Time
	lastErr   error

	sf singleflight.Group
}

// New returns a Stale that refetches once a value is older than ttl.
// A ttl <= 0 keeps the first successful value until Invalidate.
// Panics if fetch is nil.
func New[T any](ttl time.Duration, fetch FetchFunc[T], opts ...Option) *Stale[T] {
	if fetch == nil {
		panic("cache: FetchFunc must not be nil")
	}
	o := options{now: time.Now, backoff: DefaultRetryBackoff}
	for _, opt := range opts {
		opt(&o)
	}
	return &Stale[T]{fetch: fetch, ttl: ttl, backoff: o.backoff, now: o.now}
}

func (s *Stale[T]) fresh(now time.Time) bool {
	if !s.valid || s.expired {
		return false
	}
	return s.ttl <= 0 || now.Sub(s.fetchedAt) < s.ttl
}

func (s *Stale[T]) backingOff(now time.Time) bool {
	return s.lastErr != nil && s.backoff > 0 && now.Sub(s.failedAt) < s.backoff
}

// cachedOrErr returns what Get answers without fetching after err: the held
// value wrapped in ErrStale, or err itself. Callers hold s.mu.
func (s *Stale[T]) cachedOrErr(err error) (T, error) {
	if s.valid {
		return s.value, fmt.Errorf("%w: %w", ErrStale, err)
	}
	var zero T
	return zero, err
}

// Get returns the cached value or fetches a new one.
//
// When the fetch fails and an older value exists, Get returns that value and
// an error matching ErrStale. With nothing cached it returns the fetch error.
// Until the retry backoff has passed, later calls answer the same way without
// fetching, with the error also matching ErrBackingOff.
func (s *Stale[T]) Get(ctx context.Context) (T, error) {
	s.mu.RLock()
	now := s.now()
	if s.fresh(now) {
		v := s.value
		s.mu.RUnlock()
		return v, nil
	}
	if s.backingOff(now) {
		defer s.mu.RUnlock()
		return s.cachedOrErr(fmt.Errorf("%w: %w", ErrBackingOff, s.lastErr))
	}
	s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	v, err, _ := s.sf.Do("get", func() (any, error) {
		// another caller may have refreshed while we waited on the lock
		s.mu.RLock()
		if s.fresh(s.now()) {
			v := s.value
			s.mu.RUnlock()
			return v, nil
		}
		s.mu.RUnlock()

		fetchCtx, cancel := detachCancel(ctx)
		defer cancel()
		v, err := s.fetch(fetchCtx)
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.failedAt = s.now()
			s.lastErr = err
			return nil, err
		}
		s.value = v
		s.fetchedAt = s.now()
		s.valid = true
		s.expired = false
		s.lastErr = nil
		return v, nil
	})
	if err != nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.cachedOrErr(err)
	}
	t, _ := v.(T)
	return t, nil
}

// Peek returns the cached value and its fetch time without fetching.
// ok is false when nothing has been cached yet.
func (s *Stale[T]) Peek() (value T, fetchedAt time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.fetchedAt, s.valid
}

// Invalidate marks the cached value expired and lifts any retry backoff, so
// the next Get fetches. The value is kept so a failing refetch can still
// serve it as stale.
func (s *Stale[T]) Invalidate() {
	s.mu.Lock()
	s.expired = true
	s.lastErr = nil
	s.mu.Unlock()
}

// detachCancel returns a context that outlives parent's cancellation, so one
// caller giving up does not fail the shared fetch, but keeps its deadline.
func detachCancel(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	if dl, ok := parent.Deadline(); ok {
		return context.WithDeadline(ctx, dl)
	}
	return context.WithCancel(ctx)
}
