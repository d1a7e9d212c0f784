// Package ratelimit implements a keyed generic cell rate algorithm. Each key
// stores only its theoretical arrival time (TAT), updated lock-free so I/O
// goroutines can check it without going through the bus.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

// Decision is the outcome of one check. A denied decision carries the
// earliest time the key can conform again.
type Decision struct {
	Allowed  bool
	NotUntil int64
	Wait     time.Duration
}

// Limiter is a GCRA limiter over keys of type K. Quotas are fixed per key;
// keys without a registered quota use the default.
type Limiter[K comparable] struct {
	clock    clock.Clock
	fallback Quota
	metrics  *obs.Metrics

	mu     sync.RWMutex
	quotas map[K]Quota
	states sync.Map // K -> *atomic.Int64
}

// Option configures a Limiter.
type Option[K comparable] func(*Limiter[K])

// WithClock replaces the real clock.
func WithClock[K comparable](c clock.Clock) Option[K] {
	return func(l *Limiter[K]) { l.clock = c }
}

// WithMetrics records grants and denials.
func WithMetrics[K comparable](m *obs.Metrics) Option[K] {
	return func(l *Limiter[K]) { l.metrics = m }
}

// WithQuota registers a per-key quota at construction.
func WithQuota[K comparable](key K, q Quota) Option[K] {
	return func(l *Limiter[K]) { l.quotas[key] = q }
}

// New creates a limiter with a default quota.
func New[K comparable](fallback Quota, opts ...Option[K]) (*Limiter[K], error) {
	if err := fallback.Validate(); err != nil {
		return nil, errors.Wrap(err, "default quota")
	}
	l := &Limiter[K]{
		clock:    clock.Real(),
		fallback: fallback,
		quotas:   make(map[K]Quota),
	}
	for _, opt := range opts {
		opt(l)
	}
	for key, q := range l.quotas {
		if err := q.Validate(); err != nil {
			return nil, errors.Wrapf(err, "quota for %v", key)
		}
	}
	return l, nil
}

// SetQuota registers or replaces the quota of key. The stored arrival time
// is kept, so a tighter quota takes effect from the next check.
func (l *Limiter[K]) SetQuota(key K, q Quota) error {
	if err := q.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.quotas[key] = q
	l.mu.Unlock()
	return nil
}

// Quota returns the quota applied to key.
func (l *Limiter[K]) Quota(key K) Quota {
	l.mu.RLock()
	q, ok := l.quotas[key]
	l.mu.RUnlock()
	if !ok {
		return l.fallback
	}
	return q
}

func (l *Limiter[K]) state(key K) *atomic.Int64 {
	if v, ok := l.states.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := l.states.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Check consumes one cell of key if it conforms.
func (l *Limiter[K]) Check(key K) Decision {
	q := l.Quota(key)
	emission, tolerance := q.emission(), q.tolerance()
	tat := l.state(key)
	for {
		now := l.clock.Now()
		cur := tat.Load()
		if allowAt := cur - tolerance; allowAt > now {
			l.metrics.Inc(obs.CounterLimiterDenied)
			return Decision{NotUntil: allowAt, Wait: time.Duration(allowAt - now)}
		}
		next := max(cur, now) + emission
		if tat.CompareAndSwap(cur, next) {
			l.metrics.Inc(obs.CounterLimiterGranted)
			return Decision{Allowed: true}
		}
	}
}

// Wait blocks until key conforms or ctx is done.
func (l *Limiter[K]) Wait(ctx context.Context, key K) error {
	start := l.clock.Now()
	for {
		d := l.Check(key)
		if d.Allowed {
			l.metrics.Since(obs.LatencyLimiterWait, start, l.clock.Now())
			return nil
		}
		if err := clock.Sleep(ctx, l.clock, d.Wait); err != nil {
			return errors.Wrapf(err, "wait for %v", key)
		}
	}
}

// WaitAll waits on every key concurrently and returns once each has been
// granted. Keys are not granted atomically as a group.
func (l *Limiter[K]) WaitAll(ctx context.Context, keys ...K) error {
	switch len(keys) {
	case 0:
		return exception.ErrRateLimitNoKeys
	case 1:
		return l.Wait(ctx, keys[0])
	}
	eg, ctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		eg.Go(func() error {
			return l.Wait(ctx, key)
		})
	}
	return eg.Wait()
}

// Reset forgets the arrival time of key.
func (l *Limiter[K]) Reset(key K) {
	l.states.Delete(key)
	logs.Debugf("ratelimit: reset %v", key)
}
