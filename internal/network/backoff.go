// Package network holds the venue I/O primitives: retry with backoff, a
// rate limited HTTP client and a reconnecting websocket actor.
package network

import (
	"math/rand/v2"
	"time"
)

// Backoff is an exponential delay schedule with proportional jitter.
type Backoff struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Factor float64       `json:"factor"`
	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64 `json:"jitter"`
	// ImmediateFirst makes the first attempt skip the delay. Reconnects
	// use it; requests do not.
	ImmediateFirst bool `json:"immediate_first"`
}

// DefaultBackoff is the reconnect schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:            250 * time.Millisecond,
		Max:            5 * time.Second,
		Factor:         2.0,
		Jitter:         0.2,
		ImmediateFirst: true,
	}
}

func (b Backoff) IsZero() bool {
	return b.Min == 0 && b.Max == 0 && b.Factor == 0 && b.Jitter == 0
}

// Next returns the delay before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if b.ImmediateFirst {
		if attempt == 1 {
			return 0
		}
		attempt--
	}
	lo := b.Min
	if lo <= 0 {
		lo = 100 * time.Millisecond
	}
	hi := b.Max
	if hi < lo {
		hi = lo
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := lo
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > hi {
			wait = hi
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	delta := float64(wait) * min(b.Jitter, 1)
	wait = wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
	return min(wait, hi)
}
