package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const start = int64(1_700_000_000_000_000_000)

func newTestLimiter(t *testing.T, q Quota, opts ...Option[string]) (*Limiter[string], *clock.TestClock) {
	t.Helper()
	clk := clock.NewTestClock(start)
	l, err := New(q, append([]Option[string]{WithClock[string](clk)}, opts...)...)
	require.NoError(t, err)
	return l, clk
}

func TestQuotaValidate(t *testing.T) {
	testCases := []struct {
		desc  string
		quota Quota
		ok    bool
	}{
		{desc: "per second", quota: PerSecond(10), ok: true},
		{desc: "per minute", quota: PerMinute(1200), ok: true},
		{desc: "zero burst", quota: Quota{Period: time.Second}},
		{desc: "zero period", quota: Quota{MaxBurst: 1}},
		{desc: "period shorter than burst", quota: Quota{MaxBurst: 10, Period: 5}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.quota.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, exception.ErrRateLimitInvalidQuota)
		})
	}
}

func TestBurstThenReplenish(t *testing.T) {
	l, clk := newTestLimiter(t, PerSecond(1), WithQuota("K", Quota{MaxBurst: 2, Period: time.Second}))

	assert.True(t, l.Check("K").Allowed)
	assert.True(t, l.Check("K").Allowed)

	d := l.Check("K")
	require.False(t, d.Allowed)
	assert.Equal(t, 500*time.Millisecond, d.Wait)
	assert.Equal(t, start+int64(500*time.Millisecond), d.NotUntil)

	clk.Advance(500 * time.Millisecond)
	assert.True(t, l.Check("K").Allowed)
	assert.False(t, l.Check("K").Allowed)
}

func TestDefaultQuotaPerKey(t *testing.T) {
	l, _ := newTestLimiter(t, PerSecond(1))

	assert.True(t, l.Check("a").Allowed)
	assert.False(t, l.Check("a").Allowed)
	assert.True(t, l.Check("b").Allowed)
	assert.Equal(t, PerSecond(1), l.Quota("zzz"))

	l.Reset("a")
	assert.True(t, l.Check("a").Allowed)
}

func TestSetQuota(t *testing.T) {
	l, _ := newTestLimiter(t, PerSecond(1))
	require.Error(t, l.SetQuota("a", Quota{}))
	require.NoError(t, l.SetQuota("a", PerSecond(3)))
	for range 3 {
		require.True(t, l.Check("a").Allowed)
	}
	assert.False(t, l.Check("a").Allowed)
}

func TestWindowBound(t *testing.T) {
	q := Quota{MaxBurst: 5, Period: time.Second}
	l, clk := newTestLimiter(t, q)

	burst := 0
	for l.Check("k").Allowed {
		burst++
	}
	require.Equal(t, int(q.MaxBurst), burst)

	window := 3 * time.Second
	step := 7 * time.Millisecond
	allowed := 0
	for elapsed := time.Duration(0); elapsed < window; elapsed += step {
		clk.Advance(step)
		for l.Check("k").Allowed {
			allowed++
		}
	}
	bound := int(int64(q.MaxBurst)*int64(window)/int64(q.Period)) + 1
	assert.LessOrEqual(t, allowed, bound)
	assert.GreaterOrEqual(t, allowed, bound-2)
}

func TestConcurrentCheck(t *testing.T) {
	l, _ := newTestLimiter(t, Quota{MaxBurst: 50, Period: time.Hour})

	var granted atomic.Int64
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if l.Check("k").Allowed {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), granted.Load())
}

func TestWait(t *testing.T) {
	m := obs.NewMetrics()
	l, clk := newTestLimiter(t, Quota{MaxBurst: 1, Period: time.Second}, WithMetrics[string](m))
	require.True(t, l.Check("k").Allowed)

	done := make(chan error, 1)
	go func() { done <- l.Wait(context.Background(), "k") }()

	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("wait returned before the clock advanced")
	default:
	}
	clk.Advance(time.Second)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(2), m.Count(obs.CounterLimiterGranted))
	assert.Equal(t, uint64(1), m.Count(obs.CounterLimiterDenied))
}

func TestWaitCancelled(t *testing.T) {
	l, _ := newTestLimiter(t, Quota{MaxBurst: 1, Period: time.Hour})
	require.True(t, l.Check("k").Allowed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Wait(ctx, "k"), context.Canceled)
}

func TestWaitAll(t *testing.T) {
	l, clk := newTestLimiter(t, Quota{MaxBurst: 1, Period: time.Second},
		WithQuota("slow", Quota{MaxBurst: 1, Period: 2 * time.Second}))
	require.ErrorIs(t, l.WaitAll(context.Background()), exception.ErrRateLimitNoKeys)

	require.True(t, l.Check("fast").Allowed)
	require.True(t, l.Check("slow").Allowed)

	done := make(chan error, 1)
	go func() { done <- l.WaitAll(context.Background(), "fast", "slow") }()

	require.Eventually(t, func() bool { return clk.Pending() == 2 }, time.Second, time.Millisecond)
	clk.Advance(time.Second)
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("wait all returned before every key conformed")
	default:
	}
	clk.Advance(time.Second)
	require.NoError(t, <-done)
}

func BenchmarkCheck(b *testing.B) {
	l, err := New[string](Quota{MaxBurst: 1 << 30, Period: time.Second})
	if err != nil {
		b.Fatal(err)
	}
	for b.Loop() {
		l.Check("bench")
	}
}
