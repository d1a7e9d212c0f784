package obs

import (
	"sync/atomic"
	"time"
)

// Counter names one monotonically increasing metric.
type Counter uint8

const (
	_counter_beg Counter = iota
	CounterBusSend
	CounterBusPublish
	CounterBusCompleted
	CounterBusCancelled
	CounterBusFailed
	CounterInboxDrop
	CounterDecodeOK
	CounterDecodeMalformed
	CounterDecodeUnknownSymbol
	CounterDecodeUnsupported
	CounterDecodeOutOfRange
	CounterLimiterGranted
	CounterLimiterDenied
	CounterBookBatch
	CounterBookResync
	CounterBookStaleDrop
	CounterReconcileEvent
	CounterReconcileDuplicateFill
	CounterOrderRetry
	CounterRiskDenied
	CounterCacheWriteDrop
	CounterStreamDrop
	_counter_end
)

var counterNames = [...]string{
	CounterBusSend:                "bus_send",
	CounterBusPublish:             "bus_publish",
	CounterBusCompleted:           "bus_completed",
	CounterBusCancelled:           "bus_cancelled",
	CounterBusFailed:              "bus_failed",
	CounterInboxDrop:              "inbox_drop",
	CounterDecodeOK:               "decode_ok",
	CounterDecodeMalformed:        "decode_malformed",
	CounterDecodeUnknownSymbol:    "decode_unknown_symbol",
	CounterDecodeUnsupported:      "decode_unsupported",
	CounterDecodeOutOfRange:       "decode_out_of_range",
	CounterLimiterGranted:         "limiter_granted",
	CounterLimiterDenied:          "limiter_denied",
	CounterBookBatch:              "book_batch",
	CounterBookResync:             "book_resync",
	CounterBookStaleDrop:          "book_stale_drop",
	CounterReconcileEvent:         "reconcile_event",
	CounterReconcileDuplicateFill: "reconcile_duplicate_fill",
	CounterOrderRetry:             "order_retry",
	CounterRiskDenied:             "risk_denied",
	CounterCacheWriteDrop:         "cache_write_drop",
	CounterStreamDrop:             "stream_drop",
}

func (c Counter) IsAvailable() bool {
	return c > _counter_beg && c < _counter_end
}

func (c Counter) String() string {
	if !c.IsAvailable() {
		return "unknown"
	}
	return counterNames[c]
}

// Latency names one duration distribution.
type Latency uint8

const (
	_latency_beg Latency = iota
	LatencyDecode
	LatencyBookApply
	LatencyBusTask
	LatencyOrderFlow
	LatencyRiskEval
	LatencyLimiterWait
	LatencyReconcile
	_latency_end
)

var latencyNames = [...]string{
	LatencyDecode:      "decode",
	LatencyBookApply:   "book_apply",
	LatencyBusTask:     "bus_task",
	LatencyOrderFlow:   "order_flow",
	LatencyRiskEval:    "risk_eval",
	LatencyLimiterWait: "limiter_wait",
	LatencyReconcile:   "reconcile",
}

func (l Latency) IsAvailable() bool {
	return l > _latency_beg && l < _latency_end
}

func (l Latency) String() string {
	if !l.IsAvailable() {
		return "unknown"
	}
	return latencyNames[l]
}

// Metrics collects lightweight counters and latency stats. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	counters  [_counter_end]uint64
	latencies [_latency_end]LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values keyed by metric name.
type Snapshot struct {
	Counters  map[string]uint64          `json:"counters"`
	Latencies map[string]LatencySnapshot `json:"latencies"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Inc(c Counter) {
	m.Add(c, 1)
}

func (m *Metrics) Add(c Counter, n uint64) {
	if m == nil || !c.IsAvailable() {
		return
	}
	atomic.AddUint64(&m.counters[c], n)
}

// Count returns the current value of c.
func (m *Metrics) Count(c Counter) uint64 {
	if m == nil || !c.IsAvailable() {
		return 0
	}
	return atomic.LoadUint64(&m.counters[c])
}

// Observe records one latency sample.
func (m *Metrics) Observe(l Latency, d time.Duration) {
	if m == nil || !l.IsAvailable() {
		return
	}
	m.latencies[l].Observe(d)
}

// Since records the time elapsed from start (nanoseconds) to now.
func (m *Metrics) Since(l Latency, start, now int64) {
	if start <= 0 || now < start {
		return
	}
	m.Observe(l, time.Duration(now-start))
}

// Latency returns the aggregated stats of l.
func (m *Metrics) Latency(l Latency) LatencySnapshot {
	if m == nil || !l.IsAvailable() {
		return LatencySnapshot{}
	}
	return m.latencies[l].Snapshot()
}

// Snapshot returns a copy of the non-zero metrics.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Counters:  make(map[string]uint64),
		Latencies: make(map[string]LatencySnapshot),
	}
	if m == nil {
		return s
	}
	for c := _counter_beg + 1; c < _counter_end; c++ {
		if v := atomic.LoadUint64(&m.counters[c]); v > 0 {
			s.Counters[c.String()] = v
		}
	}
	for l := _latency_beg + 1; l < _latency_end; l++ {
		if v := m.latencies[l].Snapshot(); v.Count > 0 {
			s.Latencies[l.String()] = v
		}
	}
	return s
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(atomic.LoadUint64(&l.sum) / count),
	}
}
