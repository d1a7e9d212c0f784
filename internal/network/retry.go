package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

// RetryConfig bounds the retries of one operation. Total attempts are
// 1 + MaxRetries.
type RetryConfig struct {
	MaxRetries   int           `json:"max_retries"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Factor       float64       `json:"factor"`
	Jitter       float64       `json:"jitter"`
	// OperationTimeout bounds each attempt; zero leaves it to ctx.
	OperationTimeout time.Duration `json:"operation_timeout"`
	ImmediateFirst   bool          `json:"immediate_first"`
	// MaxElapsed stops retrying once the whole operation ran this long.
	MaxElapsed time.Duration `json:"max_elapsed"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       3,
		InitialDelay:     time.Second,
		MaxDelay:         10 * time.Second,
		Factor:           2.0,
		Jitter:           0.1,
		OperationTimeout: 30 * time.Second,
	}
}

func (c RetryConfig) backoff() Backoff {
	return Backoff{
		Min:            c.InitialDelay,
		Max:            c.MaxDelay,
		Factor:         c.Factor,
		Jitter:         c.Jitter,
		ImmediateFirst: c.ImmediateFirst,
	}
}

// Retrier runs operations under a RetryConfig. It holds no per-operation
// state and is safe for concurrent use.
type Retrier struct {
	cfg         RetryConfig
	clock       clock.Clock
	metrics     *obs.Metrics
	shouldRetry func(error) bool
}

type RetryOption func(*Retrier)

func WithRetryClock(c clock.Clock) RetryOption {
	return func(r *Retrier) { r.clock = c }
}

func WithRetryMetrics(m *obs.Metrics) RetryOption {
	return func(r *Retrier) { r.metrics = m }
}

// WithShouldRetry replaces the default classification, which retries only
// errors of the retryable kind.
func WithShouldRetry(fn func(error) bool) RetryOption {
	return func(r *Retrier) { r.shouldRetry = fn }
}

func NewRetrier(cfg RetryConfig, opts ...RetryOption) *Retrier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	r := &Retrier{cfg: cfg, clock: clock.Real(), shouldRetry: exception.IsRetryable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) Config() RetryConfig { return r.cfg }

// Do runs op until it succeeds, fails with an error that should not be
// retried, or runs out of retries or elapsed budget. The wait before a
// retry is the backoff delay or the error's retry-after hint, whichever is
// longer.
func Do[T any](ctx context.Context, r *Retrier, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	backoff := r.cfg.backoff()
	start := r.clock.Now()
	for attempt := 0; ; attempt++ {
		if r.cfg.MaxElapsed > 0 && time.Duration(r.clock.Now()-start) > r.cfg.MaxElapsed {
			logs.Warnf("network: %s exceeded %s after %d attempts", name, r.cfg.MaxElapsed, attempt)
			return zero, exception.NewVenueError(exception.CodeTimeout,
				fmt.Sprintf("%s exceeded retry budget of %s", name, r.cfg.MaxElapsed))
		}

		v, err := runAttempt(ctx, r, name, op)
		if err == nil {
			if attempt > 0 {
				logs.Debugf("network: %s succeeded after %d attempts", name, attempt+1)
			}
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if !r.shouldRetry(err) {
			logs.Debugf("network: %s failed, not retryable, err: %+v", name, err)
			return zero, err
		}
		if attempt >= r.cfg.MaxRetries {
			logs.Warnf("network: %s failed after %d attempts, err: %+v", name, attempt+1, err)
			return zero, err
		}

		wait := backoff.Next(attempt + 1)
		if hint, ok := exception.RetryAfter(err); ok && hint > wait {
			wait = hint
		}
		r.metrics.Inc(obs.CounterOrderRetry)
		logs.Debugf("network: %s failed (attempt %d), retry in %s, err: %+v", name, attempt+1, wait, err)
		if err := clock.Sleep(ctx, r.clock, wait); err != nil {
			return zero, err
		}
	}
}

// runAttempt runs op once under the per-attempt timeout. A timeout of the
// attempt itself is reported as a retryable venue timeout.
func runAttempt[T any](ctx context.Context, r *Retrier, name string, op func(ctx context.Context) (T, error)) (T, error) {
	if r.cfg.OperationTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.OperationTimeout)
	defer cancel()
	v, err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, exception.NewVenueError(exception.CodeTimeout,
			fmt.Sprintf("%s timed out after %s", name, r.cfg.OperationTimeout))
	}
	return v, err
}

// transportError classifies a failed round trip. Timeouts and other
// network failures are both retryable.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return exception.NewVenueError(exception.CodeTimeout, err.Error())
	}
	return exception.NewVenueError(exception.CodeTemporaryNetwork, err.Error())
}
