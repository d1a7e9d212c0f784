package ratelimit

import (
	"time"

	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

// Quota allows MaxBurst cells back to back and replenishes one cell every
// Period/MaxBurst.
type Quota struct {
	MaxBurst uint32        `json:"max_burst"`
	Period   time.Duration `json:"period"`
}

// PerSecond is a quota of n requests per second with a burst of n.
func PerSecond(n uint32) Quota {
	return Quota{MaxBurst: n, Period: time.Second}
}

// PerMinute is a quota of n requests per minute with a burst of n.
func PerMinute(n uint32) Quota {
	return Quota{MaxBurst: n, Period: time.Minute}
}

func (q Quota) Validate() error {
	if q.MaxBurst == 0 || q.Period <= 0 {
		return errors.Wrapf(exception.ErrRateLimitInvalidQuota, "burst %d period %s", q.MaxBurst, q.Period)
	}
	if q.Period/time.Duration(q.MaxBurst) <= 0 {
		return errors.Wrapf(exception.ErrRateLimitInvalidQuota, "period %s too short for burst %d", q.Period, q.MaxBurst)
	}
	return nil
}

// emission is the spacing between two cells at the sustained rate.
func (q Quota) emission() int64 {
	return int64(q.Period) / int64(q.MaxBurst)
}

// tolerance is how far ahead of now the arrival time may run.
func (q Quota) tolerance() int64 {
	return q.emission() * int64(q.MaxBurst-1)
}
