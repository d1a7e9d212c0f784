// Package risk runs pre-trade checks on orders before they leave for a
// venue.
package risk

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/cache"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

var bps = decimal.NewFromInt(10_000)

// Config holds static limits. Zero values disable a check.
type Config struct {
	KillSwitch           bool            `json:"kill_switch"`
	MaxOrderQty          decimal.Decimal `json:"max_order_qty"`
	MaxOrderNotional     decimal.Decimal `json:"max_order_notional"`
	MaxPosition          decimal.Decimal `json:"max_position"`
	OrderRateLimit       int             `json:"order_rate_limit"`
	OrderRateWindow      time.Duration   `json:"order_rate_window"`
	MaxPriceDeviationBps int64           `json:"max_price_deviation_bps"`
}

// ReferenceFunc returns the current fair price of an instrument.
type ReferenceFunc func(id model.InstrumentID) (decimal.Decimal, bool)

// Engine evaluates orders against the limits. Check runs on the bus runner
// goroutine; the kill switch may be flipped from anywhere.
type Engine struct {
	cfg       Config
	cache     *cache.Cache
	clock     clock.Clock
	metrics   *obs.Metrics
	reference ReferenceFunc

	halted          atomic.Bool
	rateWindowStart int64
	rateCount       int
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithReference supplies reference prices for the price band and for the
// notional of orders without a price.
func WithReference(fn ReferenceFunc) Option {
	return func(e *Engine) { e.reference = fn }
}

func NewEngine(cfg Config, c *cache.Cache, opts ...Option) (*Engine, error) {
	if c == nil {
		return nil, exception.ErrRiskNilCache
	}
	e := &Engine{cfg: cfg, cache: c, clock: clock.Real()}
	for _, opt := range opts {
		opt(e)
	}
	e.halted.Store(cfg.KillSwitch)
	return e, nil
}

// SetKillSwitch halts or resumes all new orders.
func (e *Engine) SetKillSwitch(on bool) {
	if e.halted.Swap(on) != on {
		logs.Warnf("risk: kill switch %v", on)
	}
}

func (e *Engine) Halted() bool { return e.halted.Load() }

// Check returns nil when o may be sent, else the reason it is denied.
func (e *Engine) Check(o *model.Order) error {
	start := e.clock.Now()
	err := e.check(o, start)
	e.metrics.Since(obs.LatencyRiskEval, start, e.clock.Now())
	if err != nil {
		e.metrics.Inc(obs.CounterRiskDenied)
		logs.Warnf("risk: deny %s %s %s %s, err: %+v", o.ClientOrderID, o.InstrumentID, o.Side, o.Quantity, err)
	}
	return err
}

func (e *Engine) check(o *model.Order, now int64) error {
	if e.halted.Load() {
		return exception.ErrRiskKillSwitch
	}

	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		window := int64(e.cfg.OrderRateWindow)
		if e.rateWindowStart == 0 || now-e.rateWindowStart >= window {
			e.rateWindowStart = now
			e.rateCount = 0
		}
		e.rateCount++
		if e.rateCount > e.cfg.OrderRateLimit {
			return errors.Wrapf(exception.ErrRiskRateLimit, "%d per %s", e.cfg.OrderRateLimit, e.cfg.OrderRateWindow)
		}
	}

	inst, ok := e.cache.Instrument(o.InstrumentID)
	if !ok {
		return errors.Wrapf(exception.ErrRiskUnknownInst, "%s", o.InstrumentID)
	}

	qty := o.Quantity.AsDecimal()
	if e.cfg.MaxOrderQty.IsPositive() && qty.GreaterThan(e.cfg.MaxOrderQty) {
		return errors.Wrapf(exception.ErrRiskMaxQty, "%s > %s", qty, e.cfg.MaxOrderQty)
	}

	ref, hasRef := e.referenceOf(o.InstrumentID)
	if e.cfg.MaxPriceDeviationBps > 0 && o.Price != nil && hasRef && ref.IsPositive() {
		diff := o.Price.AsDecimal().Sub(ref).Abs()
		if diff.Mul(bps).GreaterThan(ref.Mul(decimal.NewFromInt(e.cfg.MaxPriceDeviationBps))) {
			return errors.Wrapf(exception.ErrRiskPriceBand, "%s vs reference %s", o.Price, ref)
		}
	}

	if e.cfg.MaxOrderNotional.IsPositive() {
		if notional, ok := e.notional(inst, o, ref, hasRef); ok && notional.GreaterThan(e.cfg.MaxOrderNotional) {
			return errors.Wrapf(exception.ErrRiskMaxNotional, "%s > %s", notional, e.cfg.MaxOrderNotional)
		}
	}

	current := decimal.Zero
	if p, ok := e.cache.Position(model.PositionIDFor(o.InstrumentID, o.StrategyID)); ok && p != nil {
		current = p.SignedQty
	}
	signed := qty
	if o.Side == enum.OrderSideSell {
		signed = qty.Neg()
	}
	next := current.Add(signed)

	if o.ReduceOnly {
		if current.IsZero() || current.Sign() == signed.Sign() || qty.GreaterThan(current.Abs()) {
			return errors.Wrapf(exception.ErrRiskReduceOnly, "position %s, order %s", current, signed)
		}
	}
	if e.cfg.MaxPosition.IsPositive() && next.Abs().GreaterThan(e.cfg.MaxPosition) {
		return errors.Wrapf(exception.ErrRiskPositionLimit, "%s > %s", next.Abs(), e.cfg.MaxPosition)
	}
	return nil
}

func (e *Engine) referenceOf(id model.InstrumentID) (decimal.Decimal, bool) {
	if e.reference == nil {
		return decimal.Decimal{}, false
	}
	return e.reference(id)
}

// notional prices the order at its limit, else at the reference.
func (e *Engine) notional(inst model.Instrument, o *model.Order, ref decimal.Decimal, hasRef bool) (decimal.Decimal, bool) {
	var px model.Price
	switch {
	case o.Price != nil:
		px = *o.Price
	case o.TriggerPrice != nil:
		px = *o.TriggerPrice
	case hasRef:
		p, err := model.PriceFromString(ref.StringFixed(int32(inst.PricePrecision)))
		if err != nil {
			return decimal.Decimal{}, false
		}
		px = p
	default:
		return decimal.Decimal{}, false
	}
	m, err := inst.Notional(o.Quantity, px)
	if err != nil {
		logs.Warnf("risk: notional of %s, err: %+v", o.ClientOrderID, err)
		return decimal.Decimal{}, false
	}
	return m.AsDecimal(), true
}
