// Package execution applies order events to the cache and reconciles local
// order state with venue reports.
package execution

import (
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/cache"
	"tradecore/internal/model"
	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

// OrderTopic is where order events of a strategy are published.
func OrderTopic(strategy model.StrategyID) string {
	return "events.order." + string(strategy)
}

// PositionTopic is where position changes of a strategy are published.
func PositionTopic(strategy model.StrategyID) string {
	return "events.position." + string(strategy)
}

// Result is the outcome of one applied event. Position is set when a fill
// moved a position.
type Result struct {
	Event    model.OrderEvent
	Order    *model.Order
	Position *model.Position
}

// Engine is the only writer of orders and positions in the cache. It is
// driven from the bus runner goroutine.
type Engine struct {
	cache   *cache.Cache
	clock   clock.Clock
	metrics *obs.Metrics
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(c *cache.Cache, opts ...Option) (*Engine, error) {
	if c == nil {
		return nil, exception.ErrReconcileNilCache
	}
	e := &Engine{cache: c, clock: clock.Real()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Cache() *cache.Cache { return e.cache }

// Process validates ev against the cached order and commits the result.
func (e *Engine) Process(ev model.OrderEvent) (Result, error) {
	if ev.EventID == "" {
		ev.EventID = model.NewReportID()
	}
	if ev.TsInit == 0 {
		ev.TsInit = e.clock.Now()
	}
	if ev.TsEvent == 0 {
		ev.TsEvent = ev.TsInit
	}

	if ev.Kind == model.OrderEventInitialized {
		return e.initialize(ev)
	}

	order, ok := e.cache.Order(ev.ClientOrderID)
	if !ok {
		return Result{}, errors.Wrapf(exception.ErrOrderUnknown, "%s for %s", ev.Kind, ev.ClientOrderID)
	}
	if ev.InstrumentID.IsZero() {
		ev.InstrumentID = order.InstrumentID
	}
	if ev.StrategyID == "" {
		ev.StrategyID = order.StrategyID
	}

	var pos *model.Position
	if ev.Kind == model.OrderEventFilled {
		if !ev.OrderSide.IsAvailable() {
			ev.OrderSide = order.Side
		}
		if ev.PositionID == "" {
			ev.PositionID = e.positionID(order)
		}
		pos = e.position(ev, order)
	}

	if err := order.Apply(ev); err != nil {
		return Result{}, err
	}
	if err := e.cache.UpdateOrder(order); err != nil {
		return Result{}, err
	}
	if pos != nil {
		pos.ApplyFill(ev)
		if err := e.cache.AddPosition(pos); err != nil {
			return Result{}, err
		}
	}
	return Result{Event: ev, Order: order, Position: pos}, nil
}

func (e *Engine) initialize(ev model.OrderEvent) (Result, error) {
	if e.cache.OrderExists(ev.ClientOrderID) {
		return Result{}, errors.Wrapf(exception.ErrOrderDuplicate, "%s", ev.ClientOrderID)
	}
	order, err := model.NewOrder(ev)
	if err != nil {
		return Result{}, err
	}
	if err := e.cache.AddOrder(order, "", "", false); err != nil {
		return Result{}, err
	}
	logs.Debugf("execution: initialized %s %s %s", order.ClientOrderID, order.InstrumentID, order.Side)
	return Result{Event: ev, Order: order}, nil
}

func (e *Engine) positionID(order *model.Order) model.PositionID {
	if order.PositionID != "" {
		return order.PositionID
	}
	if id, ok := e.cache.PositionIDFor(order.ClientOrderID); ok {
		return id
	}
	return model.PositionIDFor(order.InstrumentID, order.StrategyID)
}

func (e *Engine) position(ev model.OrderEvent, order *model.Order) *model.Position {
	if pos, ok := e.cache.Position(ev.PositionID); ok {
		return pos
	}
	return &model.Position{
		ID:            ev.PositionID,
		InstrumentID:  order.InstrumentID,
		AccountID:     order.AccountID,
		StrategyID:    order.StrategyID,
		SizePrecision: order.Quantity.Precision,
	}
}
