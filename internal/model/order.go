package model

import (
	"github.com/yanun0323/errors"

	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

// Order is the engine's view of one order. It only changes through Apply.
type Order struct {
	ClientOrderID ClientOrderID `json:"client_order_id"`
	VenueOrderID  VenueOrderID  `json:"venue_order_id,omitempty"`
	TraderID      TraderID      `json:"trader_id,omitempty"`
	StrategyID    StrategyID    `json:"strategy_id"`
	AccountID     AccountID     `json:"account_id,omitempty"`
	PositionID    PositionID    `json:"position_id,omitempty"`
	InstrumentID  InstrumentID  `json:"instrument_id"`

	Side         enum.OrderSide   `json:"side"`
	Type         enum.OrderType   `json:"type"`
	Quantity     Quantity         `json:"quantity"`
	Price        *Price           `json:"price,omitempty"`
	TriggerPrice *Price           `json:"trigger_price,omitempty"`
	TimeInForce  enum.TimeInForce `json:"time_in_force"`
	ExpireTime   int64            `json:"expire_time,omitempty"`
	PostOnly     bool             `json:"post_only,omitempty"`
	ReduceOnly   bool             `json:"reduce_only,omitempty"`
	External     bool             `json:"external,omitempty"`

	Status         enum.OrderStatus `json:"status"`
	PreviousStatus enum.OrderStatus `json:"previous_status,omitempty"`
	FilledQty      Quantity         `json:"filled_qty"`
	AvgPx          float64          `json:"avg_px"`
	TradeIDs       []TradeID        `json:"trade_ids,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	EventCount     int              `json:"event_count"`

	TsInit      int64 `json:"ts_init"`
	TsSubmitted int64 `json:"ts_submitted,omitempty"`
	TsAccepted  int64 `json:"ts_accepted,omitempty"`
	TsLast      int64 `json:"ts_last"`
}

// NewOrder builds an order from its Initialized event.
func NewOrder(ev OrderEvent) (*Order, error) {
	if ev.Kind != OrderEventInitialized || ev.Init == nil {
		return nil, errors.Wrapf(exception.ErrOrderInvalidTransition, "new order from %s", ev.Kind)
	}
	if ev.ClientOrderID == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "empty client order id")
	}
	init := ev.Init
	if !init.Side.IsAvailable() || !init.Type.IsAvailable() || init.Quantity.IsZero() {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "order %s definition", ev.ClientOrderID)
	}
	return &Order{
		ClientOrderID: ev.ClientOrderID,
		VenueOrderID:  ev.VenueOrderID,
		TraderID:      ev.TraderID,
		StrategyID:    ev.StrategyID,
		AccountID:     ev.AccountID,
		InstrumentID:  ev.InstrumentID,
		Side:          init.Side,
		Type:          init.Type,
		Quantity:      init.Quantity,
		Price:         init.Price,
		TriggerPrice:  init.TriggerPrice,
		TimeInForce:   init.TimeInForce,
		ExpireTime:    init.ExpireTime,
		PostOnly:      init.PostOnly,
		ReduceOnly:    init.ReduceOnly,
		External:      init.External,
		Status:        enum.OrderStatusInitialized,
		FilledQty:     Quantity{Precision: init.Quantity.Precision},
		EventCount:    1,
		TsInit:        ev.TsInit,
		TsLast:        ev.TsEvent,
	}, nil
}

// LeavesQty is the quantity still working.
func (o *Order) LeavesQty() Quantity {
	return o.Quantity.Sub(o.FilledQty)
}

func (o *Order) IsOpen() bool   { return o.Status.IsOpen() }
func (o *Order) IsClosed() bool { return o.Status.IsClosed() }

// Clone returns a deep copy safe to hand to readers.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	if o.TriggerPrice != nil {
		p := *o.TriggerPrice
		c.TriggerPrice = &p
	}
	c.TradeIDs = append([]TradeID(nil), o.TradeIDs...)
	return &c
}

// HasTrade reports whether the trade was already applied.
func (o *Order) HasTrade(id TradeID) bool {
	for _, t := range o.TradeIDs {
		if t == id {
			return true
		}
	}
	return false
}

// targetStatus resolves the status an event moves the order to.
func (o *Order) targetStatus(ev OrderEvent) (enum.OrderStatus, error) {
	switch ev.Kind {
	case OrderEventDenied:
		return enum.OrderStatusDenied, nil
	case OrderEventEmulated:
		return enum.OrderStatusEmulated, nil
	case OrderEventReleased:
		return enum.OrderStatusReleased, nil
	case OrderEventSubmitted:
		return enum.OrderStatusSubmitted, nil
	case OrderEventAccepted:
		return enum.OrderStatusAccepted, nil
	case OrderEventRejected:
		return enum.OrderStatusRejected, nil
	case OrderEventCanceled:
		return enum.OrderStatusCanceled, nil
	case OrderEventExpired:
		return enum.OrderStatusExpired, nil
	case OrderEventTriggered:
		return enum.OrderStatusTriggered, nil
	case OrderEventPendingUpdate:
		return enum.OrderStatusPendingUpdate, nil
	case OrderEventPendingCancel:
		return enum.OrderStatusPendingCancel, nil
	case OrderEventModifyRejected, OrderEventCancelRejected, OrderEventUpdated:
		if o.Status == enum.OrderStatusPendingUpdate || o.Status == enum.OrderStatusPendingCancel {
			if o.PreviousStatus.IsAvailable() {
				return o.PreviousStatus, nil
			}
			return enum.OrderStatusAccepted, nil
		}
		return o.Status, nil
	case OrderEventFilled:
		if ev.LastQty.IsZero() {
			return 0, errors.Wrapf(exception.ErrOrderInvalidFill, "order %s zero fill", o.ClientOrderID)
		}
		if o.FilledQty.Add(ev.LastQty).Raw >= o.Quantity.Raw {
			return enum.OrderStatusFilled, nil
		}
		return enum.OrderStatusPartiallyFilled, nil
	default:
		return 0, errors.Wrapf(exception.ErrOrderInvalidTransition, "order %s unexpected %s", o.ClientOrderID, ev.Kind)
	}
}

// Apply validates and applies one event.
func (o *Order) Apply(ev OrderEvent) error {
	if ev.ClientOrderID != o.ClientOrderID {
		return errors.Wrapf(exception.ErrOrderUnknown, "event for %s applied to %s", ev.ClientOrderID, o.ClientOrderID)
	}
	to, err := o.targetStatus(ev)
	if err != nil {
		return err
	}
	if to != o.Status && !CanTransition(o.Status, to) {
		return errors.Wrapf(exception.ErrOrderInvalidTransition, "order %s %s -> %s by %s", o.ClientOrderID, o.Status, to, ev.Kind)
	}
	if to == o.Status && o.Status.IsClosed() {
		return errors.Wrapf(exception.ErrOrderInvalidTransition, "order %s closed as %s", o.ClientOrderID, o.Status)
	}
	if ev.VenueOrderID != "" {
		if o.VenueOrderID != "" && o.VenueOrderID != ev.VenueOrderID {
			return errors.Wrapf(exception.ErrOrderVenueIDChanged, "order %s %s -> %s", o.ClientOrderID, o.VenueOrderID, ev.VenueOrderID)
		}
		o.VenueOrderID = ev.VenueOrderID
	}

	switch ev.Kind {
	case OrderEventSubmitted:
		o.TsSubmitted = ev.TsEvent
		if ev.AccountID != "" {
			o.AccountID = ev.AccountID
		}
	case OrderEventAccepted:
		o.TsAccepted = ev.TsEvent
	case OrderEventRejected, OrderEventDenied, OrderEventCanceled, OrderEventExpired:
		o.Reason = ev.Reason
	case OrderEventPendingUpdate, OrderEventPendingCancel:
		if o.Status != enum.OrderStatusPendingUpdate && o.Status != enum.OrderStatusPendingCancel {
			o.PreviousStatus = o.Status
		}
	case OrderEventUpdated:
		if ev.Quantity != nil {
			o.Quantity = *ev.Quantity
		}
		if ev.Price != nil {
			p := *ev.Price
			o.Price = &p
		}
		if ev.TriggerPrice != nil {
			p := *ev.TriggerPrice
			o.TriggerPrice = &p
		}
		if o.FilledQty.Raw >= o.Quantity.Raw && o.FilledQty.IsPositive() {
			to = enum.OrderStatusFilled
		}
	case OrderEventFilled:
		if ev.TradeID != "" && o.HasTrade(ev.TradeID) {
			return errors.Wrapf(exception.ErrReconcileDuplicate, "order %s trade %s", o.ClientOrderID, ev.TradeID)
		}
		o.applyFill(ev)
	}

	o.Status = to
	o.EventCount++
	if ev.TsEvent > o.TsLast {
		o.TsLast = ev.TsEvent
	}
	return nil
}

func (o *Order) applyFill(ev OrderEvent) {
	prevQty := o.FilledQty.AsFloat64()
	lastQty := ev.LastQty.AsFloat64()
	total := prevQty + lastQty
	if total > 0 {
		o.AvgPx = (o.AvgPx*prevQty + ev.LastPx.AsFloat64()*lastQty) / total
	}
	o.FilledQty = o.FilledQty.Add(ev.LastQty)
	if ev.TradeID != "" {
		o.TradeIDs = append(o.TradeIDs, ev.TradeID)
	}
	if ev.PositionID != "" {
		o.PositionID = ev.PositionID
	}
}
