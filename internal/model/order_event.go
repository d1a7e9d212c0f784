package model

import "tradecore/internal/model/enum"

// OrderEventKind tags OrderEvent.
type OrderEventKind uint8

const (
	_order_event_beg OrderEventKind = iota
	OrderEventInitialized
	OrderEventDenied
	OrderEventEmulated
	OrderEventReleased
	OrderEventSubmitted
	OrderEventAccepted
	OrderEventRejected
	OrderEventCanceled
	OrderEventExpired
	OrderEventTriggered
	OrderEventPendingUpdate
	OrderEventPendingCancel
	OrderEventModifyRejected
	OrderEventCancelRejected
	OrderEventUpdated
	OrderEventFilled
	_order_event_end
)

func (k OrderEventKind) IsAvailable() bool {
	return k > _order_event_beg && k < _order_event_end
}

var orderEventNames = [...]string{
	OrderEventInitialized:    "OrderInitialized",
	OrderEventDenied:         "OrderDenied",
	OrderEventEmulated:       "OrderEmulated",
	OrderEventReleased:       "OrderReleased",
	OrderEventSubmitted:      "OrderSubmitted",
	OrderEventAccepted:       "OrderAccepted",
	OrderEventRejected:       "OrderRejected",
	OrderEventCanceled:       "OrderCanceled",
	OrderEventExpired:        "OrderExpired",
	OrderEventTriggered:      "OrderTriggered",
	OrderEventPendingUpdate:  "OrderPendingUpdate",
	OrderEventPendingCancel:  "OrderPendingCancel",
	OrderEventModifyRejected: "OrderModifyRejected",
	OrderEventCancelRejected: "OrderCancelRejected",
	OrderEventUpdated:        "OrderUpdated",
	OrderEventFilled:         "OrderFilled",
}

func (k OrderEventKind) String() string {
	if !k.IsAvailable() {
		return "OrderEventUnknown"
	}
	return orderEventNames[k]
}

// Reasons attached to engine-generated events.
const (
	ReasonReconciliationTimeout = "ReconciliationTimeout"
	ReasonMissingAtVenue        = "MissingAtVenue"
	ReasonReconciliation        = "Reconciliation"
)

// OrderEvent is one lifecycle change. Only the fields relevant to Kind are
// populated.
type OrderEvent struct {
	Kind          OrderEventKind `json:"kind"`
	ClientOrderID ClientOrderID  `json:"client_order_id"`
	VenueOrderID  VenueOrderID   `json:"venue_order_id,omitempty"`
	InstrumentID  InstrumentID   `json:"instrument_id"`
	StrategyID    StrategyID     `json:"strategy_id"`
	TraderID      TraderID       `json:"trader_id,omitempty"`
	AccountID     AccountID      `json:"account_id,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	// Reconciliation marks events generated to converge with the venue.
	Reconciliation bool `json:"reconciliation,omitempty"`

	// Initialized carries the full order definition.
	Init *OrderInit `json:"init,omitempty"`

	// Updated.
	Quantity     *Quantity `json:"quantity,omitempty"`
	Price        *Price    `json:"price,omitempty"`
	TriggerPrice *Price    `json:"trigger_price,omitempty"`

	// Filled.
	TradeID       TradeID            `json:"trade_id,omitempty"`
	PositionID    PositionID         `json:"position_id,omitempty"`
	OrderSide     enum.OrderSide     `json:"order_side,omitempty"`
	LastQty       Quantity           `json:"last_qty"`
	LastPx        Price              `json:"last_px"`
	Commission    Money              `json:"commission"`
	LiquiditySide enum.LiquiditySide `json:"liquidity_side,omitempty"`

	EventID ReportID `json:"event_id"`
	TsEvent int64    `json:"ts_event"`
	TsInit  int64    `json:"ts_init"`
}

// OrderInit is the immutable definition of an order.
type OrderInit struct {
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
	Tags         []string         `json:"tags,omitempty"`
}
