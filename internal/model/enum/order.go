package enum

// OrderType market, limit, stop and if-touched variants
type OrderType uint8

const (
	_order_type_beg OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStopMarket
	OrderTypeStopLimit
	OrderTypeMarketIfTouched
	OrderTypeLimitIfTouched
	_order_type_end
)

func (t OrderType) IsAvailable() bool {
	return t > _order_type_beg && t < _order_type_end
}

// HasPrice reports whether the type rests at a limit price.
func (t OrderType) HasPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit || t == OrderTypeLimitIfTouched
}

// HasTrigger reports whether the type waits on a trigger price.
func (t OrderType) HasTrigger() bool {
	return t == OrderTypeStopMarket || t == OrderTypeStopLimit || t == OrderTypeMarketIfTouched || t == OrderTypeLimitIfTouched
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStopMarket:
		return "STOP_MARKET"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	case OrderTypeMarketIfTouched:
		return "MARKET_IF_TOUCHED"
	case OrderTypeLimitIfTouched:
		return "LIMIT_IF_TOUCHED"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce GTC, IOC, FOK, GTD, DAY
type TimeInForce uint8

const (
	_time_in_force_beg TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceGTD
	TimeInForceDay
	_time_in_force_end
)

func (t TimeInForce) IsAvailable() bool {
	return t > _time_in_force_beg && t < _time_in_force_end
}

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceIOC:
		return "IOC"
	case TimeInForceFOK:
		return "FOK"
	case TimeInForceGTD:
		return "GTD"
	case TimeInForceDay:
		return "DAY"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus follows the order lifecycle.
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusInitialized
	OrderStatusDenied
	OrderStatusEmulated
	OrderStatusReleased
	OrderStatusSubmitted
	OrderStatusAccepted
	OrderStatusRejected
	OrderStatusCanceled
	OrderStatusExpired
	OrderStatusTriggered
	OrderStatusPendingUpdate
	OrderStatusPendingCancel
	OrderStatusPartiallyFilled
	OrderStatusFilled
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

// IsClosed reports a terminal status.
func (s OrderStatus) IsClosed() bool {
	switch s {
	case OrderStatusDenied, OrderStatusRejected, OrderStatusCanceled, OrderStatusExpired, OrderStatusFilled:
		return true
	default:
		return false
	}
}

// IsOpen reports a status working at the venue.
func (s OrderStatus) IsOpen() bool {
	switch s {
	case OrderStatusAccepted, OrderStatusTriggered, OrderStatusPendingUpdate, OrderStatusPendingCancel, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// IsInflight reports a status awaiting a venue answer.
func (s OrderStatus) IsInflight() bool {
	return s == OrderStatusSubmitted || s == OrderStatusPendingUpdate || s == OrderStatusPendingCancel
}

var orderStatusNames = [...]string{
	OrderStatusInitialized:     "INITIALIZED",
	OrderStatusDenied:          "DENIED",
	OrderStatusEmulated:        "EMULATED",
	OrderStatusReleased:        "RELEASED",
	OrderStatusSubmitted:       "SUBMITTED",
	OrderStatusAccepted:        "ACCEPTED",
	OrderStatusRejected:        "REJECTED",
	OrderStatusCanceled:        "CANCELED",
	OrderStatusExpired:         "EXPIRED",
	OrderStatusTriggered:       "TRIGGERED",
	OrderStatusPendingUpdate:   "PENDING_UPDATE",
	OrderStatusPendingCancel:   "PENDING_CANCEL",
	OrderStatusPartiallyFilled: "PARTIALLY_FILLED",
	OrderStatusFilled:          "FILLED",
}

func (s OrderStatus) String() string {
	if !s.IsAvailable() {
		return "UNKNOWN"
	}
	return orderStatusNames[s]
}
