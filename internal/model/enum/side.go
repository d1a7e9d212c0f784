package enum

// OrderSide buy, sell
type OrderSide uint8

const (
	_order_side_beg OrderSide = iota
	OrderSideBuy
	OrderSideSell
	_order_side_end
)

// OrderSideNone marks a trade without a known aggressor.
const OrderSideNone = _order_side_beg

func (s OrderSide) IsAvailable() bool {
	return s > _order_side_beg && s < _order_side_end
}

// Opposite returns the other side; unknown stays unknown.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return s
	}
}

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "NO_SIDE"
	}
}

// ParseOrderSide accepts the common venue spellings.
func ParseOrderSide(s string) (OrderSide, bool) {
	switch s {
	case "BUY", "Buy", "buy", "B", "b", "1":
		return OrderSideBuy, true
	case "SELL", "Sell", "sell", "S", "s", "2":
		return OrderSideSell, true
	default:
		return _order_side_beg, false
	}
}

// PositionSide flat, long, short
type PositionSide uint8

const (
	_position_side_beg PositionSide = iota
	PositionSideFlat
	PositionSideLong
	PositionSideShort
	_position_side_end
)

func (s PositionSide) IsAvailable() bool {
	return s > _position_side_beg && s < _position_side_end
}

func (s PositionSide) String() string {
	switch s {
	case PositionSideFlat:
		return "FLAT"
	case PositionSideLong:
		return "LONG"
	case PositionSideShort:
		return "SHORT"
	default:
		return "NO_POSITION_SIDE"
	}
}

// LiquiditySide maker, taker
type LiquiditySide uint8

const (
	_liquidity_side_beg LiquiditySide = iota
	LiquiditySideMaker
	LiquiditySideTaker
	_liquidity_side_end
)

func (s LiquiditySide) IsAvailable() bool {
	return s > _liquidity_side_beg && s < _liquidity_side_end
}
