package model

import (
	"github.com/shopspring/decimal"

	"tradecore/internal/model/enum"
)

// Position is the net exposure of one instrument built from fills.
type Position struct {
	ID           PositionID        `json:"id"`
	InstrumentID InstrumentID      `json:"instrument_id"`
	AccountID    AccountID         `json:"account_id,omitempty"`
	StrategyID   StrategyID        `json:"strategy_id,omitempty"`
	Side         enum.PositionSide `json:"side"`
	// SignedQty is positive long, negative short.
	SignedQty      decimal.Decimal `json:"signed_qty"`
	SizePrecision  uint8           `json:"size_precision"`
	AvgPxOpen      float64         `json:"avg_px_open"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	OpeningOrderID ClientOrderID   `json:"opening_order_id,omitempty"`
	TradeIDs       []TradeID       `json:"trade_ids,omitempty"`
	TsOpened       int64           `json:"ts_opened"`
	TsLast         int64           `json:"ts_last"`
	TsClosed       int64           `json:"ts_closed,omitempty"`
}

// PositionIDFor derives the netting position id of an instrument.
func PositionIDFor(id InstrumentID, strategy StrategyID) PositionID {
	if strategy == "" {
		return PositionID(id.String())
	}
	return PositionID(id.String() + "-" + string(strategy))
}

// Quantity returns the absolute size.
func (p *Position) Quantity() Quantity {
	raw := p.SignedQty.Abs().Shift(int32(FixedPrecision)).BigInt().Uint64()
	return Quantity{Raw: raw, Precision: p.SizePrecision}
}

func (p *Position) IsFlat() bool { return p.SignedQty.IsZero() }

// ApplyFill folds one fill into the position. Reducing fills realise PnL
// against the open average; crossing through zero reopens at the fill price.
func (p *Position) ApplyFill(ev OrderEvent) {
	qty := ev.LastQty.AsDecimal()
	px := ev.LastPx.AsDecimal()
	if ev.OrderSide == enum.OrderSideSell {
		qty = qty.Neg()
	}
	if p.TsOpened == 0 || p.IsFlat() {
		p.TsOpened = ev.TsEvent
		p.OpeningOrderID = ev.ClientOrderID
		p.TsClosed = 0
	}
	if ev.LastQty.Precision > p.SizePrecision {
		p.SizePrecision = ev.LastQty.Precision
	}
	prev := p.SignedQty
	next := prev.Add(qty)
	avg := decimal.NewFromFloat(p.AvgPxOpen)

	switch {
	case prev.IsZero() || prev.Sign() == qty.Sign():
		// Opening or adding.
		total := prev.Abs().Add(qty.Abs())
		if total.IsPositive() {
			avg = avg.Mul(prev.Abs()).Add(px.Mul(qty.Abs())).Div(total)
		}
	default:
		closed := decimal.Min(prev.Abs(), qty.Abs())
		pnl := px.Sub(avg).Mul(closed)
		if prev.IsNegative() {
			pnl = pnl.Neg()
		}
		p.RealizedPnL = p.RealizedPnL.Add(pnl)
		if next.Sign() != 0 && next.Sign() != prev.Sign() {
			avg = px
		}
	}

	p.SignedQty = next
	p.AvgPxOpen, _ = avg.Float64()
	switch next.Sign() {
	case 1:
		p.Side = enum.PositionSideLong
	case -1:
		p.Side = enum.PositionSideShort
	default:
		p.Side = enum.PositionSideFlat
		p.AvgPxOpen = 0
		p.TsClosed = ev.TsEvent
	}
	if ev.TradeID != "" {
		p.TradeIDs = append(p.TradeIDs, ev.TradeID)
	}
	p.TsLast = ev.TsEvent
}

// Clone returns a copy safe to hand to readers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	c.TradeIDs = append([]TradeID(nil), p.TradeIDs...)
	return &c
}
