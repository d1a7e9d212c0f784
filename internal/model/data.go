package model

import "tradecore/internal/model/enum"

// Record flags carried by deltas and depth snapshots.
const (
	// FlagSnapshot marks the last delta of a snapshot batch, and a depth
	// message that fully defines the book.
	FlagSnapshot uint8 = 1 << 0
	// FlagCrossed tolerates a crossed book for the packet, e.g. auctions.
	FlagCrossed uint8 = 1 << 1
	// FlagMBP marks price-aggregated data.
	FlagMBP uint8 = 1 << 4
	// FlagTOB marks top-of-book only data.
	FlagTOB uint8 = 1 << 6
	// FlagLast closes a packet; deltas up to it form one batch.
	FlagLast uint8 = 1 << 7
)

// DepthLevels is the fixed level count of a depth snapshot.
const DepthLevels = 10

// BookOrder is a resting order or, with OrderID zero, an aggregated level.
type BookOrder struct {
	Side    enum.OrderSide `json:"side"`
	Price   Price          `json:"price"`
	Size    Quantity       `json:"size"`
	OrderID uint64         `json:"order_id"`
}

// IsAggregated reports a price-level order.
func (o BookOrder) IsAggregated() bool { return o.OrderID == 0 }

// OrderBookDelta is one atomic change to a book.
type OrderBookDelta struct {
	InstrumentID InstrumentID    `json:"instrument_id"`
	Action       enum.BookAction `json:"action"`
	Order        BookOrder       `json:"order"`
	Flags        uint8           `json:"flags"`
	Sequence     uint64          `json:"sequence"`
	TsEvent      int64           `json:"ts_event"`
	TsInit       int64           `json:"ts_init"`
}

func (d OrderBookDelta) IsLast() bool     { return d.Flags&FlagLast != 0 }
func (d OrderBookDelta) IsSnapshot() bool { return d.Flags&FlagSnapshot != 0 }

// NewClearDelta opens a snapshot batch.
func NewClearDelta(id InstrumentID, sequence uint64, tsEvent, tsInit int64) OrderBookDelta {
	return OrderBookDelta{
		InstrumentID: id,
		Action:       enum.BookActionClear,
		Sequence:     sequence,
		TsEvent:      tsEvent,
		TsInit:       tsInit,
	}
}

// OrderBookDepth10 is a fixed ten level view of both sides.
type OrderBookDepth10 struct {
	InstrumentID InstrumentID           `json:"instrument_id"`
	Bids         [DepthLevels]BookOrder `json:"bids"`
	Asks         [DepthLevels]BookOrder `json:"asks"`
	BidCounts    [DepthLevels]uint32    `json:"bid_counts"`
	AskCounts    [DepthLevels]uint32    `json:"ask_counts"`
	Flags        uint8                  `json:"flags"`
	Sequence     uint64                 `json:"sequence"`
	TsEvent      int64                  `json:"ts_event"`
	TsInit       int64                  `json:"ts_init"`
}

// Deltas expands the depth message into a snapshot batch.
func (d OrderBookDepth10) Deltas() []OrderBookDelta {
	out := make([]OrderBookDelta, 0, 1+2*DepthLevels)
	head := NewClearDelta(d.InstrumentID, d.Sequence, d.TsEvent, d.TsInit)
	head.Flags = FlagSnapshot
	out = append(out, head)
	add := func(o BookOrder) {
		if o.Size.IsZero() || !o.Side.IsAvailable() {
			return
		}
		out = append(out, OrderBookDelta{
			InstrumentID: d.InstrumentID,
			Action:       enum.BookActionAdd,
			Order:        o,
			Flags:        FlagSnapshot,
			Sequence:     d.Sequence,
			TsEvent:      d.TsEvent,
			TsInit:       d.TsInit,
		})
	}
	for _, o := range d.Bids {
		add(o)
	}
	for _, o := range d.Asks {
		add(o)
	}
	out[len(out)-1].Flags |= FlagLast
	return out
}

// QuoteTick is a top-of-book quote.
type QuoteTick struct {
	InstrumentID InstrumentID `json:"instrument_id"`
	BidPrice     Price        `json:"bid_price"`
	AskPrice     Price        `json:"ask_price"`
	BidSize      Quantity     `json:"bid_size"`
	AskSize      Quantity     `json:"ask_size"`
	TsEvent      int64        `json:"ts_event"`
	TsInit       int64        `json:"ts_init"`
}

// TradeTick is a venue trade print.
type TradeTick struct {
	InstrumentID  InstrumentID   `json:"instrument_id"`
	Price         Price          `json:"price"`
	Size          Quantity       `json:"size"`
	AggressorSide enum.OrderSide `json:"aggressor_side"`
	TradeID       TradeID        `json:"trade_id"`
	TsEvent       int64          `json:"ts_event"`
	TsInit        int64          `json:"ts_init"`
}

// Bar is an aggregated OHLCV interval.
type Bar struct {
	InstrumentID InstrumentID `json:"instrument_id"`
	// Spec names the aggregation, e.g. "1-MINUTE-LAST".
	Spec    string   `json:"spec"`
	Open    Price    `json:"open"`
	High    Price    `json:"high"`
	Low     Price    `json:"low"`
	Close   Price    `json:"close"`
	Volume  Quantity `json:"volume"`
	TsEvent int64    `json:"ts_event"`
	TsInit  int64    `json:"ts_init"`
}
