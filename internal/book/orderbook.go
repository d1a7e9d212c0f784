package book

import (
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

// OrderBook is the price-ordered state of one instrument. It is not safe for
// concurrent use; Book serialises access to it.
type OrderBook struct {
	instrumentID model.InstrumentID
	bookType     enum.BookType
	bids         *ladder
	asks         *ladder
	sequence     uint64
	tsLast       int64
	updateCount  uint64
}

func NewOrderBook(id model.InstrumentID, bookType enum.BookType) *OrderBook {
	return &OrderBook{
		instrumentID: id,
		bookType:     bookType,
		bids:         newLadder(enum.OrderSideBuy),
		asks:         newLadder(enum.OrderSideSell),
	}
}

func (b *OrderBook) InstrumentID() model.InstrumentID { return b.instrumentID }
func (b *OrderBook) BookType() enum.BookType           { return b.bookType }
func (b *OrderBook) Sequence() uint64                  { return b.sequence }
func (b *OrderBook) TsLast() int64                     { return b.tsLast }
func (b *OrderBook) UpdateCount() uint64               { return b.updateCount }

func (b *OrderBook) side(s enum.OrderSide) *ladder {
	if s == enum.OrderSideBuy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) clear() {
	b.bids.reset()
	b.asks.reset()
}

// apply mutates the ladders for one validated delta.
func (b *OrderBook) apply(d model.OrderBookDelta) {
	if d.Action == enum.BookActionClear {
		b.clear()
		return
	}
	o := d.Order
	switch b.bookType {
	case enum.BookTypeL1MBP:
		if d.Action != enum.BookActionDelete {
			b.side(o.Side).reset()
		}
		o.OrderID = 0
	case enum.BookTypeL2MBP:
		o.OrderID = 0
	}

	action := d.Action
	if action == enum.BookActionUpdate && o.Size.IsZero() {
		action = enum.BookActionDelete
	}
	l := b.side(o.Side)
	switch action {
	case enum.BookActionAdd:
		l.add(o)
	case enum.BookActionUpdate:
		l.update(o)
	case enum.BookActionDelete:
		l.delete(o)
	}
}

func (b *OrderBook) BestBid() (Level, bool) {
	lvl, ok := b.bids.best()
	if !ok {
		return Level{}, false
	}
	return lvl.view(), true
}

func (b *OrderBook) BestAsk() (Level, bool) {
	lvl, ok := b.asks.best()
	if !ok {
		return Level{}, false
	}
	return lvl.view(), true
}

// Spread is best ask minus best bid, in the bid's precision.
func (b *OrderBook) Spread() (model.Price, bool) {
	bid, okBid := b.bids.best()
	ask, okAsk := b.asks.best()
	if !okBid || !okAsk {
		return model.Price{}, false
	}
	return model.PriceFromRaw(ask.price.Raw-bid.price.Raw, bid.price.Precision), true
}

func (b *OrderBook) Midpoint() (float64, bool) {
	bid, okBid := b.bids.best()
	ask, okAsk := b.asks.best()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid.price.AsFloat64() + ask.price.AsFloat64()) / 2, true
}

// IsCrossed reports best bid at or through best ask.
func (b *OrderBook) IsCrossed() bool {
	bid, okBid := b.bids.best()
	ask, okAsk := b.asks.best()
	return okBid && okAsk && bid.price.Raw >= ask.price.Raw
}

func (b *OrderBook) Bids(n int) []Level { return b.bids.top(n) }
func (b *OrderBook) Asks(n int) []Level { return b.asks.top(n) }

// Depth10 renders the top ten levels of each side, zero padded.
func (b *OrderBook) Depth10() model.OrderBookDepth10 {
	depth := model.OrderBookDepth10{
		InstrumentID: b.instrumentID,
		Flags:        model.FlagSnapshot | model.FlagLast,
		Sequence:     b.sequence,
		TsEvent:      b.tsLast,
		TsInit:       b.tsLast,
	}
	for i, lvl := range b.bids.top(model.DepthLevels) {
		depth.Bids[i] = model.BookOrder{Side: enum.OrderSideBuy, Price: lvl.Price, Size: lvl.Size}
		depth.BidCounts[i] = uint32(lvl.Orders)
	}
	for i, lvl := range b.asks.top(model.DepthLevels) {
		depth.Asks[i] = model.BookOrder{Side: enum.OrderSideSell, Price: lvl.Price, Size: lvl.Size}
		depth.AskCounts[i] = uint32(lvl.Orders)
	}
	return depth
}
