package binance

import (
	"strings"

	"github.com/yanun0323/decimal"

	"tradecore/internal/decode"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

const maxRecentPackets = 1024

// depthContext translates Binance update ids into a contiguous packet
// sequence. Every emitted packet takes the next sequence; a missed update
// id skips one so the book sees the gap.
type depthContext struct {
	seq    uint64
	lastU  uint64
	synced bool
	// recent spans since the last snapshot, used to line a snapshot up
	// with packets the book is holding.
	recent []span
}

type span struct {
	seq, first, last uint64
}

func newDepthContext() *depthContext {
	// Start at 1 so a jump below the first packet never underflows.
	return &depthContext{seq: 1}
}

func (c *depthContext) next(first, last, prevLast uint64) (uint64, bool) {
	if c.synced && last <= c.lastU {
		return 0, false
	}
	gap := false
	if c.lastU != 0 {
		if prevLast != 0 {
			gap = prevLast != c.lastU
		} else {
			gap = first > c.lastU+1
		}
	}
	c.seq++
	if gap {
		c.seq++
	}
	c.lastU = last
	c.recent = append(c.recent, span{seq: c.seq, first: first, last: last})
	if len(c.recent) > maxRecentPackets {
		c.recent = c.recent[len(c.recent)-maxRecentPackets:]
	}
	return c.seq, true
}

// snapshot returns the sequence for a snapshot at lastUpdateID.
func (c *depthContext) snapshot(lastUpdateID uint64) uint64 {
	defer func() {
		c.synced = true
		c.recent = c.recent[:0]
	}()
	for _, sp := range c.recent {
		if sp.last <= lastUpdateID {
			continue
		}
		if sp.first <= lastUpdateID+1 {
			return sp.seq - 1
		}
		return sp.seq - 2
	}
	c.seq++
	c.lastU = lastUpdateID
	return c.seq
}

type depthUpdate struct {
	Event     string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	FirstID   uint64      `json:"U"`
	FinalID   uint64      `json:"u"`
	PrevID    uint64      `json:"pu"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

func (d *Decoder) context(symbol string) *depthContext {
	symbol = strings.ToUpper(symbol)
	ctx, ok := d.depth[symbol]
	if !ok {
		ctx = newDepthContext()
		d.depth[symbol] = ctx
	}
	return ctx
}

func (d *Decoder) decodeDepthUpdate(frame []byte) (decode.Event, error) {
	var msg depthUpdate
	if err := api.Unmarshal(frame, &msg); err != nil {
		return decode.Event{}, decode.MalformedErr(err, "depthUpdate")
	}
	if msg.FinalID < msg.FirstID {
		return decode.Event{}, decode.Malformed("depthUpdate %s ids %d..%d", msg.Symbol, msg.FirstID, msg.FinalID)
	}
	inst, err := d.instruments.Resolve(msg.Symbol)
	if err != nil {
		return decode.Event{}, err
	}

	tsEvent, tsInit := msToNanos(msg.EventTime), d.clock.Now()
	deltas := make([]model.OrderBookDelta, 0, len(msg.Bids)+len(msg.Asks))
	appendLevels := func(side enum.OrderSide, levels [][2]string) error {
		for _, lv := range levels {
			delta, err := levelDelta(inst, side, lv[0], lv[1])
			if err != nil {
				return err
			}
			delta.TsEvent, delta.TsInit = tsEvent, tsInit
			deltas = append(deltas, delta)
		}
		return nil
	}
	if err := appendLevels(enum.OrderSideBuy, msg.Bids); err != nil {
		return decode.Event{}, err
	}
	if err := appendLevels(enum.OrderSideSell, msg.Asks); err != nil {
		return decode.Event{}, err
	}

	ctx := d.context(msg.Symbol)
	if len(deltas) == 0 {
		// Nothing to apply; keep the id chain so the next packet is not
		// taken for a gap.
		if msg.FinalID > ctx.lastU {
			ctx.lastU = msg.FinalID
		}
		return decode.Event{}, decode.Unsupported("empty depthUpdate %s", msg.Symbol)
	}
	seq, ok := ctx.next(msg.FirstID, msg.FinalID, msg.PrevID)
	if !ok {
		return decode.Event{}, decode.Unsupported("stale depthUpdate %s u=%d", msg.Symbol, msg.FinalID)
	}
	for i := range deltas {
		deltas[i].Sequence = seq
	}
	deltas[len(deltas)-1].Flags |= model.FlagLast
	return decode.Event{Kind: decode.EventDeltas, Deltas: deltas}, nil
}

func levelDelta(inst model.Instrument, side enum.OrderSide, price, size string) (model.OrderBookDelta, error) {
	px, err := decode.Price(price, inst.PricePrecision, "level price")
	if err != nil {
		return model.OrderBookDelta{}, err
	}
	qty, err := decode.Quantity(size, inst.SizePrecision, "level size")
	if err != nil {
		return model.OrderBookDelta{}, err
	}
	action := enum.BookActionUpdate
	if qty.IsZero() {
		action = enum.BookActionDelete
	}
	return model.OrderBookDelta{
		InstrumentID: inst.ID,
		Action:       action,
		Order:        model.BookOrder{Side: side, Price: px, Size: qty},
		Flags:        model.FlagMBP,
	}, nil
}

type depthSnapshot struct {
	LastUpdateID uint64              `json:"lastUpdateId"`
	EventTime    int64               `json:"E"`
	Bids         [][]decimal.Decimal `json:"bids"`
	Asks         [][]decimal.Decimal `json:"asks"`
}

// DecodeDepthSnapshot decodes a REST depth response for symbol into a
// snapshot batch sequenced against the diff stream of the same symbol.
func (d *Decoder) DecodeDepthSnapshot(symbol string, body []byte) (decode.Event, error) {
	var msg depthSnapshot
	if err := api.Unmarshal(body, &msg); err != nil {
		return decode.Event{}, decode.MalformedErr(err, "depth snapshot")
	}
	inst, err := d.instruments.Resolve(symbol)
	if err != nil {
		return decode.Event{}, err
	}

	tsInit := d.clock.Now()
	tsEvent := msToNanos(msg.EventTime)
	if tsEvent == 0 {
		tsEvent = tsInit
	}
	deltas := make([]model.OrderBookDelta, 0, 1+len(msg.Bids)+len(msg.Asks))
	deltas = append(deltas, model.NewClearDelta(inst.ID, 0, tsEvent, tsInit))
	appendLevels := func(side enum.OrderSide, levels [][]decimal.Decimal) error {
		for _, lv := range levels {
			if len(lv) < 2 {
				return decode.Malformed("depth snapshot level of %d fields", len(lv))
			}
			delta, err := levelDelta(inst, side, lv[0].String(), lv[1].String())
			if err != nil {
				return err
			}
			if delta.Action == enum.BookActionDelete {
				continue
			}
			delta.Action = enum.BookActionAdd
			delta.TsEvent, delta.TsInit = tsEvent, tsInit
			deltas = append(deltas, delta)
		}
		return nil
	}
	if err := appendLevels(enum.OrderSideBuy, msg.Bids); err != nil {
		return decode.Event{}, err
	}
	if err := appendLevels(enum.OrderSideSell, msg.Asks); err != nil {
		return decode.Event{}, err
	}

	seq := d.context(symbol).snapshot(msg.LastUpdateID)
	for i := range deltas {
		deltas[i].Sequence = seq
		deltas[i].Flags |= model.FlagSnapshot
	}
	deltas[len(deltas)-1].Flags |= model.FlagLast
	return decode.Event{Kind: decode.EventDeltas, Deltas: deltas}, nil
}
