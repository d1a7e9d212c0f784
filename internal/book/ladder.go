package book

import (
	"github.com/huandu/skiplist"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

// Level is a read-only view of one price level.
type Level struct {
	Price  model.Price    `json:"price"`
	Size   model.Quantity `json:"size"`
	Orders int            `json:"orders"`
}

// level keeps resting orders in arrival order.
type level struct {
	price  model.Price
	orders []model.BookOrder
}

func (l *level) view() Level {
	v := Level{Price: l.price, Orders: len(l.orders)}
	for i, o := range l.orders {
		if i == 0 {
			v.Size.Precision = o.Size.Precision
		}
		v.Size = v.Size.Add(o.Size)
	}
	return v
}

func (l *level) remove(id uint64) bool {
	for i, o := range l.orders {
		if o.OrderID == id {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return true
		}
	}
	return false
}

// ladder is one side of a book. Levels are keyed by raw price and iterate
// best first: descending for bids, ascending for asks.
type ladder struct {
	side   enum.OrderSide
	levels *skiplist.SkipList
	orders map[uint64]int64
}

func newLadder(side enum.OrderSide) *ladder {
	l := &ladder{side: side}
	l.reset()
	return l
}

func (l *ladder) reset() {
	desc := l.side == enum.OrderSideBuy
	l.levels = skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
		a, _ := lhs.(int64)
		b, _ := rhs.(int64)
		if desc {
			a, b = b, a
		}
		if a > b {
			return 1
		} else if a < b {
			return -1
		}
		return 0
	}))
	l.orders = make(map[uint64]int64)
}

func (l *ladder) level(raw int64) *level {
	el := l.levels.Get(raw)
	if el == nil {
		return nil
	}
	lvl, _ := el.Value.(*level)
	return lvl
}

// setLevel replaces the whole level with one aggregated order.
func (l *ladder) setLevel(o model.BookOrder) {
	if o.Size.IsZero() {
		l.removeLevel(o.Price.Raw)
		return
	}
	o.OrderID = 0
	if lvl := l.level(o.Price.Raw); lvl != nil {
		for _, prev := range lvl.orders {
			delete(l.orders, prev.OrderID)
		}
		lvl.orders = append(lvl.orders[:0], o)
		return
	}
	l.levels.Set(o.Price.Raw, &level{price: o.Price, orders: []model.BookOrder{o}})
}

func (l *ladder) removeLevel(raw int64) {
	lvl := l.level(raw)
	if lvl == nil {
		return
	}
	for _, o := range lvl.orders {
		delete(l.orders, o.OrderID)
	}
	l.levels.Remove(raw)
}

func (l *ladder) add(o model.BookOrder) {
	if o.IsAggregated() {
		l.setLevel(o)
		return
	}
	if _, ok := l.orders[o.OrderID]; ok {
		l.update(o)
		return
	}
	if o.Size.IsZero() {
		return
	}
	lvl := l.level(o.Price.Raw)
	if lvl == nil {
		lvl = &level{price: o.Price}
		l.levels.Set(o.Price.Raw, lvl)
	}
	lvl.orders = append(lvl.orders, o)
	l.orders[o.OrderID] = o.Price.Raw
}

// update replaces the size of a known order. A price change moves the
// order to the back of the new level; an unknown order is added.
func (l *ladder) update(o model.BookOrder) {
	if o.IsAggregated() {
		l.setLevel(o)
		return
	}
	raw, ok := l.orders[o.OrderID]
	if !ok {
		l.add(o)
		return
	}
	if o.Size.IsZero() {
		l.delete(o)
		return
	}
	if raw != o.Price.Raw {
		l.delete(o)
		l.add(o)
		return
	}
	lvl := l.level(raw)
	for i := range lvl.orders {
		if lvl.orders[i].OrderID == o.OrderID {
			lvl.orders[i].Size = o.Size
			return
		}
	}
}

// delete reports whether anything was removed.
func (l *ladder) delete(o model.BookOrder) bool {
	if o.IsAggregated() {
		if l.level(o.Price.Raw) == nil {
			return false
		}
		l.removeLevel(o.Price.Raw)
		return true
	}
	raw, ok := l.orders[o.OrderID]
	if !ok {
		return false
	}
	delete(l.orders, o.OrderID)
	lvl := l.level(raw)
	if lvl == nil {
		return false
	}
	lvl.remove(o.OrderID)
	if len(lvl.orders) == 0 {
		l.levels.Remove(raw)
	}
	return true
}

func (l *ladder) best() (*level, bool) {
	el := l.levels.Front()
	if el == nil {
		return nil, false
	}
	lvl, _ := el.Value.(*level)
	return lvl, lvl != nil
}

// top returns up to n levels best first; n <= 0 returns all.
func (l *ladder) top(n int) []Level {
	size := l.levels.Len()
	if n > 0 && n < size {
		size = n
	}
	out := make([]Level, 0, size)
	for el := l.levels.Front(); el != nil && len(out) < size; el = el.Next() {
		lvl, _ := el.Value.(*level)
		out = append(out, lvl.view())
	}
	return out
}

func (l *ladder) depth() int { return l.levels.Len() }
