package book

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/obs"
	"tradecore/pkg/exception"
)

var btc = model.InstrumentID{Symbol: "BTCUSDT", Venue: "BINANCE"}

func order(side enum.OrderSide, px, size string, id uint64) model.BookOrder {
	return model.BookOrder{Side: side, Price: model.MustPrice(px), Size: model.MustQuantity(size), OrderID: id}
}

func delta(action enum.BookAction, o model.BookOrder, seq uint64, flags uint8) model.OrderBookDelta {
	return model.OrderBookDelta{InstrumentID: btc, Action: action, Order: o, Flags: flags, Sequence: seq, TsEvent: int64(seq)}
}

func snapshot(seq uint64) []model.OrderBookDelta {
	return []model.OrderBookDelta{
		delta(enum.BookActionClear, model.BookOrder{}, seq, model.FlagSnapshot),
		delta(enum.BookActionAdd, order(enum.OrderSideBuy, "100", "5", 0), seq, model.FlagSnapshot),
		delta(enum.BookActionAdd, order(enum.OrderSideBuy, "99", "3", 0), seq, model.FlagSnapshot),
		delta(enum.BookActionAdd, order(enum.OrderSideSell, "101", "2", 0), seq, model.FlagSnapshot),
		delta(enum.BookActionAdd, order(enum.OrderSideSell, "102", "4", 0), seq, model.FlagSnapshot|model.FlagLast),
	}
}

func newTestBook(t *testing.T, bookType enum.BookType) *Book {
	t.Helper()
	b, err := NewBook(btc, bookType, 8, obs.NewMetrics())
	require.NoError(t, err)
	return b
}

func handleAll(t *testing.T, b *Book, deltas []model.OrderBookDelta) error {
	t.Helper()
	var err error
	for _, d := range deltas {
		if e := b.Handle(d); e != nil {
			err = e
		}
	}
	return err
}

func TestSnapshotThenUpdate(t *testing.T) {
	b := newTestBook(t, enum.BookTypeL2MBP)
	assert.Equal(t, StateUninitialized, b.State())

	require.NoError(t, handleAll(t, b, snapshot(10)))
	assert.Equal(t, StateLive, b.State())

	require.NoError(t, b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "7", 0), 11, model.FlagLast)))

	v := b.View()
	require.NotNil(t, v.BestBid)
	assert.Equal(t, "7", v.BestBid.Size.String())
	assert.Equal(t, uint64(11), v.Sequence)
	assert.False(t, v.Stale)
	assert.Equal(t, "100", v.Depth.Bids[0].Price.String())
	assert.Equal(t, "7", v.Depth.Bids[0].Size.String())
	assert.Equal(t, "99", v.Depth.Bids[1].Price.String())
	assert.Equal(t, "101", v.Depth.Asks[0].Price.String())
	assert.True(t, v.Depth.Bids[2].Size.IsZero())
	assert.True(t, v.Depth.Asks[9].Price.IsZero())
}

func TestSequenceGapTriggersResync(t *testing.T) {
	b := newTestBook(t, enum.BookTypeL2MBP)
	require.NoError(t, handleAll(t, b, snapshot(10)))
	require.NoError(t, b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "7", 0), 11, model.FlagLast)))

	err := b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "9", 0), 13, model.FlagLast))
	require.Error(t, err)
	ve, ok := exception.AsVenueError(err)
	require.True(t, ok)
	assert.Equal(t, exception.CodeOrderBookResync, ve.Code)
	assert.Equal(t, "BTCUSDT.BINANCE", ve.Symbol)
	assert.True(t, exception.IsRetryable(err))

	assert.Equal(t, StateResync, b.State())
	v := b.View()
	assert.True(t, v.Stale)
	assert.Equal(t, "7", v.BestBid.Size.String())
	assert.Equal(t, uint64(11), v.Sequence)

	require.NoError(t, b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "1", 0), 14, model.FlagLast)))
	assert.True(t, b.IsStale())

	require.NoError(t, handleAll(t, b, snapshot(20)))
	assert.False(t, b.IsStale())
	assert.Equal(t, "5", b.View().BestBid.Size.String())
}

func TestSnapshotReplaysBufferedBatches(t *testing.T) {
	b := newTestBook(t, enum.BookTypeL2MBP)
	require.NoError(t, b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "1", 0), 9, model.FlagLast)))
	require.NoError(t, b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "6", 0), 11, model.FlagLast)))
	require.NoError(t, b.Handle(delta(enum.BookActionDelete, order(enum.OrderSideSell, "102", "0", 0), 12, model.FlagLast)))
	assert.Equal(t, StateUninitialized, b.State())

	require.NoError(t, b.ApplyBatch(snapshot(10)))
	v := b.View()
	assert.Equal(t, StateLive, v.State)
	assert.Equal(t, uint64(12), v.Sequence)
	assert.Equal(t, "6", v.BestBid.Size.String())
	assert.True(t, v.Depth.Asks[1].Size.IsZero())
}

func TestStaleAndRegressedPackets(t *testing.T) {
	b := newTestBook(t, enum.BookTypeL2MBP)
	require.NoError(t, handleAll(t, b, snapshot(10)))
	require.NoError(t, b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "7", 0), 11, model.FlagLast)))
	require.NoError(t, b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "8", 0), 12, model.FlagLast)))

	require.NoError(t, b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "1", 0), 11, model.FlagLast)))
	assert.Equal(t, "8", b.View().BestBid.Size.String())
	assert.Equal(t, StateLive, b.State())

	err := b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "1", 0), 10, model.FlagLast))
	require.True(t, exception.IsFatal(err))
	ve, _ := exception.AsVenueError(err)
	assert.Equal(t, "sequence_regression", ve.Invariant)
}

func TestSnapshotSequence(t *testing.T) {
	testCases := []struct {
		desc      string
		seq       uint64
		invariant string
		want      uint64
	}{
		{desc: "older snapshot rejected", seq: 9, invariant: "sequence_regression", want: 12},
		{desc: "same snapshot reapplied", seq: 10, want: 10},
		{desc: "newer snapshot replaces", seq: 20, want: 20},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			b := newTestBook(t, enum.BookTypeL2MBP)
			require.NoError(t, b.ApplyBatch(snapshot(10)))
			require.NoError(t, b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "7", 0), 11, model.FlagLast)))
			require.NoError(t, b.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "8", 0), 12, model.FlagLast)))

			err := b.ApplyBatch(snapshot(tc.seq))
			v := b.View()
			assert.Equal(t, tc.want, v.Sequence)
			assert.Equal(t, StateLive, v.State)
			if tc.invariant == "" {
				require.NoError(t, err)
				assert.Equal(t, "5", v.BestBid.Size.String())
				return
			}
			require.True(t, exception.IsFatal(err))
			ve, ok := exception.AsVenueError(err)
			require.True(t, ok)
			assert.Equal(t, tc.invariant, ve.Invariant)
			assert.Equal(t, "8", v.BestBid.Size.String())
		})
	}
}

func TestCrossedBook(t *testing.T) {
	b := newTestBook(t, enum.BookTypeL2MBP)
	require.NoError(t, handleAll(t, b, snapshot(10)))

	require.NoError(t, b.Handle(delta(enum.BookActionAdd, order(enum.OrderSideBuy, "101", "1", 0), 11, model.FlagLast|model.FlagCrossed)))
	assert.Equal(t, StateLive, b.State())

	err := b.Handle(delta(enum.BookActionAdd, order(enum.OrderSideBuy, "102", "1", 0), 12, model.FlagLast))
	require.True(t, exception.IsFatal(err))
	ve, _ := exception.AsVenueError(err)
	assert.Equal(t, "crossed_book", ve.Invariant)
	assert.True(t, b.IsStale())
}

func TestValidation(t *testing.T) {
	b := newTestBook(t, enum.BookTypeL2MBP)
	require.NoError(t, handleAll(t, b, snapshot(10)))

	testCases := []struct {
		desc  string
		batch []model.OrderBookDelta
		err   error
	}{
		{desc: "empty", err: exception.ErrBookEmptyBatch},
		{
			desc: "wrong instrument",
			batch: []model.OrderBookDelta{{
				InstrumentID: model.InstrumentID{Symbol: "ETHUSDT", Venue: "BINANCE"},
				Action:       enum.BookActionAdd,
				Order:        order(enum.OrderSideBuy, "1", "1", 0),
				Sequence:     11,
			}},
			err: exception.ErrBookInstrumentMatch,
		},
		{
			desc:  "bad side",
			batch: []model.OrderBookDelta{delta(enum.BookActionAdd, model.BookOrder{Price: model.MustPrice("1"), Size: model.MustQuantity("1")}, 11, 0)},
			err:   exception.ErrBookInvalidSide,
		},
		{
			desc:  "bad action",
			batch: []model.OrderBookDelta{delta(0, order(enum.OrderSideBuy, "1", "1", 0), 11, 0)},
			err:   exception.ErrBookInvalidAction,
		},
		{
			desc:  "delete with size",
			batch: []model.OrderBookDelta{delta(enum.BookActionDelete, order(enum.OrderSideBuy, "99", "3", 0), 11, model.FlagLast)},
			err:   exception.ErrBookDeleteWithSize,
		},
		{
			desc: "sequence jumps inside batch",
			batch: []model.OrderBookDelta{
				delta(enum.BookActionAdd, order(enum.OrderSideBuy, "98", "1", 0), 11, 0),
				delta(enum.BookActionAdd, order(enum.OrderSideBuy, "97", "1", 0), 13, 0),
			},
			err: exception.ErrBookSequenceDecrease,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			require.ErrorIs(t, b.ApplyBatch(tc.batch), tc.err)
			assert.Equal(t, uint64(10), b.View().Sequence)
		})
	}
}

func TestL3OrdersKeepArrivalOrder(t *testing.T) {
	b := newTestBook(t, enum.BookTypeL3MBO)
	require.NoError(t, b.ApplyBatch([]model.OrderBookDelta{
		delta(enum.BookActionClear, model.BookOrder{}, 1, model.FlagSnapshot),
		delta(enum.BookActionAdd, order(enum.OrderSideBuy, "100", "1", 1), 1, model.FlagSnapshot),
		delta(enum.BookActionAdd, order(enum.OrderSideBuy, "100", "2", 2), 1, model.FlagSnapshot),
		delta(enum.BookActionAdd, order(enum.OrderSideBuy, "100", "3", 3), 1, model.FlagSnapshot|model.FlagLast),
	}))

	var ids []uint64
	b.Read(func(ob *OrderBook, stale bool) {
		lvl, _ := ob.bids.best()
		for _, o := range lvl.orders {
			ids = append(ids, o.OrderID)
		}
		assert.False(t, stale)
	})
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	require.NoError(t, b.ApplyBatch([]model.OrderBookDelta{
		delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "0", 2), 2, 0),
		delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "5", 1), 2, model.FlagLast),
	}))
	v := b.View()
	assert.Equal(t, "8", v.BestBid.Size.String())
	assert.Equal(t, 2, v.BestBid.Orders)

	require.NoError(t, b.ApplyBatch([]model.OrderBookDelta{
		delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "99", "5", 1), 3, model.FlagLast),
	}))
	b.Read(func(ob *OrderBook, _ bool) {
		bids := ob.Bids(0)
		require.Len(t, bids, 2)
		assert.Equal(t, "3", bids[0].Size.String())
		assert.Equal(t, "99", bids[1].Price.String())
	})

	require.NoError(t, b.ApplyBatch([]model.OrderBookDelta{
		delta(enum.BookActionDelete, order(enum.OrderSideBuy, "100", "0", 3), 4, model.FlagLast),
	}))
	assert.Equal(t, "99", b.View().BestBid.Price.String())
}

func TestL1ReplacesSide(t *testing.T) {
	b := newTestBook(t, enum.BookTypeL1MBP)
	require.NoError(t, b.ApplyBatch(snapshot(1)))
	b.Read(func(ob *OrderBook, _ bool) {
		assert.Len(t, ob.Bids(0), 1)
		assert.Len(t, ob.Asks(0), 1)
		bid, _ := ob.BestBid()
		assert.Equal(t, "99", bid.Price.String())
	})
}

func TestSpreadAndMidpoint(t *testing.T) {
	b := newTestBook(t, enum.BookTypeL2MBP)
	b.Read(func(ob *OrderBook, stale bool) {
		assert.True(t, stale)
		_, ok := ob.Spread()
		assert.False(t, ok)
	})
	require.NoError(t, b.ApplyBatch(snapshot(1)))
	b.Read(func(ob *OrderBook, _ bool) {
		spread, ok := ob.Spread()
		require.True(t, ok)
		assert.Equal(t, "1", spread.String())
		mid, _ := ob.Midpoint()
		assert.InDelta(t, 100.5, mid, 1e-9)
		assert.Equal(t, uint64(1), ob.UpdateCount())
	})
}

func TestReadersNeverSeePartialBatch(t *testing.T) {
	b := newTestBook(t, enum.BookTypeL2MBP)
	require.NoError(t, b.ApplyBatch(snapshot(1)))

	var stop atomic.Bool
	var wg sync.WaitGroup
	var violations atomic.Int64
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				b.Read(func(ob *OrderBook, _ bool) {
					if len(ob.Bids(0)) != 2 {
						violations.Add(1)
					}
				})
			}
		}()
	}

	for seq := uint64(2); seq < 500; seq++ {
		px := "98"
		if seq%2 == 0 {
			px = "97"
		}
		prev := "97"
		if px == "97" {
			prev = "98"
		}
		if seq == 2 {
			prev = "99"
		}
		require.NoError(t, b.ApplyBatch([]model.OrderBookDelta{
			delta(enum.BookActionDelete, order(enum.OrderSideBuy, prev, "0", 0), seq, 0),
			delta(enum.BookActionAdd, order(enum.OrderSideBuy, px, "1", 0), seq, model.FlagLast),
		}))
	}
	stop.Store(true)
	wg.Wait()
	assert.Zero(t, violations.Load())
}

func BenchmarkHandleUpdate(b *testing.B) {
	bk, err := NewBook(btc, enum.BookTypeL2MBP, 0, nil)
	if err != nil {
		b.Fatal(err)
	}
	if err := bk.ApplyBatch(snapshot(1)); err != nil {
		b.Fatal(err)
	}
	seq := uint64(2)
	for b.Loop() {
		_ = bk.Handle(delta(enum.BookActionUpdate, order(enum.OrderSideBuy, "100", "3", 0), seq, model.FlagLast))
		seq++
	}
}
