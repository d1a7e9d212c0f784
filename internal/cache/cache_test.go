package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/obs"
	"tradecore/pkg/exception"
)

type memDB struct {
	mu      sync.Mutex
	data    map[RecordKind]map[string][]byte
	batches int
	fail    error
}

func newMemDB() *memDB {
	return &memDB{data: make(map[RecordKind]map[string][]byte)}
}

func (m *memDB) Load(_ context.Context, kind RecordKind) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for k, v := range m.data[kind] {
		out = append(out, Record{Kind: kind, Key: k, Value: v})
	}
	return out, nil
}

func (m *memDB) Write(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.batches++
	for _, r := range records {
		if m.data[r.Kind] == nil {
			m.data[r.Kind] = make(map[string][]byte)
		}
		if r.Delete {
			delete(m.data[r.Kind], r.Key)
			continue
		}
		m.data[r.Kind][r.Key] = r.Value
	}
	return nil
}

func (m *memDB) Close() error { return nil }

func (m *memDB) count(kind RecordKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[kind])
}

var btcusdt = model.MustInstrumentID("BTCUSDT.BINANCE")

func newOrder(t *testing.T, id model.ClientOrderID, strategy model.StrategyID, ts int64) *model.Order {
	t.Helper()
	o, err := model.NewOrder(model.OrderEvent{
		Kind:          model.OrderEventInitialized,
		ClientOrderID: id,
		InstrumentID:  btcusdt,
		StrategyID:    strategy,
		Init:          &model.OrderInit{Side: enum.OrderSideBuy, Type: enum.OrderTypeMarket, Quantity: model.MustQuantity("1")},
		TsInit:        ts,
	})
	require.NoError(t, err)
	return o
}

func TestOrderIndexes(t *testing.T) {
	c := New()

	a := newOrder(t, "O-1", "S-1", 1)
	b := newOrder(t, "O-2", "S-2", 2)
	require.NoError(t, c.AddOrder(a, "P-1", "BINANCE", false))
	require.NoError(t, c.AddOrder(b, "", "", false))
	assert.ErrorIs(t, c.AddOrder(a, "", "", false), exception.ErrCacheDuplicate)

	a.Status = enum.OrderStatusSubmitted
	require.NoError(t, c.UpdateOrder(a))
	assert.Len(t, c.OrdersInflight(Filter{}), 1)

	a.Status = enum.OrderStatusAccepted
	a.VenueOrderID = "V-1"
	require.NoError(t, c.UpdateOrder(a))
	b.Status = enum.OrderStatusCanceled
	require.NoError(t, c.UpdateOrder(b))

	open := c.OrdersOpen(Filter{})
	require.Len(t, open, 1)
	assert.Equal(t, model.ClientOrderID("O-1"), open[0].ClientOrderID)
	assert.Empty(t, c.OrdersInflight(Filter{}))
	assert.Len(t, c.OrdersClosed(Filter{}), 1)

	all := c.Orders(Filter{})
	require.Len(t, all, 2)
	assert.Equal(t, model.ClientOrderID("O-1"), all[0].ClientOrderID, "oldest first")
	assert.Len(t, c.Orders(Filter{StrategyID: "S-2"}), 1)
	assert.Empty(t, c.Orders(Filter{Venue: "OKX"}))

	coid, ok := c.ClientOrderID("V-1")
	require.True(t, ok)
	assert.Equal(t, model.ClientOrderID("O-1"), coid)
	client, _ := c.ClientIDFor("O-1")
	assert.Equal(t, model.ClientID("BINANCE"), client)

	missing := newOrder(t, "O-9", "S-1", 3)
	assert.ErrorIs(t, c.UpdateOrder(missing), exception.ErrCacheMissing)
}

func TestGettersReturnCopies(t *testing.T) {
	c := New()
	require.NoError(t, c.AddOrder(newOrder(t, "O-1", "S-1", 1), "", "", false))

	got, ok := c.Order("O-1")
	require.True(t, ok)
	got.Status = enum.OrderStatusFilled

	again, _ := c.Order("O-1")
	assert.Equal(t, enum.OrderStatusInitialized, again.Status)

	require.NoError(t, c.Add("k", []byte("v")))
	v, _ := c.Get("k")
	v[0] = 'x'
	v, _ = c.Get("k")
	assert.Equal(t, []byte("v"), v)
}

func TestWriteBehind(t *testing.T) {
	db := newMemDB()
	c := New(WithDatabase(db, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, c.AddCurrency(model.BTC))
	require.NoError(t, c.AddOrder(newOrder(t, "O-1", "S-1", 1), "", "", false))
	require.Eventually(t, func() bool {
		return db.count(RecordOrder) == 1 && db.count(RecordCurrency) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Add("late", []byte("1")))
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, db.count(RecordGeneral), "final flush on shutdown")

	restored := New(WithDatabase(db, 0))
	require.NoError(t, restored.LoadAll(context.Background()))
	_, ok := restored.Order("O-1")
	assert.True(t, ok)
	cur, ok := restored.Currency("BTC")
	require.True(t, ok)
	assert.Equal(t, uint8(8), cur.Precision)
}

func TestWriteQueueFull(t *testing.T) {
	metrics := obs.NewMetrics()
	db := newMemDB()
	c := New(WithDatabase(db, 1), WithMetrics(metrics))

	require.NoError(t, c.Add("a", nil))
	require.NoError(t, c.Add("b", nil))
	assert.Equal(t, uint64(1), metrics.Count(obs.CounterCacheWriteDrop))

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 1, db.count(RecordGeneral))
}

func TestFlushFailureKeepsRecords(t *testing.T) {
	db := newMemDB()
	db.fail = errors.New("down")
	c := New(WithDatabase(db, 0))

	require.NoError(t, c.Add("a", []byte("1")))
	assert.Error(t, c.Flush(context.Background()))

	db.fail = nil
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 1, db.count(RecordGeneral))
}
