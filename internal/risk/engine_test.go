package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/cache"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

var btcusdt = model.MustInstrumentID("BTCUSDT.BINANCE")

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	c := cache.New()
	require.NoError(t, c.AddInstrument(model.Instrument{
		ID:             btcusdt,
		RawSymbol:      "BTCUSDT",
		Kind:           enum.InstrumentCurrencyPair,
		BaseCurrency:   model.BTC,
		QuoteCurrency:  model.USDT,
		PricePrecision: 2,
		SizePrecision:  3,
	}))
	return c
}

func limit(side enum.OrderSide, qty, px string) *model.Order {
	p := model.MustPrice(px)
	return &model.Order{
		ClientOrderID: "O-1",
		StrategyID:    "S-1",
		InstrumentID:  btcusdt,
		Side:          side,
		Type:          enum.OrderTypeLimit,
		Quantity:      model.MustQuantity(qty),
		Price:         &p,
		TimeInForce:   enum.TimeInForceGTC,
	}
}

func market(side enum.OrderSide, qty string) *model.Order {
	o := limit(side, qty, "1")
	o.Type = enum.OrderTypeMarket
	o.Price = nil
	return o
}

func reference(px string) ReferenceFunc {
	return func(model.InstrumentID) (decimal.Decimal, bool) {
		return decimal.RequireFromString(px), true
	}
}

func TestCheck(t *testing.T) {
	testCases := []struct {
		desc     string
		cfg      Config
		position string
		order    func() *model.Order
		ref      ReferenceFunc
		expected error
	}{
		{
			desc:  "no limits",
			order: func() *model.Order { return limit(enum.OrderSideBuy, "1.000", "100.00") },
		},
		{
			desc:     "kill switch",
			cfg:      Config{KillSwitch: true},
			order:    func() *model.Order { return limit(enum.OrderSideBuy, "1.000", "100.00") },
			expected: exception.ErrRiskKillSwitch,
		},
		{
			desc: "unknown instrument",
			order: func() *model.Order {
				o := limit(enum.OrderSideBuy, "1.000", "100.00")
				o.InstrumentID = model.MustInstrumentID("ETHUSDT.BINANCE")
				return o
			},
			expected: exception.ErrRiskUnknownInst,
		},
		{
			desc:     "max quantity",
			cfg:      Config{MaxOrderQty: decimal.NewFromInt(2)},
			order:    func() *model.Order { return limit(enum.OrderSideBuy, "2.001", "100.00") },
			expected: exception.ErrRiskMaxQty,
		},
		{
			desc:  "max quantity inclusive",
			cfg:   Config{MaxOrderQty: decimal.NewFromInt(2)},
			order: func() *model.Order { return limit(enum.OrderSideBuy, "2.000", "100.00") },
		},
		{
			desc:     "price band",
			cfg:      Config{MaxPriceDeviationBps: 100},
			order:    func() *model.Order { return limit(enum.OrderSideBuy, "1.000", "101.01") },
			ref:      reference("100"),
			expected: exception.ErrRiskPriceBand,
		},
		{
			desc:  "price band edge",
			cfg:   Config{MaxPriceDeviationBps: 100},
			order: func() *model.Order { return limit(enum.OrderSideSell, "1.000", "99.00") },
			ref:   reference("100"),
		},
		{
			desc:     "max notional on limit price",
			cfg:      Config{MaxOrderNotional: decimal.NewFromInt(1000)},
			order:    func() *model.Order { return limit(enum.OrderSideBuy, "10.001", "100.00") },
			expected: exception.ErrRiskMaxNotional,
		},
		{
			desc:     "max notional on reference",
			cfg:      Config{MaxOrderNotional: decimal.NewFromInt(1000)},
			order:    func() *model.Order { return market(enum.OrderSideBuy, "5.000") },
			ref:      reference("250.50"),
			expected: exception.ErrRiskMaxNotional,
		},
		{
			desc:  "market without reference skips notional",
			cfg:   Config{MaxOrderNotional: decimal.NewFromInt(1000)},
			order: func() *model.Order { return market(enum.OrderSideBuy, "5.000") },
		},
		{
			desc:     "position limit",
			cfg:      Config{MaxPosition: decimal.NewFromInt(3)},
			position: "2.5",
			order:    func() *model.Order { return limit(enum.OrderSideBuy, "1.000", "100.00") },
			expected: exception.ErrRiskPositionLimit,
		},
		{
			desc:     "position limit reducing",
			cfg:      Config{MaxPosition: decimal.NewFromInt(3)},
			position: "2.5",
			order:    func() *model.Order { return limit(enum.OrderSideSell, "1.000", "100.00") },
		},
		{
			desc:     "reduce only when flat",
			order:    func() *model.Order { o := limit(enum.OrderSideSell, "1.000", "100.00"); o.ReduceOnly = true; return o },
			expected: exception.ErrRiskReduceOnly,
		},
		{
			desc:     "reduce only same side",
			position: "2",
			order:    func() *model.Order { o := limit(enum.OrderSideBuy, "1.000", "100.00"); o.ReduceOnly = true; return o },
			expected: exception.ErrRiskReduceOnly,
		},
		{
			desc:     "reduce only flips",
			position: "-0.5",
			order:    func() *model.Order { o := limit(enum.OrderSideBuy, "1.000", "100.00"); o.ReduceOnly = true; return o },
			expected: exception.ErrRiskReduceOnly,
		},
		{
			desc:     "reduce only closes",
			position: "-1",
			order:    func() *model.Order { o := limit(enum.OrderSideBuy, "1.000", "100.00"); o.ReduceOnly = true; return o },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			c := newCache(t)
			if tc.position != "" {
				require.NoError(t, c.AddPosition(&model.Position{
					ID:           model.PositionIDFor(btcusdt, "S-1"),
					InstrumentID: btcusdt,
					StrategyID:   "S-1",
					SignedQty:    decimal.RequireFromString(tc.position),
				}))
			}
			m := obs.NewMetrics()
			opts := []Option{WithMetrics(m)}
			if tc.ref != nil {
				opts = append(opts, WithReference(tc.ref))
			}
			e, err := NewEngine(tc.cfg, c, opts...)
			require.NoError(t, err)

			err = e.Check(tc.order())
			if tc.expected == nil {
				assert.NoError(t, err)
				assert.Zero(t, m.Count(obs.CounterRiskDenied))
				return
			}
			assert.ErrorIs(t, err, tc.expected)
			assert.Equal(t, uint64(1), m.Count(obs.CounterRiskDenied))
		})
	}
}

func TestCheckRateWindow(t *testing.T) {
	clk := clock.NewTestClock(1_700_000_000_000_000_000)
	e, err := NewEngine(Config{OrderRateLimit: 2, OrderRateWindow: time.Second}, newCache(t), WithClock(clk))
	require.NoError(t, err)

	o := limit(enum.OrderSideBuy, "1.000", "100.00")
	assert.NoError(t, e.Check(o))
	assert.NoError(t, e.Check(o))
	assert.ErrorIs(t, e.Check(o), exception.ErrRiskRateLimit)

	clk.Advance(time.Second)
	assert.NoError(t, e.Check(o))
}

func TestKillSwitchToggle(t *testing.T) {
	e, err := NewEngine(Config{}, newCache(t))
	require.NoError(t, err)
	o := limit(enum.OrderSideBuy, "1.000", "100.00")

	e.SetKillSwitch(true)
	assert.True(t, e.Halted())
	assert.ErrorIs(t, e.Check(o), exception.ErrRiskKillSwitch)

	e.SetKillSwitch(false)
	assert.NoError(t, e.Check(o))

	_, err = NewEngine(Config{}, nil)
	assert.ErrorIs(t, err, exception.ErrRiskNilCache)
}
