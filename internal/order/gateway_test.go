package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/cache"
	"tradecore/internal/execution"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/msgbus"
	"tradecore/internal/network"
	"tradecore/internal/obs"
	"tradecore/pkg/exception"
)

const venue = model.Venue("BINANCE")

var btcusdt = model.MustInstrumentID("BTCUSDT.BINANCE")

type fakeDelegator struct {
	mu         sync.Mutex
	submitErrs []error
	cancelErrs []error
	submits    int
	cancels    int
	queries    []execution.QueryRequest
	open       []model.OrderStatusReport
}

func (f *fakeDelegator) Venue() model.Venue { return venue }

func (f *fakeDelegator) next(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeDelegator) Submit(_ context.Context, o *model.Order) (model.OrderStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if err := f.next(&f.submitErrs); err != nil {
		return model.OrderStatusReport{}, err
	}
	return f.report(o, model.VenueOrderID("V-"+string(o.ClientOrderID)), enum.OrderStatusAccepted), nil
}

func (f *fakeDelegator) Cancel(_ context.Context, o *model.Order) (model.OrderStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if err := f.next(&f.cancelErrs); err != nil {
		return model.OrderStatusReport{}, err
	}
	return f.report(o, o.VenueOrderID, enum.OrderStatusCanceled), nil
}

func (f *fakeDelegator) QueryOrder(_ context.Context, req execution.QueryRequest) (model.OrderStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, req)
	return model.OrderStatusReport{
		InstrumentID: req.InstrumentID,
		VenueOrderID: req.VenueOrderID,
		Side:         enum.OrderSideBuy,
		Type:         enum.OrderTypeLimit,
		Status:       enum.OrderStatusAccepted,
		Quantity:     model.MustQuantity("1.000"),
	}, nil
}

func (f *fakeDelegator) OpenOrders(context.Context, execution.OpenOrdersRequest) ([]model.OrderStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open, nil
}

func (f *fakeDelegator) MassStatus(context.Context, time.Duration) (*model.ExecutionMassStatus, error) {
	return model.NewExecutionMassStatus("BINANCE", "ACC-1", venue, 1), nil
}

func (f *fakeDelegator) report(o *model.Order, id model.VenueOrderID, status enum.OrderStatus) model.OrderStatusReport {
	return model.OrderStatusReport{
		AccountID:     "ACC-1",
		InstrumentID:  o.InstrumentID,
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  id,
		Side:          o.Side,
		Type:          o.Type,
		TimeInForce:   o.TimeInForce,
		Status:        status,
		Quantity:      o.Quantity,
		FilledQty:     model.QuantityFromRaw(0, o.Quantity.Precision),
		Price:         o.Price,
	}
}

func (f *fakeDelegator) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.cancels
}

type denyAll struct{}

func (denyAll) Check(*model.Order) error { return errors.New("notional above limit") }

type harness struct {
	gw      *Gateway
	runner  *msgbus.Runner
	cache   *cache.Cache
	venue   *fakeDelegator
	metrics *obs.Metrics
}

type setup struct {
	cfg     Config
	opts    []Option
	noStart bool
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()
	h := &harness{cache: cache.New(), venue: &fakeDelegator{}, metrics: obs.NewMetrics()}
	require.NoError(t, h.cache.AddInstrument(model.Instrument{
		ID:             btcusdt,
		RawSymbol:      "BTCUSDT",
		Kind:           enum.InstrumentCurrencyPair,
		BaseCurrency:   model.BTC,
		QuoteCurrency:  model.USDT,
		PricePrecision: 2,
		SizePrecision:  3,
	}))

	bus := msgbus.NewBus("test")
	h.runner = msgbus.NewRunner(bus, msgbus.WithMetrics(h.metrics))
	engine, err := execution.NewEngine(h.cache, execution.WithMetrics(h.metrics))
	require.NoError(t, err)
	rec, err := execution.NewReconciler(execution.DefaultConfig(), engine)
	require.NoError(t, err)
	require.NoError(t, rec.Register(bus))

	retrier := network.NewRetrier(network.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Factor:       1,
	}, network.WithRetryMetrics(h.metrics))
	opts := append([]Option{
		WithDelegator(h.venue),
		WithRetrier(retrier),
		WithMetrics(h.metrics),
	}, s.opts...)
	h.gw, err = NewGateway(s.cfg, h.runner, h.cache, opts...)
	require.NoError(t, err)
	require.NoError(t, h.gw.Register(bus))

	if !s.noStart {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = h.gw.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}
	return h
}

func (h *harness) submit(t *testing.T, id model.ClientOrderID) {
	t.Helper()
	px := model.MustPrice("30000.00")
	require.NoError(t, h.runner.Send(EndpointSubmit, SubmitOrder{
		StrategyID:    "S-1",
		InstrumentID:  btcusdt,
		ClientOrderID: id,
		Side:          enum.OrderSideBuy,
		Type:          enum.OrderTypeLimit,
		Quantity:      model.MustQuantity("1.000"),
		Price:         &px,
	}))
}

func (h *harness) status(id model.ClientOrderID) enum.OrderStatus {
	o, ok := h.cache.Order(id)
	if !ok {
		return 0
	}
	return o.Status
}

// settle pumps the runner until id reaches want.
func (h *harness) settle(t *testing.T, id model.ClientOrderID, want enum.OrderStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.runner.RunUntilIdle()
		return h.status(id) == want
	}, 2*time.Second, 5*time.Millisecond, "%s never reached %s, at %s", id, want, h.status(id))
}

func TestSubmit(t *testing.T) {
	testCases := []struct {
		desc    string
		errs    []error
		want    enum.OrderStatus
		submits int
		halted  bool
	}{
		{
			desc:    "accepted",
			want:    enum.OrderStatusAccepted,
			submits: 1,
		},
		{
			desc:    "retryable failure then accepted",
			errs:    []error{exception.NewVenueError(exception.CodeRateLimit, "slow down")},
			want:    enum.OrderStatusAccepted,
			submits: 2,
		},
		{
			desc:    "rejected by venue",
			errs:    []error{exception.NewVenueError(exception.CodeInsufficientBalance, "no funds")},
			want:    enum.OrderStatusRejected,
			submits: 1,
		},
		{
			desc:    "fatal failure halts the venue",
			errs:    []error{exception.NewVenueError(exception.CodeInvalidCredentials, "bad key")},
			want:    enum.OrderStatusSubmitted,
			submits: 1,
			halted:  true,
		},
		{
			desc:    "unknown outcome waits for reconciliation",
			errs:    []error{errors.New("connection reset")},
			want:    enum.OrderStatusSubmitted,
			submits: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			h := newHarness(t, setup{})
			h.venue.submitErrs = tc.errs

			h.submit(t, "O-1")
			require.Eventually(t, func() bool {
				h.runner.RunUntilIdle()
				submits, _ := h.venue.counts()
				return submits == tc.submits
			}, 2*time.Second, 5*time.Millisecond)
			h.settle(t, "O-1", tc.want)

			if tc.halted {
				require.Eventually(t, func() bool { return h.gw.Halted(venue) != nil }, time.Second, 5*time.Millisecond)
			} else {
				assert.NoError(t, h.gw.Halted(venue))
			}
			if tc.want == enum.OrderStatusAccepted {
				o, _ := h.cache.Order("O-1")
				assert.Equal(t, model.VenueOrderID("V-O-1"), o.VenueOrderID)
			}
			assert.Equal(t, uint64(tc.submits-1), h.metrics.Count(obs.CounterOrderRetry))
		})
	}
}

func TestSubmitDenied(t *testing.T) {
	t.Run("risk", func(t *testing.T) {
		h := newHarness(t, setup{opts: []Option{WithRisk(denyAll{})}})
		h.submit(t, "O-1")
		assert.Equal(t, enum.OrderStatusDenied, h.status("O-1"))
		submits, _ := h.venue.counts()
		assert.Zero(t, submits)
	})

	t.Run("halted venue", func(t *testing.T) {
		h := newHarness(t, setup{})
		h.gw.halt(venue, exception.NewVenueError(exception.CodeAccountSuspended, "suspended"))
		h.runner.RunUntilIdle()

		h.submit(t, "O-1")
		assert.Equal(t, enum.OrderStatusDenied, h.status("O-1"))

		h.gw.Resume(venue)
		h.submit(t, "O-2")
		h.settle(t, "O-2", enum.OrderStatusAccepted)
	})

	t.Run("queue full", func(t *testing.T) {
		h := newHarness(t, setup{cfg: Config{Workers: 1, QueueSize: 1}, noStart: true})
		h.submit(t, "O-1")
		h.submit(t, "O-2")
		assert.Equal(t, enum.OrderStatusSubmitted, h.status("O-1"))
		assert.Equal(t, enum.OrderStatusRejected, h.status("O-2"))
	})
}

func TestSubmitInvalid(t *testing.T) {
	h := newHarness(t, setup{noStart: true})
	h.submit(t, "O-1")
	failed := h.metrics.Count(obs.CounterBusFailed)

	h.submit(t, "O-1")
	assert.Equal(t, failed+1, h.metrics.Count(obs.CounterBusFailed))

	require.NoError(t, h.runner.Send(EndpointSubmit, SubmitOrder{
		StrategyID:    "S-1",
		InstrumentID:  btcusdt,
		ClientOrderID: "O-2",
		Side:          enum.OrderSideBuy,
		Type:          enum.OrderTypeLimit,
		Quantity:      model.MustQuantity("1.000"),
	}))
	assert.Equal(t, failed+2, h.metrics.Count(obs.CounterBusFailed))
	assert.False(t, h.cache.OrderExists("O-2"))
}

func TestCancel(t *testing.T) {
	t.Run("canceled", func(t *testing.T) {
		h := newHarness(t, setup{})
		h.submit(t, "O-1")
		h.settle(t, "O-1", enum.OrderStatusAccepted)

		require.NoError(t, h.runner.Send(EndpointCancel, CancelOrder{InstrumentID: btcusdt, ClientOrderID: "O-1"}))
		assert.Equal(t, enum.OrderStatusPendingCancel, h.status("O-1"))
		h.settle(t, "O-1", enum.OrderStatusCanceled)
	})

	t.Run("rejected cancel restores the order", func(t *testing.T) {
		h := newHarness(t, setup{})
		h.venue.cancelErrs = []error{exception.NewVenueError(exception.CodeOrderNotFound, "unknown order")}
		h.submit(t, "O-1")
		h.settle(t, "O-1", enum.OrderStatusAccepted)

		require.NoError(t, h.runner.Send(EndpointCancel, CancelOrder{InstrumentID: btcusdt, ClientOrderID: "O-1"}))
		h.settle(t, "O-1", enum.OrderStatusAccepted)
		require.Eventually(t, func() bool {
			h.venue.mu.Lock()
			defer h.venue.mu.Unlock()
			return len(h.venue.queries) == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, model.ClientOrderID("O-1"), h.venue.queries[0].ClientOrderID)
	})

	t.Run("initialized order cancels locally", func(t *testing.T) {
		h := newHarness(t, setup{noStart: true})
		px := model.MustPrice("30000.00")
		require.NoError(t, h.runner.Send(execution.EndpointProcess, SubmitOrder{
			StrategyID:    "S-1",
			InstrumentID:  btcusdt,
			ClientOrderID: "O-1",
			Side:          enum.OrderSideBuy,
			Type:          enum.OrderTypeLimit,
			Quantity:      model.MustQuantity("1.000"),
			Price:         &px,
		}.initialized(1)))
		require.Equal(t, enum.OrderStatusInitialized, h.status("O-1"))

		require.NoError(t, h.runner.Send(EndpointCancel, CancelOrder{InstrumentID: btcusdt, ClientOrderID: "O-1"}))
		assert.Equal(t, enum.OrderStatusCanceled, h.status("O-1"))
		_, cancels := h.venue.counts()
		assert.Zero(t, cancels)
	})
}

func TestQueryEndpoints(t *testing.T) {
	h := newHarness(t, setup{})
	h.submit(t, "O-1")
	h.settle(t, "O-1", enum.OrderStatusAccepted)

	o, _ := h.cache.Order("O-1")
	h.venue.mu.Lock()
	h.venue.open = []model.OrderStatusReport{h.venue.report(o, o.VenueOrderID, enum.OrderStatusAccepted)}
	h.venue.mu.Unlock()

	require.NoError(t, h.runner.Send(execution.QueryOrderEndpoint(venue), execution.QueryRequest{
		Venue: venue, InstrumentID: btcusdt, ClientOrderID: "O-1", VenueOrderID: o.VenueOrderID,
	}))
	require.NoError(t, h.runner.Send(execution.OpenOrdersEndpoint(venue), execution.OpenOrdersRequest{Venue: venue, OpenOnly: true}))

	require.Eventually(t, func() bool {
		h.runner.RunUntilIdle()
		h.venue.mu.Lock()
		defer h.venue.mu.Unlock()
		return len(h.venue.queries) == 1
	}, time.Second, 5*time.Millisecond)
	h.runner.RunUntilIdle()
	assert.Equal(t, enum.OrderStatusAccepted, h.status("O-1"))
}

func TestMassStatus(t *testing.T) {
	h := newHarness(t, setup{noStart: true})
	ms, err := h.gw.MassStatus(context.Background(), venue, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, venue, ms.Venue)

	_, err = h.gw.MassStatus(context.Background(), "OKX", time.Hour)
	assert.ErrorIs(t, err, exception.ErrOrderUnsupportedVenue)
	assert.Equal(t, []model.Venue{venue}, h.gw.Venues())
}

func TestNewGatewayValidation(t *testing.T) {
	_, err := NewGateway(Config{}, nil, cache.New())
	assert.ErrorIs(t, err, exception.ErrOrderNilGateway)

	bus := msgbus.NewBus("test")
	_, err = NewGateway(Config{Workers: -1}, msgbus.NewRunner(bus), cache.New())
	assert.ErrorIs(t, err, exception.ErrOrderInvalidWorkerConfig)
}
