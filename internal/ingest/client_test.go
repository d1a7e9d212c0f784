package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/decode"
	bdecode "tradecore/internal/decode/binance"
	"tradecore/internal/execution"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/msgbus"
	"tradecore/internal/network"
	"tradecore/internal/obs"
	"tradecore/internal/recorder"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const (
	_depthFrame    = `{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","U":101,"u":105,"b":[["100.10","1.5"]],"a":[["100.20","2"]]}`
	_snapshotBody  = `{"lastUpdateId":104,"bids":[["100.00","3"],["99.90","1"]],"asks":[["100.30","1"]]}`
	_executionJSON = `{"e":"executionReport","E":1700000000123,"s":"BTCUSDT","c":"O-1","C":"","S":"BUY","o":"LIMIT","f":"GTC","q":"2.5","p":"30000.01","P":"0","x":"TRADE","X":"PARTIALLY_FILLED","r":"NONE","i":12345,"l":"0.5","z":"0.5","L":"30000.00","n":"0.0005","N":"BTC","T":1700000000456,"t":99,"m":false,"O":1700000000000,"Z":"15000.00"}`
)

var btcusdt = model.Instrument{
	ID:             model.InstrumentID{Symbol: "BTCUSDT", Venue: bdecode.Venue},
	RawSymbol:      "BTCUSDT",
	Kind:           enum.InstrumentCurrencyPair,
	BaseCurrency:   model.BTC,
	QuoteCurrency:  model.USDT,
	PricePrecision: 2,
	SizePrecision:  3,
}

// exchange is a venue stub: a websocket that answers every subscribe with
// one depth frame, plus the REST endpoints of snapshots and listen keys.
type exchange struct {
	ws   *httptest.Server
	rest *httptest.Server

	mu        sync.Mutex
	controls  []string
	conns     []*websocket.Conn
	paths     []string
	sessions  int
	malformed int // sessions that open with garbage frames

	snapshots atomic.Int32
}

func newExchange(t *testing.T) *exchange {
	t.Helper()
	x := &exchange{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	x.ws = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		x.mu.Lock()
		x.conns = append(x.conns, conn)
		x.paths = append(x.paths, r.URL.Path)
		x.sessions++
		garbage := x.sessions <= x.malformed
		x.mu.Unlock()

		if garbage {
			for range 3 {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
			}
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			x.mu.Lock()
			x.controls = append(x.controls, string(data))
			x.mu.Unlock()
			if strings.Contains(string(data), `"SUBSCRIBE"`) {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(_depthFrame))
			}
		}
	}))
	x.rest = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		x.mu.Lock()
		x.paths = append(x.paths, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		x.mu.Unlock()
		switch {
		case r.URL.Path == "/api/v3/depth":
			x.snapshots.Add(1)
			_, _ = w.Write([]byte(_snapshotBody))
		case r.URL.Path == _binanceListenKeyPath && r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"listenKey":"lk-1"}`))
		case r.URL.Path == _binanceListenKeyPath:
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(func() {
		x.mu.Lock()
		for _, c := range x.conns {
			_ = c.Close()
		}
		x.mu.Unlock()
		x.ws.Close()
		x.rest.Close()
	})
	return x
}

func (x *exchange) url() string {
	return "ws" + strings.TrimPrefix(x.ws.URL, "http")
}

func (x *exchange) recorded() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.controls...)
}

func (x *exchange) requests() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.paths...)
}

// push writes a frame on the newest connection.
func (x *exchange) push(t *testing.T, frame string) {
	t.Helper()
	x.mu.Lock()
	defer x.mu.Unlock()
	require.NotEmpty(t, x.conns)
	require.NoError(t, x.conns[len(x.conns)-1].WriteMessage(websocket.TextMessage, []byte(frame)))
}

// sink collects what the client posts. It is only touched by the runner,
// which the test drives from its own goroutine.
type sink struct {
	events  []decode.Event
	reports [][]model.ExecutionReport
}

func (s *sink) snapshots() int {
	n := 0
	for _, ev := range s.events {
		if ev.Kind == decode.EventDeltas && ev.Deltas[0].IsSnapshot() {
			n++
		}
	}
	return n
}

func (s *sink) diffs() int {
	n := 0
	for _, ev := range s.events {
		if ev.Kind == decode.EventDeltas && !ev.Deltas[0].IsSnapshot() {
			n++
		}
	}
	return n
}

type harness struct {
	x       *exchange
	runner  *msgbus.Runner
	metrics *obs.Metrics
	client  *Client
	sink    *sink
}

func testConfig(url string) Config {
	return Config{
		Socket: network.SocketConfig{
			URL:     url,
			Backoff: network.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
		},
		SnapshotRetry: network.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1},
	}
}

func newRunner(t *testing.T, s *sink, metrics *obs.Metrics) *msgbus.Runner {
	t.Helper()
	bus := msgbus.NewBus("test")
	require.NoError(t, bus.Register(EndpointData, "sink", msgbus.Func(func(env msgbus.Envelope) error {
		s.events = append(s.events, env.Message.(decode.Event))
		return nil
	})))
	require.NoError(t, bus.Register(execution.EndpointReconcile, "sink", msgbus.Func(func(env msgbus.Envelope) error {
		s.reports = append(s.reports, env.Message.([]model.ExecutionReport))
		return nil
	})))
	return msgbus.NewRunner(bus, msgbus.WithMetrics(metrics))
}

func newHarness(t *testing.T, x *exchange, opts ...Option) *harness {
	t.Helper()
	h := &harness{x: x, metrics: obs.NewMetrics(), sink: &sink{}}
	h.runner = newRunner(t, h.sink, h.metrics)

	decoder := bdecode.New(decode.NewInstruments(bdecode.Venue, btcusdt), bdecode.WithClock(clock.NewTestClock(1)))
	rest := network.NewHTTPClient("binance rest", network.HTTPConfig{BaseURL: x.rest.URL, Timeout: time.Second})
	client, err := NewClient(testConfig(x.url()), NewBinance(decoder, rest), h.runner,
		append([]Option{WithMetrics(h.metrics)}, opts...)...)
	require.NoError(t, err)
	h.client = client

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
	return h
}

func (h *harness) settle(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.runner.RunUntilIdle()
		return cond()
	}, 2*time.Second, 5*time.Millisecond, msg)
}

func TestSubscribeDepthFetchesSnapshot(t *testing.T) {
	x := newExchange(t)
	h := newHarness(t, x)
	require.Eventually(t, h.client.Connected, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.client.Subscribe(btcusdt, enum.TopicDepth))
	h.settle(t, func() bool { return h.sink.snapshots() == 1 && h.sink.diffs() == 1 }, "snapshot and diff posted")

	controls := x.recorded()
	require.Len(t, controls, 1)
	assert.Equal(t, `{"method":"SUBSCRIBE","params":["btcusdt@depth@100ms"],"id":1}`, controls[0])
	assert.EqualValues(t, 1, x.snapshots.Load())
	assert.Contains(t, x.requests(), "GET /api/v3/depth?limit=1000&symbol=BTCUSDT")
}

func TestSubscriptionRefCount(t *testing.T) {
	x := newExchange(t)
	h := newHarness(t, x)
	require.Eventually(t, h.client.Connected, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.client.Subscribe(btcusdt, enum.TopicTrade))
	require.NoError(t, h.client.Subscribe(btcusdt, enum.TopicTrade))
	require.Eventually(t, func() bool { return len(x.recorded()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.client.Unsubscribe(btcusdt.ID, enum.TopicTrade))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, x.recorded(), 1, "still referenced")

	require.NoError(t, h.client.Unsubscribe(btcusdt.ID, enum.TopicTrade))
	require.Eventually(t, func() bool { return len(x.recorded()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, x.recorded()[1], `"UNSUBSCRIBE","params":["btcusdt@trade"]`)

	err := h.client.Unsubscribe(btcusdt.ID, enum.TopicTrade)
	assert.ErrorIs(t, err, exception.ErrIngestUnknownTopic)
	assert.EqualValues(t, 0, x.snapshots.Load(), "trades need no snapshot")
}

func TestSubscribeInvalid(t *testing.T) {
	x := newExchange(t)
	h := newHarness(t, x)

	foreign := btcusdt
	foreign.ID.Venue = "OKX"

	testCases := []struct {
		desc  string
		inst  model.Instrument
		topic enum.Topic
	}{
		{desc: "foreign venue", inst: foreign, topic: enum.TopicDepth},
		{desc: "private topic", inst: btcusdt, topic: enum.TopicOrder},
		{desc: "unknown topic", inst: btcusdt, topic: enum.Topic(0)},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.ErrorIs(t, h.client.Subscribe(tc.inst, tc.topic), exception.ErrIngestInvalidRequest)
		})
	}
}

func TestMalformedFramesReconnectAndResync(t *testing.T) {
	x := newExchange(t)
	x.malformed = 1
	h := newHarness(t, x)

	require.Eventually(t, func() bool { return h.client.socket.Sessions() >= 2 }, 2*time.Second, 5*time.Millisecond, "reconnected")
	require.NoError(t, h.client.Subscribe(btcusdt, enum.TopicDepth))
	h.settle(t, func() bool { return h.sink.snapshots() >= 1 && h.sink.diffs() >= 1 }, "live after reconnect")

	sessions := h.client.socket.Sessions()
	x.mu.Lock()
	x.malformed = int(sessions) + 1
	x.mu.Unlock()
	for range 3 {
		x.push(t, `not json`)
	}
	require.Eventually(t, func() bool { return h.client.socket.Sessions() > sessions }, 2*time.Second, 5*time.Millisecond)
	h.settle(t, func() bool { return h.sink.snapshots() >= 2 }, "resynced on reconnect")
	assert.GreaterOrEqual(t, x.snapshots.Load(), int32(2))
}

func TestExecutionReportsGoToReconciler(t *testing.T) {
	x := newExchange(t)
	h := newHarness(t, x)
	require.Eventually(t, h.client.Connected, 2*time.Second, 5*time.Millisecond)

	x.push(t, _executionJSON)
	h.settle(t, func() bool { return len(h.sink.reports) == 1 }, "reports posted")
	assert.Empty(t, h.sink.events)
	require.NotEmpty(t, h.sink.reports[0])
}

func TestFramesAreRecorded(t *testing.T) {
	dir := t.TempDir()
	w, err := recorder.NewWriter(recorder.DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	x := newExchange(t)
	h := newHarness(t, x, WithRecorder(w))
	require.Eventually(t, h.client.Connected, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.client.Subscribe(btcusdt, enum.TopicDepth))
	h.settle(t, func() bool { return h.sink.snapshots() == 1 && h.sink.diffs() == 1 }, "book events")
	require.NoError(t, w.Close())

	p, err := recorder.NewPlayback(recorder.PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	kinds := map[recorder.FrameKind]int{}
	require.NoError(t, p.Run(context.Background(), func(f recorder.Frame) error {
		assert.Equal(t, bdecode.Venue, f.Source)
		kinds[f.Kind]++
		return nil
	}))
	assert.Equal(t, 1, kinds[recorder.FrameJSON])
	assert.Equal(t, 1, kinds[recorder.FrameSnapshot])
}

func TestBinanceStreams(t *testing.T) {
	b := NewBinance(nil, nil)

	testCases := []struct {
		desc   string
		topic  enum.Topic
		stream string
		err    error
	}{
		{desc: "depth", topic: enum.TopicDepth, stream: "btcusdt@depth@100ms"},
		{desc: "trade", topic: enum.TopicTrade, stream: "btcusdt@trade"},
		{desc: "quote", topic: enum.TopicQuote, stream: "btcusdt@bookTicker"},
		{desc: "order", topic: enum.TopicOrder, err: exception.ErrIngestInvalidRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			stream, err := b.Stream(btcusdt, tc.topic)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.stream, stream)
		})
	}
}

func TestBinanceControlFrames(t *testing.T) {
	b := NewBinance(nil, nil)

	sub, err := b.EncodeSubscribe("btcusdt@trade", "ethusdt@trade")
	require.NoError(t, err)
	assert.Equal(t, `{"method":"SUBSCRIBE","params":["btcusdt@trade","ethusdt@trade"],"id":1}`, string(sub))

	unsub, err := b.EncodeUnsubscribe("btcusdt@trade")
	require.NoError(t, err)
	assert.Equal(t, `{"method":"UNSUBSCRIBE","params":["btcusdt@trade"],"id":2}`, string(unsub))

	_, err = b.EncodeSubscribe()
	assert.ErrorIs(t, err, exception.ErrIngestInvalidRequest)

	_, err = b.FetchSnapshot(context.Background(), btcusdt)
	assert.ErrorIs(t, err, exception.ErrIngestNoSnapshot)
}

func TestBinanceUserStream(t *testing.T) {
	x := newExchange(t)
	s := &sink{}
	runner := newRunner(t, s, obs.NewMetrics())
	decoder := bdecode.New(decode.NewInstruments(bdecode.Venue, btcusdt))
	rest := network.NewHTTPClient("binance rest", network.HTTPConfig{BaseURL: x.rest.URL, Timeout: time.Second})

	cfg := testConfig(x.url() + "/ws")
	stream, err := NewBinanceUserStream(cfg, rest, decoder, runner)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, p := range x.requests() {
			if p == "/ws/lk-1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "socket opened on the listen key")

	x.push(t, _executionJSON)
	require.Eventually(t, func() bool {
		runner.RunUntilIdle()
		return len(s.reports) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("user stream did not stop")
	}
	reqs := x.requests()
	assert.Contains(t, reqs, "POST "+_binanceListenKeyPath+"?")
	assert.Contains(t, reqs, "DELETE "+_binanceListenKeyPath+"?listenKey=lk-1")
	assert.Empty(t, x.recorded(), "user streams never subscribe")
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{}, nil, msgbus.NewRunner(msgbus.NewBus("test")))
	assert.ErrorIs(t, err, exception.ErrIngestInvalidRequest)

	_, err = NewBinanceUserStream(Config{}, nil, nil, nil)
	assert.ErrorIs(t, err, exception.ErrIngestInvalidRequest)
}
