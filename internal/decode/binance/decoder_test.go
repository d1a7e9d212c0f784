package binance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/book"
	"tradecore/internal/decode"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

var btcusdt = model.Instrument{
	ID:             model.InstrumentID{Symbol: "BTCUSDT", Venue: Venue},
	RawSymbol:      "BTCUSDT",
	Kind:           enum.InstrumentCurrencyPair,
	BaseCurrency:   model.BTC,
	QuoteCurrency:  model.USDT,
	PricePrecision: 2,
	SizePrecision:  3,
}

func newDecoder() *Decoder {
	return New(decode.NewInstruments(Venue, btcusdt), WithClock(clock.NewTestClock(1)))
}

func mustDeltas(t *testing.T) func(ev decode.Event, err error) []model.OrderBookDelta {
	return func(ev decode.Event, err error) []model.OrderBookDelta {
		t.Helper()
		require.NoError(t, err)
		require.Equal(t, decode.EventDeltas, ev.Kind)
		require.NotEmpty(t, ev.Deltas)
		return ev.Deltas
	}
}

func TestDepthSequencingAgainstSnapshot(t *testing.T) {
	d := newDecoder()
	b, err := book.NewBook(btcusdt.ID, enum.BookTypeL2MBP, 16, nil)
	require.NoError(t, err)

	diff1 := mustDeltas(t)(d.Decode([]byte(`{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","U":101,"u":105,"b":[["100.10","1.5"]],"a":[["100.20","2"]]}`)))
	diff2 := mustDeltas(t)(d.Decode([]byte(`{"e":"depthUpdate","E":1700000000100,"s":"BTCUSDT","U":106,"u":110,"b":[["100.10","0"]],"a":[]}`)))
	assert.Equal(t, uint64(2), diff1[0].Sequence)
	assert.Equal(t, uint64(3), diff2[0].Sequence)
	assert.Equal(t, enum.BookActionDelete, diff2[0].Action)
	assert.True(t, diff2[0].IsLast())

	require.NoError(t, b.ApplyBatch(diff1))
	require.NoError(t, b.ApplyBatch(diff2))
	assert.Equal(t, book.StateUninitialized, b.State())

	snap := mustDeltas(t)(d.DecodeDepthSnapshot("BTCUSDT", []byte(`{"lastUpdateId":104,"bids":[["100.00","3"],["99.90","1"]],"asks":[["100.30","1"]]}`)))
	assert.Equal(t, enum.BookActionClear, snap[0].Action)
	assert.Equal(t, uint64(1), snap[0].Sequence)
	for _, delta := range snap {
		assert.True(t, delta.IsSnapshot())
	}
	assert.True(t, snap[len(snap)-1].IsLast())

	require.NoError(t, b.ApplyBatch(snap))
	assert.Equal(t, book.StateLive, b.State())
	view := b.View()
	assert.Equal(t, uint64(3), view.Sequence)
	require.NotNil(t, view.BestBid)
	require.NotNil(t, view.BestAsk)
	assert.Equal(t, "100.00", view.BestBid.Price.String())
	assert.Equal(t, "100.20", view.BestAsk.Price.String())

	diff3 := mustDeltas(t)(d.Decode([]byte(`{"e":"depthUpdate","E":1700000000200,"s":"BTCUSDT","U":111,"u":112,"b":[["99.95","1"]],"a":[]}`)))
	assert.Equal(t, uint64(4), diff3[0].Sequence)
	require.NoError(t, b.ApplyBatch(diff3))

	_, err = d.Decode([]byte(`{"e":"depthUpdate","E":1700000000300,"s":"BTCUSDT","U":100,"u":104,"b":[["99.00","1"]],"a":[]}`))
	assert.Equal(t, decode.ClassUnsupported, decode.ClassOf(err), "stale packet")

	diff4 := mustDeltas(t)(d.Decode([]byte(`{"e":"depthUpdate","E":1700000000400,"s":"BTCUSDT","U":115,"u":116,"b":[["99.80","1"]],"a":[]}`)))
	assert.Equal(t, uint64(6), diff4[0].Sequence, "gap skips a sequence")
	err = b.ApplyBatch(diff4)
	ve, ok := exception.AsVenueError(err)
	require.True(t, ok)
	assert.Equal(t, exception.CodeOrderBookResync, ve.Code)
}

func TestDecodeFrames(t *testing.T) {
	d := newDecoder()

	ev, err := d.Decode([]byte(`{"e":"trade","E":1700000000000,"s":"BTCUSDT","t":12345,"p":"100.5","q":"0.25","T":1700000000001,"m":true}`))
	require.NoError(t, err)
	require.Equal(t, decode.EventTrade, ev.Kind)
	assert.Equal(t, enum.OrderSideSell, ev.Trade.AggressorSide)
	assert.Equal(t, model.TradeID("12345"), ev.Trade.TradeID)
	assert.Equal(t, "100.50", ev.Trade.Price.String())
	assert.Equal(t, int64(1700000000001_000_000), ev.Trade.TsEvent)

	ev, err = d.Decode([]byte(`{"u":400900217,"s":"BTCUSDT","b":"25.35","B":"31.21","a":"25.36","A":"40.66"}`))
	require.NoError(t, err)
	require.Equal(t, decode.EventQuote, ev.Kind)
	assert.Equal(t, "25.35", ev.Quote.BidPrice.String())
	assert.Equal(t, "31.210", ev.Quote.BidSize.String())
	assert.Equal(t, "40.660", ev.Quote.AskSize.String())

	ev, err = d.Decode([]byte(`{"stream":"btcusdt@trade","data":{"e":"trade","E":1,"s":"BTCUSDT","t":1,"p":"1","q":"1","T":1,"m":false}}`))
	require.NoError(t, err)
	assert.Equal(t, enum.OrderSideBuy, ev.Trade.AggressorSide)

	ev, err = d.Decode([]byte(`{"e":"kline","E":2,"s":"BTCUSDT","k":{"t":0,"T":59999,"i":"1m","o":"1","c":"2","h":"3","l":"0.5","v":"10","x":true}}`))
	require.NoError(t, err)
	require.Equal(t, decode.EventBar, ev.Kind)
	assert.Equal(t, "1-MINUTE-LAST", ev.Bar.Spec)
	assert.Equal(t, "3.00", ev.Bar.High.String())

	ev, err = d.Decode([]byte(`{"code":-1121,"msg":"Invalid symbol.","id":7}`))
	require.NoError(t, err)
	require.Equal(t, decode.EventReject, ev.Kind)
	assert.Equal(t, "-1121", ev.Reject.Code)
	assert.Equal(t, "7", ev.Reject.RefID)

	ev, err = d.Decode([]byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	assert.Equal(t, decode.EventHeartbeat, ev.Kind)
}

func TestDecodeErrorClasses(t *testing.T) {
	testCases := []struct {
		desc  string
		frame string
		class decode.Class
	}{
		{desc: "not json", frame: `garbage`, class: decode.ClassMalformed},
		{desc: "truncated", frame: `{"e":"trade","s":"BTCUSDT","p":`, class: decode.ClassMalformed},
		{desc: "unknown symbol", frame: `{"e":"trade","E":1,"s":"ETHUSDT","t":1,"p":"1","q":"1","T":1}`, class: decode.ClassUnknownSymbol},
		{desc: "unsupported event", frame: `{"e":"24hrTicker","s":"BTCUSDT"}`, class: decode.ClassUnsupported},
		{desc: "open kline", frame: `{"e":"kline","s":"BTCUSDT","k":{"i":"1m","x":false}}`, class: decode.ClassUnsupported},
		{desc: "bad decimal", frame: `{"e":"trade","E":1,"s":"BTCUSDT","t":1,"p":"1e3","q":"1","T":1}`, class: decode.ClassMalformed},
		{desc: "price out of range", frame: `{"e":"trade","E":1,"s":"BTCUSDT","t":1,"p":"99999999999","q":"1","T":1}`, class: decode.ClassOutOfRange},
		{desc: "inverted ids", frame: `{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":10,"u":9,"b":[],"a":[]}`, class: decode.ClassMalformed},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := newDecoder().Decode([]byte(tc.frame))
			require.Error(t, err)
			assert.Equal(t, tc.class, decode.ClassOf(err))
		})
	}
}

func TestExecutionReport(t *testing.T) {
	d := newDecoder()
	frame := []byte(`{"e":"executionReport","E":1700000000123,"s":"BTCUSDT","c":"O-1","C":"","S":"BUY","o":"LIMIT","f":"GTC","q":"2.5","p":"30000.01","P":"0","x":"TRADE","X":"PARTIALLY_FILLED","r":"NONE","i":12345,"l":"0.5","z":"0.5","L":"30000.00","n":"0.0005","N":"BTC","T":1700000000456,"t":99,"m":false,"O":1700000000000,"Z":"15000.00"}`)

	ev, err := d.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, decode.EventReport, ev.Kind)
	require.Len(t, ev.Reports, 2)

	order := ev.Reports[0].Order
	require.NotNil(t, order)
	assert.Equal(t, model.ClientOrderID("O-1"), order.ClientOrderID)
	assert.Equal(t, model.VenueOrderID("12345"), order.VenueOrderID)
	assert.Equal(t, enum.OrderStatusPartiallyFilled, order.Status)
	assert.Equal(t, enum.OrderTypeLimit, order.Type)
	assert.Equal(t, "2.500", order.Quantity.String())
	assert.Equal(t, "0.500", order.FilledQty.String())
	require.NotNil(t, order.Price)
	assert.Equal(t, "30000.01", order.Price.String())
	assert.Nil(t, order.TriggerPrice)
	require.NotNil(t, order.AvgPx)
	assert.Equal(t, "30000", order.AvgPx.String())
	assert.Empty(t, order.CancelReason)
	assert.Equal(t, int64(1700000000000_000_000), order.TsAccepted)

	fill := ev.Reports[1].Fill
	require.NotNil(t, fill)
	assert.Equal(t, model.TradeID("99"), fill.TradeID)
	assert.Equal(t, enum.LiquiditySideTaker, fill.LiquiditySide)
	assert.Equal(t, "BTC", fill.Commission.Currency.Code)
	assert.Equal(t, "0.500", fill.LastQty.String())
}

func TestRestOrders(t *testing.T) {
	d := newDecoder()

	report, err := d.DecodeOrder([]byte(`{"symbol":"BTCUSDT","orderId":28,"clientOrderId":"O-7","transactTime":1700000000000,"price":"30000.00","origQty":"1.000","executedQty":"0.400","cummulativeQuoteQty":"12000.00","status":"PARTIALLY_FILLED","timeInForce":"IOC","type":"LIMIT","side":"SELL"}`))
	require.NoError(t, err)
	assert.Equal(t, model.ClientOrderID("O-7"), report.ClientOrderID)
	assert.Equal(t, model.VenueOrderID("28"), report.VenueOrderID)
	assert.Equal(t, enum.OrderStatusPartiallyFilled, report.Status)
	assert.Equal(t, enum.TimeInForceIOC, report.TimeInForce)
	assert.Equal(t, enum.OrderSideSell, report.Side)
	assert.Equal(t, "0.400", report.FilledQty.String())
	require.NotNil(t, report.AvgPx)
	assert.Equal(t, "30000", report.AvgPx.String())
	assert.Equal(t, report.TsAccepted, report.TsLast)

	canceled, err := d.DecodeOrder([]byte(`{"symbol":"BTCUSDT","orderId":29,"clientOrderId":"cxl-1","origClientOrderId":"O-8","price":"1.00","origQty":"1","executedQty":"0","status":"CANCELED","timeInForce":"GTC","type":"LIMIT_MAKER","side":"BUY"}`))
	require.NoError(t, err)
	assert.Equal(t, model.ClientOrderID("O-8"), canceled.ClientOrderID)
	assert.True(t, canceled.PostOnly)
	assert.Nil(t, canceled.AvgPx)

	reports, err := d.DecodeOrders([]byte(`[{"symbol":"ETHUSDT","orderId":1,"status":"NEW","type":"LIMIT","side":"BUY","origQty":"1","executedQty":"0"},{"symbol":"BTCUSDT","orderId":2,"clientOrderId":"O-9","price":"100.00","origQty":"2","executedQty":"0","status":"NEW","timeInForce":"GTC","type":"LIMIT","side":"BUY","time":1700000000000,"updateTime":1700000000500}]`))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, enum.OrderStatusAccepted, reports[0].Status)
	assert.Equal(t, int64(1700000000500_000_000), reports[0].TsLast)

	_, err = d.DecodeOrder([]byte(`{"symbol":"BTCUSDT","orderId":3,"status":"WHATEVER","type":"LIMIT","side":"BUY","origQty":"1","executedQty":"0"}`))
	assert.ErrorIs(t, err, exception.ErrDecodeUnsupported)
}

func TestRestTrades(t *testing.T) {
	d := newDecoder()
	fills, err := d.DecodeTrades([]byte(`[{"symbol":"BTCUSDT","id":501,"orderId":28,"price":"30000.00","qty":"0.400","commission":"12.00","commissionAsset":"USDT","time":1700000000001,"isBuyer":false,"isMaker":true}]`))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, model.TradeID("501"), fills[0].TradeID)
	assert.Equal(t, model.VenueOrderID("28"), fills[0].VenueOrderID)
	assert.Equal(t, enum.OrderSideSell, fills[0].Side)
	assert.Equal(t, enum.LiquiditySideMaker, fills[0].LiquiditySide)
	assert.Equal(t, "USDT", fills[0].Commission.Currency.Code)

	_, err = d.DecodeTrades([]byte(`[{"symbol":"DOGEUSDT","id":1,"orderId":1,"price":"1","qty":"1"}]`))
	assert.ErrorIs(t, err, exception.ErrDecodeUnknownSymbol)
}
