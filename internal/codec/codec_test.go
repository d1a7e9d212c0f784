package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

func TestDeltaPayload(t *testing.T) {
	d := model.OrderBookDelta{
		Action: enum.BookActionUpdate,
		Order: model.BookOrder{
			Side:    enum.OrderSideSell,
			Price:   model.MustPrice("101.25"),
			Size:    model.MustQuantity("3.5"),
			OrderID: 77,
		},
		Flags:    model.FlagLast,
		Sequence: 42,
		TsEvent:  1_700_000_000_000_000_000,
		TsInit:   1_700_000_000_000_000_100,
	}

	buf := EncodeDelta(nil, 9, d)
	require.Len(t, buf, DeltaPayloadSize)

	code, got, ok := DecodeDelta(buf)
	require.True(t, ok)
	assert.Equal(t, model.InstrumentCode(9), code)
	assert.Equal(t, d, got)

	_, _, ok = DecodeDelta(buf[:DeltaPayloadSize-1])
	assert.False(t, ok)

	buf[7] = 0xff
	_, _, ok = DecodeDelta(buf)
	assert.False(t, ok, "precision above maximum")
}

func TestDepth10Payload(t *testing.T) {
	var d model.OrderBookDepth10
	for i := range 3 {
		d.Bids[i] = model.BookOrder{Side: enum.OrderSideBuy, Price: model.PriceFromRaw(int64(100-i)*1e9, 2), Size: model.MustQuantity("1.0")}
		d.Asks[i] = model.BookOrder{Side: enum.OrderSideSell, Price: model.PriceFromRaw(int64(101+i)*1e9, 2), Size: model.MustQuantity("2.0")}
		d.BidCounts[i] = uint32(i + 1)
		d.AskCounts[i] = uint32(i + 2)
	}
	d.Flags = model.FlagSnapshot | model.FlagLast
	d.Sequence = 1000
	d.TsEvent = 5
	d.TsInit = 6

	buf := EncodeDepth10(make([]byte, 0, Depth10PayloadSize), 3, d)
	require.Len(t, buf, Depth10PayloadSize)

	code, got, ok := DecodeDepth10(buf)
	require.True(t, ok)
	assert.Equal(t, model.InstrumentCode(3), code)
	assert.Equal(t, d, got)
}

func TestFillPayload(t *testing.T) {
	usdt, err := model.CurrencyFromCode("USDT")
	require.NoError(t, err)
	fill := model.FillReport{
		VenueOrderID:  "V-1",
		TradeID:       "T-100",
		Side:          enum.OrderSideBuy,
		LastQty:       model.MustQuantity("0.5"),
		LastPx:        model.MustPrice("100.10"),
		Commission:    model.MoneyFromRaw(12_500_000, usdt),
		LiquiditySide: enum.LiquiditySideTaker,
		TsEvent:       10,
		TsInit:        11,
	}

	buf, err := EncodeFill(nil, 1, fill)
	require.NoError(t, err)

	code, got, ok := DecodeFill(buf)
	require.True(t, ok)
	assert.Equal(t, model.InstrumentCode(1), code)
	assert.Equal(t, fill, got)

	fill.TradeID = "T-0123456789012345678901234"
	_, err = EncodeFill(nil, 1, fill)
	assert.Error(t, err)
}

func TestSplitFrame(t *testing.T) {
	delta := EncodeDelta(nil, 1, model.OrderBookDelta{Action: enum.BookActionClear})

	testCases := []struct {
		desc    string
		frame   []byte
		kind    FrameKind
		payload bool
		ok      bool
	}{
		{desc: "empty", frame: nil, ok: false},
		{desc: "delta", frame: AppendFrame(nil, FrameDelta, delta), kind: FrameDelta, payload: true, ok: true},
		{desc: "short delta", frame: AppendFrame(nil, FrameDelta, delta[:10]), kind: FrameDelta, ok: false},
		{desc: "unknown kind", frame: []byte{0xee, 1, 2}, kind: FrameKind(0xee), ok: true},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			kind, payload, ok := SplitFrame(tc.frame)
			assert.Equal(t, tc.ok, ok)
			if !tc.ok {
				return
			}
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.payload, payload != nil)
		})
	}
}

func BenchmarkEncodeDepth10(b *testing.B) {
	var d model.OrderBookDepth10
	buf := make([]byte, 0, Depth10PayloadSize)
	for b.Loop() {
		buf = EncodeDepth10(buf, 1, d)
	}
}
