package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/exception"
)

func TestParseInstrumentID(t *testing.T) {
	testCases := []struct {
		desc  string
		input string
		want  InstrumentID
		err   error
	}{
		{desc: "spot", input: "BTCUSDT.BINANCE", want: InstrumentID{Symbol: "BTCUSDT", Venue: "BINANCE"}},
		{desc: "perp with dash", input: "BTCUSDT-PERP.BINANCE", want: InstrumentID{Symbol: "BTCUSDT-PERP", Venue: "BINANCE"}},
		{desc: "slash", input: "BTC/USD.COINBASE", want: InstrumentID{Symbol: "BTC/USD", Venue: "COINBASE"}},
		{desc: "no venue", input: "BTCUSDT", err: exception.ErrInstrumentIDSyntax},
		{desc: "lower case", input: "btcusdt.BINANCE", err: exception.ErrInstrumentIDSyntax},
		{desc: "unknown venue", input: "BTCUSDT.NOWHERE", err: exception.ErrVenueUnknown},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			id, err := ParseInstrumentID(tc.input)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, id)
			assert.Equal(t, tc.input, id.String())
		})
	}
}

func TestRegistryCodes(t *testing.T) {
	reg := NewRegistry()
	v, err := reg.AddVenue("BINANCE")
	require.NoError(t, err)
	again, err := reg.AddVenue("BINANCE")
	require.NoError(t, err)
	assert.Equal(t, v, again)

	_, err = reg.AddInstrument(InstrumentID{Symbol: "ETHUSDT", Venue: "BYBIT"})
	require.ErrorIs(t, err, exception.ErrVenueUnknown)

	code, err := reg.AddInstrument(InstrumentID{Symbol: "ETHUSDT", Venue: "BINANCE"})
	require.NoError(t, err)
	id, ok := reg.Instrument(code)
	require.True(t, ok)
	assert.Equal(t, "ETHUSDT.BINANCE", id.String())
	assert.Equal(t, 1, reg.InstrumentCount())
}
