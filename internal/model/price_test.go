package model

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/exception"
)

func TestNewPrice(t *testing.T) {
	testCases := []struct {
		desc      string
		value     float64
		precision uint8
		raw       int64
		str       string
		err       error
	}{
		{desc: "integer", value: 100, precision: 0, raw: 100 * FixedScalar, str: "100"},
		{desc: "two digits", value: 100.5, precision: 2, raw: 100_500_000_000, str: "100.50"},
		{desc: "rounds to precision", value: 1.23456, precision: 3, raw: 1_235_000_000, str: "1.235"},
		{desc: "negative", value: -0.5, precision: 1, raw: -500_000_000, str: "-0.5"},
		{desc: "max precision", value: 0.000000001, precision: 9, raw: 1, str: "0.000000001"},
		{desc: "precision too large", value: 1, precision: 10, err: exception.ErrNumericPrecision},
		{desc: "above max", value: PriceMax + 1, precision: 0, err: exception.ErrNumericOutOfRange},
		{desc: "below min", value: PriceMin - 1, precision: 0, err: exception.ErrNumericOutOfRange},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			p, err := NewPrice(tc.value, tc.precision)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.raw, p.Raw)
			assert.Equal(t, tc.precision, p.Precision)
			assert.Equal(t, tc.str, p.String())
		})
	}
}

func TestPriceFromString(t *testing.T) {
	testCases := []struct {
		desc      string
		input     string
		raw       int64
		precision uint8
		ok        bool
	}{
		{desc: "plain", input: "101.25", raw: 101_250_000_000, precision: 2, ok: true},
		{desc: "leading zeros", input: "007.5", raw: 7_500_000_000, precision: 1, ok: true},
		{desc: "negative", input: "-3", raw: -3 * FixedScalar, precision: 0, ok: true},
		{desc: "nine digits", input: "0.123456789", raw: 123_456_789, precision: 9, ok: true},
		{desc: "ten digits", input: "0.1234567891"},
		{desc: "exponent", input: "1e5"},
		{desc: "separator", input: "1,000.00"},
		{desc: "trailing dot", input: "1."},
		{desc: "plus sign", input: "+1"},
		{desc: "empty", input: ""},
		{desc: "overflow", input: "9223372037"},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			p, err := PriceFromString(tc.input)
			if !tc.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.raw, p.Raw)
			assert.Equal(t, tc.precision, p.Precision)
		})
	}
}

func TestPriceRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for range 2000 {
		precision := uint8(rng.Intn(int(FixedPrecision) + 1))
		value := (rng.Float64()*2 - 1) * 1_000_000
		p, err := NewPrice(value, precision)
		require.NoError(t, err)
		back, err := PriceFromString(p.String())
		require.NoError(t, err)
		require.Equal(t, p, back, "value %v precision %d text %s", value, precision, p.String())
	}
}

func TestPriceArithmeticKeepsLeftPrecision(t *testing.T) {
	a := MustPrice("1.5")
	b := MustPrice("0.25")
	assert.Equal(t, uint8(1), a.Add(b).Precision)
	assert.Equal(t, int64(1_750_000_000), a.Add(b).Raw)
	assert.Equal(t, int64(1_250_000_000), a.Sub(b).Raw)
	assert.True(t, MustPrice("1.50").Equal(a))
	assert.Equal(t, -1, b.Cmp(a))
	assert.Equal(t, "1.5", a.AsDecimal().String())
}

func TestPriceFromRawPanicsOnPrecision(t *testing.T) {
	assert.Panics(t, func() { PriceFromRaw(1, FixedPrecision+1) })
	assert.NotPanics(t, func() { PriceFromRaw(1, FixedPrecision) })
}

func TestPriceJSON(t *testing.T) {
	b, err := json.Marshal(MustPrice("100.10"))
	require.NoError(t, err)
	assert.Equal(t, `"100.10"`, string(b))

	var p Price
	require.NoError(t, json.Unmarshal([]byte(`"99.5"`), &p))
	assert.Equal(t, MustPrice("99.5"), p)
	require.NoError(t, json.Unmarshal([]byte(`42`), &p))
	assert.Equal(t, MustPrice("42"), p)
}

func TestQuantity(t *testing.T) {
	_, err := NewQuantity(-1, 0)
	require.ErrorIs(t, err, exception.ErrNumericNegativeQty)

	_, err = QuantityFromString("-1")
	require.ErrorIs(t, err, exception.ErrNumericNegativeQty)

	q, err := QuantityFromString("18446744072.5")
	require.NoError(t, err)
	assert.Equal(t, "18446744072.5", q.String())
	_, err = QuantityFromString("18446744074")
	require.ErrorIs(t, err, exception.ErrNumericOutOfRange)

	a := MustQuantity("2.5")
	b := MustQuantity("3")
	assert.True(t, a.Sub(b).IsZero())
	assert.Equal(t, "5.5", a.Add(b).String())

	r, err := MustQuantity("1.23456").WithPrecision(2)
	require.NoError(t, err)
	assert.Equal(t, "1.23", r.String())
}

func TestQuantityRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for range 2000 {
		precision := uint8(rng.Intn(int(FixedPrecision) + 1))
		q, err := NewQuantity(rng.Float64()*1_000_000, precision)
		require.NoError(t, err)
		back, err := QuantityFromString(q.String())
		require.NoError(t, err)
		require.Equal(t, q, back)
	}
}

func TestMoney(t *testing.T) {
	m, err := NewMoney(12.346, USD)
	require.NoError(t, err)
	assert.Equal(t, "12.35 USD", m.String())

	back, err := MoneyFromString(m.String())
	require.NoError(t, err)
	assert.True(t, m.Equal(back))

	_, err = m.Add(MoneyFromRaw(1, BTC))
	require.Error(t, err)

	sum, err := m.Add(m)
	require.NoError(t, err)
	assert.Equal(t, "24.70 USD", sum.String())
}

func TestCurrencyRegistry(t *testing.T) {
	c := Currency{Code: "TSTC", Precision: 4}
	require.NoError(t, RegisterCurrency(c, false))
	require.ErrorIs(t, RegisterCurrency(c, false), exception.ErrCurrencyExists)
	c.Precision = 6
	require.NoError(t, RegisterCurrency(c, true))
	got, err := CurrencyFromCode("tstc")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), got.Precision)

	_, err = CurrencyFromCode("NOPE")
	require.ErrorIs(t, err, exception.ErrCurrencyUnknown)
}

func BenchmarkPriceFromString(b *testing.B) {
	for b.Loop() {
		_, _ = PriceFromString("65432.12345678")
	}
}
