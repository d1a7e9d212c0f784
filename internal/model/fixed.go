package model

import (
	"math"
	"strconv"

	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

const (
	// FixedPrecision is the maximum decimal precision of every fixed-point
	// value. Raw integers are always scaled by 10^FixedPrecision.
	FixedPrecision uint8 = 9
	// FixedScalar is 10^FixedPrecision.
	FixedScalar int64 = 1_000_000_000

	PriceMax    = 9_223_372_036.0
	PriceMin    = -PriceMax
	QuantityMax = 18_446_744_073.0
	MoneyMax    = 9_223_372_036.0
	MoneyMin    = -MoneyMax
)

var pow10 = [...]int64{
	1,
	10,
	100,
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
	100_000_000_000,
	1_000_000_000_000,
	10_000_000_000_000,
	100_000_000_000_000,
	1_000_000_000_000_000,
	10_000_000_000_000_000,
	100_000_000_000_000_000,
	1_000_000_000_000_000_000,
}

func checkPrecision(precision uint8) error {
	if precision > FixedPrecision {
		return errors.Wrapf(exception.ErrNumericPrecision, "precision %d > %d", precision, FixedPrecision)
	}
	return nil
}

func checkFinite(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return exception.ErrNumericNotFinite
	}
	return nil
}

// unitStep is the raw distance between two adjacent values at precision.
func unitStep(precision uint8) int64 {
	return pow10[FixedPrecision-precision]
}

// f64ToRaw rounds value to precision first so the raw never carries digits
// beyond the display precision.
func f64ToRaw(value float64, precision uint8) int64 {
	rounded := math.Round(value * float64(pow10[precision]))
	return int64(rounded) * unitStep(precision)
}

func f64ToRawUnsigned(value float64, precision uint8) uint64 {
	rounded := math.Round(value * float64(pow10[precision]))
	return uint64(rounded) * uint64(unitStep(precision))
}

// roundRaw rounds raw half away from zero onto the precision grid.
func roundRaw(raw int64, precision uint8) int64 {
	step := unitStep(precision)
	if step == 1 {
		return raw
	}
	q := raw / step
	r := raw % step
	if r*2 >= step {
		q++
	} else if r*2 <= -step {
		q--
	}
	return q * step
}

func roundRawUnsigned(raw uint64, precision uint8) uint64 {
	step := uint64(unitStep(precision))
	if step == 1 {
		return raw
	}
	q := raw / step
	if (raw%step)*2 >= step {
		q++
	}
	return q * step
}

// decimalString is the parsed form of the canonical decimal wire format.
type decimalString struct {
	neg        bool
	intPart    uint64
	frac       uint64
	fracDigits uint8
}

// parseDecimalString accepts [-]digits[.digits]; no exponent, no
// separators, at most FixedPrecision fractional digits.
func parseDecimalString(s string) (decimalString, error) {
	var d decimalString
	if s == "" {
		return d, errors.Wrap(exception.ErrNumericSyntax, "empty")
	}
	i := 0
	if s[0] == '-' {
		d.neg = true
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		if d.intPart > (math.MaxUint64-9)/10 {
			return d, errors.Wrapf(exception.ErrNumericOutOfRange, "input: %q", s)
		}
		d.intPart = d.intPart*10 + uint64(s[i]-'0')
		i++
	}
	intDigits := i - start
	if i < len(s) && s[i] == '.' {
		i++
		fracStart := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			if i-fracStart >= int(FixedPrecision) {
				return d, errors.Wrapf(exception.ErrNumericPrecision, "input: %q", s)
			}
			d.frac = d.frac*10 + uint64(s[i]-'0')
			i++
		}
		d.fracDigits = uint8(i - fracStart)
		if d.fracDigits == 0 {
			return d, errors.Wrapf(exception.ErrNumericSyntax, "input: %q", s)
		}
	}
	if intDigits == 0 || i != len(s) {
		return d, errors.Wrapf(exception.ErrNumericSyntax, "input: %q", s)
	}
	return d, nil
}

// raw composes the value at FixedPrecision, bounded by limit (inclusive,
// in raw units).
func (d decimalString) raw(limit uint64) (uint64, error) {
	if d.intPart > limit/uint64(FixedScalar) {
		return 0, exception.ErrNumericOutOfRange
	}
	v := d.intPart*uint64(FixedScalar) + d.frac*uint64(unitStep(d.fracDigits))
	if v > limit {
		return 0, exception.ErrNumericOutOfRange
	}
	return v, nil
}

func appendScaledInt(buf []byte, value int64, scale int) []byte {
	if value < 0 {
		buf = append(buf, '-')
		return appendScaledUint(buf, uint64(^value)+1, scale)
	}
	return appendScaledUint(buf, uint64(value), scale)
}

func appendScaledUint(buf []byte, u uint64, scale int) []byte {
	if scale <= 0 {
		return strconv.AppendUint(buf, u, 10)
	}

	var tmp [32]byte
	digits := strconv.AppendUint(tmp[:0], u, 10)

	if len(digits) <= scale {
		buf = append(buf, '0', '.')
		for i := 0; i < scale-len(digits); i++ {
			buf = append(buf, '0')
		}
		buf = append(buf, digits...)
		return buf
	}

	idx := len(digits) - scale
	buf = append(buf, digits[:idx]...)
	buf = append(buf, '.')
	buf = append(buf, digits[idx:]...)
	return buf
}
