package model

import (
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

const priceRawMax = uint64(PriceMax * float64(FixedScalar))

// Price is a signed fixed-point value. Raw is always scaled by
// 10^FixedPrecision; Precision only controls display and rounding.
type Price struct {
	Raw       int64
	Precision uint8
}

// NewPrice validates range and precision.
func NewPrice(value float64, precision uint8) (Price, error) {
	if err := checkPrecision(precision); err != nil {
		return Price{}, err
	}
	if err := checkFinite(value); err != nil {
		return Price{}, err
	}
	if value > PriceMax || value < PriceMin {
		return Price{}, errors.Wrapf(exception.ErrNumericOutOfRange, "price: %v", value)
	}
	return Price{Raw: f64ToRaw(value, precision), Precision: precision}, nil
}

// PriceFromRaw skips range validation. Precision above FixedPrecision is a
// programming error and panics.
func PriceFromRaw(raw int64, precision uint8) Price {
	if precision > FixedPrecision {
		panic(exception.ErrNumericPrecision)
	}
	return Price{Raw: raw, Precision: precision}
}

// PriceFromString parses the canonical decimal form and infers precision
// from the fractional digit count.
func PriceFromString(s string) (Price, error) {
	d, err := parseDecimalString(s)
	if err != nil {
		return Price{}, err
	}
	raw, err := d.raw(priceRawMax)
	if err != nil {
		return Price{}, errors.Wrapf(err, "price: %q", s)
	}
	v := int64(raw)
	if d.neg {
		v = -v
	}
	return Price{Raw: v, Precision: d.fracDigits}, nil
}

// MustPrice is PriceFromString for literals known to be valid.
func MustPrice(s string) Price {
	p, err := PriceFromString(s)
	if err != nil {
		panic(err)
	}
	return p
}

// WithPrecision rounds onto a coarser or finer grid.
func (p Price) WithPrecision(precision uint8) (Price, error) {
	if err := checkPrecision(precision); err != nil {
		return Price{}, err
	}
	return Price{Raw: roundRaw(p.Raw, precision), Precision: precision}, nil
}

func (p Price) IsZero() bool     { return p.Raw == 0 }
func (p Price) IsPositive() bool { return p.Raw > 0 }

// Equal compares raw values; both sides share the fixed scale.
func (p Price) Equal(o Price) bool { return p.Raw == o.Raw }

// Cmp returns -1, 0 or 1.
func (p Price) Cmp(o Price) int {
	switch {
	case p.Raw < o.Raw:
		return -1
	case p.Raw > o.Raw:
		return 1
	default:
		return 0
	}
}

func (p Price) Less(o Price) bool { return p.Raw < o.Raw }

func (p Price) Add(o Price) Price { return Price{Raw: p.Raw + o.Raw, Precision: p.Precision} }
func (p Price) Sub(o Price) Price { return Price{Raw: p.Raw - o.Raw, Precision: p.Precision} }
func (p Price) Neg() Price        { return Price{Raw: -p.Raw, Precision: p.Precision} }

func (p Price) AsFloat64() float64 {
	return float64(p.Raw) / float64(FixedScalar)
}

// AsDecimal returns the exact value held by raw.
func (p Price) AsDecimal() decimal.Decimal {
	return decimal.New(p.Raw, -int32(FixedPrecision))
}

func (p Price) AppendString(buf []byte) []byte {
	return appendScaledInt(buf, p.Raw/unitStep(p.Precision), int(p.Precision))
}

func (p Price) String() string {
	var buf [32]byte
	return string(p.AppendString(buf[:0]))
}

func (p Price) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 24)
	buf = append(buf, '"')
	buf = p.AppendString(buf)
	return append(buf, '"'), nil
}

func (p *Price) UnmarshalJSON(b []byte) error {
	s, err := unquoteNumber(b)
	if err != nil {
		return err
	}
	v, err := PriceFromString(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func unquoteNumber(b []byte) (string, error) {
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		return string(b[1 : len(b)-1]), nil
	}
	if string(b) == "null" {
		return "", errors.Wrap(exception.ErrNumericSyntax, "null")
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return "", errors.Wrapf(exception.ErrNumericSyntax, "input: %s", b)
	}
	return string(b), nil
}
