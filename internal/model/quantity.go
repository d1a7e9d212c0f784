package model

import (
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

const quantityRawMax = uint64(QuantityMax * float64(FixedScalar))

// Quantity is a non-negative fixed-point value.
type Quantity struct {
	Raw       uint64
	Precision uint8
}

// NewQuantity validates range and precision.
func NewQuantity(value float64, precision uint8) (Quantity, error) {
	if err := checkPrecision(precision); err != nil {
		return Quantity{}, err
	}
	if err := checkFinite(value); err != nil {
		return Quantity{}, err
	}
	if value < 0 {
		return Quantity{}, errors.Wrapf(exception.ErrNumericNegativeQty, "quantity: %v", value)
	}
	if value > QuantityMax {
		return Quantity{}, errors.Wrapf(exception.ErrNumericOutOfRange, "quantity: %v", value)
	}
	return Quantity{Raw: f64ToRawUnsigned(value, precision), Precision: precision}, nil
}

// QuantityFromRaw skips range validation.
func QuantityFromRaw(raw uint64, precision uint8) Quantity {
	if precision > FixedPrecision {
		panic(exception.ErrNumericPrecision)
	}
	return Quantity{Raw: raw, Precision: precision}
}

// QuantityFromString parses the canonical decimal form. A leading sign is
// rejected unless the value is zero.
func QuantityFromString(s string) (Quantity, error) {
	d, err := parseDecimalString(s)
	if err != nil {
		return Quantity{}, err
	}
	raw, err := d.raw(quantityRawMax)
	if err != nil {
		return Quantity{}, errors.Wrapf(err, "quantity: %q", s)
	}
	if d.neg && raw != 0 {
		return Quantity{}, errors.Wrapf(exception.ErrNumericNegativeQty, "quantity: %q", s)
	}
	return Quantity{Raw: raw, Precision: d.fracDigits}, nil
}

func MustQuantity(s string) Quantity {
	q, err := QuantityFromString(s)
	if err != nil {
		panic(err)
	}
	return q
}

func (q Quantity) WithPrecision(precision uint8) (Quantity, error) {
	if err := checkPrecision(precision); err != nil {
		return Quantity{}, err
	}
	return Quantity{Raw: roundRawUnsigned(q.Raw, precision), Precision: precision}, nil
}

func (q Quantity) IsZero() bool            { return q.Raw == 0 }
func (q Quantity) IsPositive() bool        { return q.Raw > 0 }
func (q Quantity) Equal(o Quantity) bool   { return q.Raw == o.Raw }
func (q Quantity) Less(o Quantity) bool    { return q.Raw < o.Raw }
func (q Quantity) Greater(o Quantity) bool { return q.Raw > o.Raw }

func (q Quantity) Cmp(o Quantity) int {
	switch {
	case q.Raw < o.Raw:
		return -1
	case q.Raw > o.Raw:
		return 1
	default:
		return 0
	}
}

func (q Quantity) Add(o Quantity) Quantity {
	return Quantity{Raw: q.Raw + o.Raw, Precision: q.Precision}
}

// Sub saturates at zero.
func (q Quantity) Sub(o Quantity) Quantity {
	if o.Raw >= q.Raw {
		return Quantity{Precision: q.Precision}
	}
	return Quantity{Raw: q.Raw - o.Raw, Precision: q.Precision}
}

func (q Quantity) AsFloat64() float64 {
	return float64(q.Raw) / float64(FixedScalar)
}

func (q Quantity) AsDecimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(q.Raw), -int32(FixedPrecision))
}

func (q Quantity) AppendString(buf []byte) []byte {
	return appendScaledUint(buf, q.Raw/uint64(unitStep(q.Precision)), int(q.Precision))
}

func (q Quantity) String() string {
	var buf [32]byte
	return string(q.AppendString(buf[:0]))
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 24)
	buf = append(buf, '"')
	buf = q.AppendString(buf)
	return append(buf, '"'), nil
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	s, err := unquoteNumber(b)
	if err != nil {
		return err
	}
	v, err := QuantityFromString(s)
	if err != nil {
		return err
	}
	*q = v
	return nil
}
