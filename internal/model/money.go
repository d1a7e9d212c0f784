package model

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

const moneyRawMax = uint64(MoneyMax * float64(FixedScalar))

// Money is a signed fixed-point amount in a currency. The display precision
// is the currency's precision.
type Money struct {
	Raw      int64
	Currency Currency
}

func NewMoney(value float64, currency Currency) (Money, error) {
	if err := checkFinite(value); err != nil {
		return Money{}, err
	}
	if value > MoneyMax || value < MoneyMin {
		return Money{}, errors.Wrapf(exception.ErrNumericOutOfRange, "money: %v", value)
	}
	if err := checkPrecision(currency.Precision); err != nil {
		return Money{}, err
	}
	return Money{Raw: f64ToRaw(value, currency.Precision), Currency: currency}, nil
}

// MoneyFromRaw skips range validation.
func MoneyFromRaw(raw int64, currency Currency) Money {
	return Money{Raw: raw, Currency: currency}
}

// MoneyFromDecimal rounds d onto the currency grid.
func MoneyFromDecimal(d decimal.Decimal, currency Currency) (Money, error) {
	if d.GreaterThan(decimal.NewFromFloat(MoneyMax)) || d.LessThan(decimal.NewFromFloat(MoneyMin)) {
		return Money{}, errors.Wrapf(exception.ErrNumericOutOfRange, "money: %s", d)
	}
	rounded := d.Round(int32(currency.Precision)).Shift(int32(FixedPrecision))
	return Money{Raw: rounded.IntPart(), Currency: currency}, nil
}

// MoneyFromString parses "<decimal> <CODE>".
func MoneyFromString(s string) (Money, error) {
	amount, code, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return Money{}, errors.Wrapf(exception.ErrNumericSyntax, "money: %q", s)
	}
	currency, err := CurrencyFromCode(code)
	if err != nil {
		return Money{}, err
	}
	d, err := parseDecimalString(amount)
	if err != nil {
		return Money{}, err
	}
	raw, err := d.raw(moneyRawMax)
	if err != nil {
		return Money{}, errors.Wrapf(err, "money: %q", s)
	}
	v := int64(raw)
	if d.neg {
		v = -v
	}
	return Money{Raw: roundRaw(v, currency.Precision), Currency: currency}, nil
}

func (m Money) IsZero() bool { return m.Raw == 0 }

func (m Money) Equal(o Money) bool {
	return m.Raw == o.Raw && m.Currency.Code == o.Currency.Code
}

func (m Money) Add(o Money) (Money, error) {
	if m.Currency.Code != o.Currency.Code {
		return Money{}, errors.Errorf("money: currency mismatch %s vs %s", m.Currency.Code, o.Currency.Code)
	}
	return Money{Raw: m.Raw + o.Raw, Currency: m.Currency}, nil
}

func (m Money) Sub(o Money) (Money, error) {
	return m.Add(o.Neg())
}

func (m Money) Neg() Money { return Money{Raw: -m.Raw, Currency: m.Currency} }

func (m Money) AsFloat64() float64 {
	return float64(m.Raw) / float64(FixedScalar)
}

func (m Money) AsDecimal() decimal.Decimal {
	return decimal.New(m.Raw, -int32(FixedPrecision))
}

func (m Money) String() string {
	var buf [40]byte
	b := appendScaledInt(buf[:0], m.Raw/unitStep(m.Currency.Precision), int(m.Currency.Precision))
	b = append(b, ' ')
	b = append(b, m.Currency.Code...)
	return string(b)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.Wrapf(exception.ErrNumericSyntax, "money: %s", b)
	}
	v, err := MoneyFromString(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
