package decode

import (
	"github.com/yanun0323/errors"

	"tradecore/internal/model"
	"tradecore/pkg/exception"
)

func numericError(err error, field string) *Error {
	if errors.Is(err, exception.ErrNumericOutOfRange) || errors.Is(err, exception.ErrNumericPrecision) {
		return OutOfRange(err, field)
	}
	return MalformedErr(err, field)
}

// Price parses a wire decimal and pairs it with the instrument precision.
func Price(s string, precision uint8, field string) (model.Price, error) {
	p, err := model.PriceFromString(s)
	if err != nil {
		return model.Price{}, numericError(err, field)
	}
	if p, err = p.WithPrecision(precision); err != nil {
		return model.Price{}, numericError(err, field)
	}
	return p, nil
}

// Quantity parses a wire decimal and pairs it with the instrument precision.
func Quantity(s string, precision uint8, field string) (model.Quantity, error) {
	q, err := model.QuantityFromString(s)
	if err != nil {
		return model.Quantity{}, numericError(err, field)
	}
	if q, err = q.WithPrecision(precision); err != nil {
		return model.Quantity{}, numericError(err, field)
	}
	return q, nil
}
