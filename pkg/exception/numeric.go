package exception

import "errors"

var (
	ErrNumericPrecision   = errors.New("numeric: precision exceeds maximum")
	ErrNumericOutOfRange  = errors.New("numeric: value out of range")
	ErrNumericNotFinite   = errors.New("numeric: value is not finite")
	ErrNumericNegativeQty = errors.New("numeric: quantity is negative")
	ErrNumericSyntax      = errors.New("numeric: invalid decimal syntax")
	ErrCurrencyUnknown    = errors.New("currency: unknown code")
	ErrCurrencyExists     = errors.New("currency: already registered")
	ErrVenueUnknown       = errors.New("identifier: unknown venue")
	ErrInstrumentIDSyntax = errors.New("identifier: invalid instrument id")
)
