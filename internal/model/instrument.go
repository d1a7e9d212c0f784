package model

import (
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

// Instrument is a tagged union over the supported instrument kinds. Shared
// behaviour dispatches on Kind; kind-specific fields are zero when unused.
// An Instrument is a value and must not be mutated after publication.
type Instrument struct {
	ID        InstrumentID        `json:"id"`
	RawSymbol Symbol              `json:"raw_symbol"`
	Kind      enum.InstrumentKind `json:"kind"`

	BaseCurrency       Currency `json:"base_currency"`
	QuoteCurrency      Currency `json:"quote_currency"`
	SettlementCurrency Currency `json:"settlement_currency"`
	IsInverse          bool     `json:"is_inverse"`

	PricePrecision uint8    `json:"price_precision"`
	SizePrecision  uint8    `json:"size_precision"`
	PriceIncrement Price    `json:"price_increment"`
	SizeIncrement  Quantity `json:"size_increment"`
	LotSize        Quantity `json:"lot_size"`
	Multiplier     Quantity `json:"multiplier"`

	MakerFee decimal.Decimal `json:"maker_fee"`
	TakerFee decimal.Decimal `json:"taker_fee"`

	// Dated derivatives.
	Activation int64 `json:"activation,omitempty"`
	Expiration int64 `json:"expiration,omitempty"`
	// Options.
	Strike     Price           `json:"strike"`
	OptionKind enum.OptionKind `json:"option_kind,omitempty"`
	Underlying string          `json:"underlying,omitempty"`

	TsEvent int64 `json:"ts_event"`
	TsInit  int64 `json:"ts_init"`
}

// Validate checks the fields every kind relies on.
func (i Instrument) Validate() error {
	if !i.Kind.IsAvailable() {
		return errors.Wrapf(exception.ErrInvalidArgument, "instrument %s: kind", i.ID)
	}
	if !i.ID.Symbol.IsValid() || !i.ID.Venue.IsValid() {
		return errors.Wrapf(exception.ErrInstrumentIDSyntax, "instrument %s", i.ID)
	}
	if i.PricePrecision > FixedPrecision || i.SizePrecision > FixedPrecision {
		return errors.Wrapf(exception.ErrNumericPrecision, "instrument %s", i.ID)
	}
	if !i.PriceIncrement.IsPositive() || i.SizeIncrement.IsZero() {
		return errors.Wrapf(exception.ErrInvalidArgument, "instrument %s: increments", i.ID)
	}
	if i.QuoteCurrency.IsZero() {
		return errors.Wrapf(exception.ErrInvalidArgument, "instrument %s: quote currency", i.ID)
	}
	switch i.Kind {
	case enum.InstrumentCryptoFuture, enum.InstrumentFuture:
		if i.Expiration == 0 {
			return errors.Wrapf(exception.ErrInvalidArgument, "instrument %s: expiration", i.ID)
		}
	case enum.InstrumentOption:
		if i.Expiration == 0 || !i.OptionKind.IsAvailable() || !i.Strike.IsPositive() {
			return errors.Wrapf(exception.ErrInvalidArgument, "instrument %s: option terms", i.ID)
		}
	}
	return nil
}

// EffectiveMultiplier returns the contract multiplier, one when unset.
func (i Instrument) EffectiveMultiplier() decimal.Decimal {
	if i.Multiplier.IsZero() {
		return decimal.NewFromInt(1)
	}
	return i.Multiplier.AsDecimal()
}

// CostCurrency is the currency notional is expressed in.
func (i Instrument) CostCurrency() Currency {
	if i.IsInverse && !i.BaseCurrency.IsZero() {
		return i.BaseCurrency
	}
	return i.QuoteCurrency
}

// HasExpiry reports whether the instrument is dated.
func (i Instrument) HasExpiry() bool {
	switch i.Kind {
	case enum.InstrumentCryptoFuture, enum.InstrumentFuture, enum.InstrumentOption:
		return true
	default:
		return false
	}
}

// Notional computes quantity * multiplier * price for linear instruments,
// quantity * multiplier / price for inverse ones, and the stake for betting.
func (i Instrument) Notional(qty Quantity, price Price) (Money, error) {
	q := qty.AsDecimal()
	p := price.AsDecimal()
	var v decimal.Decimal
	switch i.Kind {
	case enum.InstrumentBetting:
		v = q
	case enum.InstrumentCryptoPerpetual, enum.InstrumentCryptoFuture:
		if i.IsInverse {
			if p.IsZero() {
				return Money{}, errors.Wrapf(exception.ErrInvalidArgument, "instrument %s: zero price", i.ID)
			}
			v = q.Mul(i.EffectiveMultiplier()).Div(p)
			break
		}
		v = q.Mul(i.EffectiveMultiplier()).Mul(p)
	default:
		v = q.Mul(i.EffectiveMultiplier()).Mul(p)
	}
	return MoneyFromDecimal(v, i.CostCurrency())
}

// MakePrice rounds value onto the instrument's price precision.
func (i Instrument) MakePrice(value float64) (Price, error) {
	return NewPrice(value, i.PricePrecision)
}

// MakeQty rounds value onto the instrument's size precision.
func (i Instrument) MakeQty(value float64) (Quantity, error) {
	return NewQuantity(value, i.SizePrecision)
}

// ParsePrice parses a venue string and pairs it with the price precision.
func (i Instrument) ParsePrice(s string) (Price, error) {
	p, err := PriceFromString(s)
	if err != nil {
		return Price{}, err
	}
	return p.WithPrecision(i.PricePrecision)
}

// ParseQty parses a venue string and pairs it with the size precision.
func (i Instrument) ParseQty(s string) (Quantity, error) {
	q, err := QuantityFromString(s)
	if err != nil {
		return Quantity{}, err
	}
	return q.WithPrecision(i.SizePrecision)
}

// Commission applies the fee rate for the liquidity side to a notional.
func (i Instrument) Commission(notional Money, side enum.LiquiditySide) (Money, error) {
	rate := i.TakerFee
	if side == enum.LiquiditySideMaker {
		rate = i.MakerFee
	}
	return MoneyFromDecimal(notional.AsDecimal().Mul(rate), notional.Currency)
}
