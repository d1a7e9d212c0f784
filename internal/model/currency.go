package model

import (
	"strings"
	"sync"

	"github.com/yanun0323/errors"

	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

// Currency is a registered money unit.
type Currency struct {
	Code      string            `json:"code"`
	Precision uint8             `json:"precision"`
	ISO4217   uint16            `json:"iso4217"`
	Name      string            `json:"name"`
	Type      enum.CurrencyType `json:"type"`
}

func (c Currency) String() string { return c.Code }

func (c Currency) IsZero() bool { return c.Code == "" }

var (
	USD  = Currency{Code: "USD", Precision: 2, ISO4217: 840, Name: "United States dollar", Type: enum.CurrencyTypeFiat}
	EUR  = Currency{Code: "EUR", Precision: 2, ISO4217: 978, Name: "Euro", Type: enum.CurrencyTypeFiat}
	GBP  = Currency{Code: "GBP", Precision: 2, ISO4217: 826, Name: "British pound", Type: enum.CurrencyTypeFiat}
	JPY  = Currency{Code: "JPY", Precision: 0, ISO4217: 392, Name: "Japanese yen", Type: enum.CurrencyTypeFiat}
	BTC  = Currency{Code: "BTC", Precision: 8, Name: "Bitcoin", Type: enum.CurrencyTypeCrypto}
	ETH  = Currency{Code: "ETH", Precision: 8, Name: "Ether", Type: enum.CurrencyTypeCrypto}
	BNB  = Currency{Code: "BNB", Precision: 8, Name: "Binance Coin", Type: enum.CurrencyTypeCrypto}
	SOL  = Currency{Code: "SOL", Precision: 8, Name: "Solana", Type: enum.CurrencyTypeCrypto}
	USDT = Currency{Code: "USDT", Precision: 8, Name: "Tether", Type: enum.CurrencyTypeCrypto}
	USDC = Currency{Code: "USDC", Precision: 8, Name: "USD Coin", Type: enum.CurrencyTypeCrypto}
	XAU  = Currency{Code: "XAU", Precision: 2, ISO4217: 959, Name: "Gold", Type: enum.CurrencyTypeCommodity}
)

// currencies is the process-wide registry. It is populated before the node
// starts and afterwards only changes through RegisterCurrency.
var currencies = struct {
	mu sync.RWMutex
	m  map[string]Currency
}{m: map[string]Currency{}}

func init() {
	for _, c := range []Currency{USD, EUR, GBP, JPY, BTC, ETH, BNB, SOL, USDT, USDC, XAU} {
		currencies.m[c.Code] = c
	}
}

// RegisterCurrency adds c. An existing code is only replaced when overwrite
// is set.
func RegisterCurrency(c Currency, overwrite bool) error {
	if c.Code == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "empty currency code")
	}
	if err := checkPrecision(c.Precision); err != nil {
		return err
	}
	currencies.mu.Lock()
	defer currencies.mu.Unlock()
	if _, ok := currencies.m[c.Code]; ok && !overwrite {
		return errors.Wrapf(exception.ErrCurrencyExists, "code: %s", c.Code)
	}
	currencies.m[c.Code] = c
	return nil
}

// CurrencyFromCode looks up a registered currency.
func CurrencyFromCode(code string) (Currency, error) {
	currencies.mu.RLock()
	c, ok := currencies.m[strings.ToUpper(code)]
	currencies.mu.RUnlock()
	if !ok {
		return Currency{}, errors.Wrapf(exception.ErrCurrencyUnknown, "code: %s", code)
	}
	return c, nil
}

// Currencies returns a copy of the registry.
func Currencies() []Currency {
	currencies.mu.RLock()
	defer currencies.mu.RUnlock()
	out := make([]Currency, 0, len(currencies.m))
	for _, c := range currencies.m {
		out = append(out, c)
	}
	return out
}
