package enum

// InstrumentKind tags the instrument union.
type InstrumentKind uint8

const (
	_instrument_kind_beg InstrumentKind = iota
	InstrumentCurrencyPair
	InstrumentCryptoPerpetual
	InstrumentCryptoFuture
	InstrumentEquity
	InstrumentFuture
	InstrumentOption
	InstrumentBetting
	_instrument_kind_end
)

func (k InstrumentKind) IsAvailable() bool {
	return k > _instrument_kind_beg && k < _instrument_kind_end
}

func (k InstrumentKind) String() string {
	switch k {
	case InstrumentCurrencyPair:
		return "CURRENCY_PAIR"
	case InstrumentCryptoPerpetual:
		return "CRYPTO_PERPETUAL"
	case InstrumentCryptoFuture:
		return "CRYPTO_FUTURE"
	case InstrumentEquity:
		return "EQUITY"
	case InstrumentFuture:
		return "FUTURE"
	case InstrumentOption:
		return "OPTION"
	case InstrumentBetting:
		return "BETTING"
	default:
		return "UNKNOWN"
	}
}

// ParseInstrumentKind reads the String form.
func ParseInstrumentKind(s string) (InstrumentKind, bool) {
	for k := _instrument_kind_beg + 1; k < _instrument_kind_end; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return _instrument_kind_beg, false
}

// OptionKind call, put
type OptionKind uint8

const (
	_option_kind_beg OptionKind = iota
	OptionKindCall
	OptionKindPut
	_option_kind_end
)

func (k OptionKind) IsAvailable() bool {
	return k > _option_kind_beg && k < _option_kind_end
}

// CurrencyType fiat, crypto, commodity
type CurrencyType uint8

const (
	_currency_type_beg CurrencyType = iota
	CurrencyTypeFiat
	CurrencyTypeCrypto
	CurrencyTypeCommodity
	_currency_type_end
)

func (t CurrencyType) IsAvailable() bool {
	return t > _currency_type_beg && t < _currency_type_end
}

// AccountType cash, margin, betting
type AccountType uint8

const (
	_account_type_beg AccountType = iota
	AccountTypeCash
	AccountTypeMargin
	AccountTypeBetting
	_account_type_end
)

func (t AccountType) IsAvailable() bool {
	return t > _account_type_beg && t < _account_type_end
}
