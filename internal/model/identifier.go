package model

import (
	"strings"

	"github.com/rs/xid"
	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

type (
	Symbol        string
	Venue         string
	ClientOrderID string
	VenueOrderID  string
	TradeID       string
	PositionID    string
	ClientID      string
	AccountID     string
	StrategyID    string
	TraderID      string
	ReportID      string
)

// StrategyExternal owns orders discovered at the venue.
const StrategyExternal StrategyID = "EXTERNAL"

// IsValid checks the [A-Z0-9/_-]+ grammar.
func (s Symbol) IsValid() bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '/', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// IsValid checks the [A-Z0-9_]+ grammar of venue short codes.
func (v Venue) IsValid() bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}

// InstrumentID is the composite (symbol, venue) identifier.
type InstrumentID struct {
	Symbol Symbol
	Venue  Venue
}

func NewInstrumentID(symbol Symbol, venue Venue) InstrumentID {
	return InstrumentID{Symbol: symbol, Venue: venue}
}

// ParseInstrumentID reads SYMBOL.VENUE. The venue must be registered in
// Venues.
func ParseInstrumentID(s string) (InstrumentID, error) {
	idx := strings.LastIndexByte(s, '.')
	if idx <= 0 || idx == len(s)-1 {
		return InstrumentID{}, errors.Wrapf(exception.ErrInstrumentIDSyntax, "input: %q", s)
	}
	id := InstrumentID{Symbol: Symbol(s[:idx]), Venue: Venue(s[idx+1:])}
	if !id.Symbol.IsValid() || !id.Venue.IsValid() {
		return InstrumentID{}, errors.Wrapf(exception.ErrInstrumentIDSyntax, "input: %q", s)
	}
	if !Venues.HasVenue(id.Venue) {
		return InstrumentID{}, errors.Wrapf(exception.ErrVenueUnknown, "input: %q", s)
	}
	return id, nil
}

func MustInstrumentID(s string) InstrumentID {
	id, err := ParseInstrumentID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id InstrumentID) IsZero() bool { return id.Symbol == "" && id.Venue == "" }

func (id InstrumentID) String() string {
	return string(id.Symbol) + "." + string(id.Venue)
}

func (id InstrumentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *InstrumentID) UnmarshalText(b []byte) error {
	v, err := ParseInstrumentID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// NewReportID returns a fresh globally unique report id.
func NewReportID() ReportID {
	return ReportID(xid.New().String())
}

// NewExternalClientOrderID names an order first seen at the venue.
func NewExternalClientOrderID() ClientOrderID {
	return ClientOrderID("O-EXT-" + xid.New().String())
}
