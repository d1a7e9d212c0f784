package model

import (
	"sync"

	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

// VenueCode is the numeric identifier of a registered venue, used in
// compact binary frames.
type VenueCode uint16

// InstrumentCode is the numeric identifier of a registered instrument, used
// in compact binary frames.
type InstrumentCode uint32

// Registry maps venue short codes and instrument ids onto compact numeric
// codes. Registration is additive; lookups are safe for concurrent use.
type Registry struct {
	mu               sync.RWMutex
	venues           []Venue
	instruments      []InstrumentID
	venueByName      map[Venue]VenueCode
	instrumentByName map[InstrumentID]InstrumentCode
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		venueByName:      make(map[Venue]VenueCode),
		instrumentByName: make(map[InstrumentID]InstrumentCode),
	}
}

// AddVenue registers a venue. Re-registering returns the existing code.
func (r *Registry) AddVenue(venue Venue) (VenueCode, error) {
	if !venue.IsValid() {
		return 0, errors.Wrapf(exception.ErrInvalidArgument, "venue: %q", venue)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.venueByName[venue]; ok {
		return code, nil
	}
	code := VenueCode(len(r.venues) + 1)
	r.venues = append(r.venues, venue)
	r.venueByName[venue] = code
	return code, nil
}

// AddInstrument registers an instrument whose venue is already known.
func (r *Registry) AddInstrument(id InstrumentID) (InstrumentCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.venueByName[id.Venue]; !ok {
		return 0, errors.Wrapf(exception.ErrVenueUnknown, "venue: %s", id.Venue)
	}
	if code, ok := r.instrumentByName[id]; ok {
		return code, nil
	}
	code := InstrumentCode(len(r.instruments) + 1)
	r.instruments = append(r.instruments, id)
	r.instrumentByName[id] = code
	return code, nil
}

func (r *Registry) HasVenue(venue Venue) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.venueByName[venue]
	return ok
}

func (r *Registry) VenueCode(venue Venue) (VenueCode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.venueByName[venue]
	return code, ok
}

func (r *Registry) Venue(code VenueCode) (Venue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if code == 0 || int(code) > len(r.venues) {
		return "", false
	}
	return r.venues[code-1], true
}

func (r *Registry) InstrumentCode(id InstrumentID) (InstrumentCode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.instrumentByName[id]
	return code, ok
}

func (r *Registry) Instrument(code InstrumentCode) (InstrumentID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if code == 0 || int(code) > len(r.instruments) {
		return InstrumentID{}, false
	}
	return r.instruments[code-1], true
}

// InstrumentCount returns the number of registered instruments.
func (r *Registry) InstrumentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}

// Venues is the process registry consulted by ParseInstrumentID.
var Venues = NewRegistry()

func init() {
	for _, v := range []Venue{"BINANCE", "BYBIT", "OKX", "BITMEX", "COINBASE", "COINBASE_INTX", "HYPERLIQUID", "BTCC", "SIM"} {
		_, _ = Venues.AddVenue(v)
	}
}
