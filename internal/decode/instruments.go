package decode

import (
	"sort"
	"strings"
	"sync"

	"tradecore/internal/model"
)

// Instruments resolves venue raw symbols for one venue.
type Instruments struct {
	venue    model.Venue
	mu       sync.RWMutex
	bySymbol map[string]model.Instrument
}

func NewInstruments(venue model.Venue, list ...model.Instrument) *Instruments {
	s := &Instruments{venue: venue, bySymbol: make(map[string]model.Instrument, len(list))}
	for _, inst := range list {
		s.Add(inst)
	}
	return s
}

func (s *Instruments) Venue() model.Venue { return s.venue }

// Add registers an instrument of this venue; others are ignored.
func (s *Instruments) Add(inst model.Instrument) bool {
	if inst.ID.Venue != s.venue {
		return false
	}
	raw := string(inst.RawSymbol)
	if raw == "" {
		raw = string(inst.ID.Symbol)
	}
	s.mu.Lock()
	s.bySymbol[strings.ToUpper(raw)] = inst
	s.mu.Unlock()
	return true
}

func (s *Instruments) Lookup(raw string) (model.Instrument, bool) {
	s.mu.RLock()
	inst, ok := s.bySymbol[strings.ToUpper(raw)]
	s.mu.RUnlock()
	return inst, ok
}

// Resolve is Lookup returning an UnknownSymbol error.
func (s *Instruments) Resolve(raw string) (model.Instrument, error) {
	inst, ok := s.Lookup(raw)
	if !ok {
		return model.Instrument{}, UnknownSymbol(raw)
	}
	return inst, nil
}

// All returns the registered instruments ordered by raw symbol.
func (s *Instruments) All() []model.Instrument {
	s.mu.RLock()
	out := make([]model.Instrument, 0, len(s.bySymbol))
	for _, inst := range s.bySymbol {
		out = append(out, inst)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RawSymbol < out[j].RawSymbol })
	return out
}
