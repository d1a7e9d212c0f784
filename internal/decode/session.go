package decode

import (
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const defaultMaxMalformed = 3

// Session applies the per-connection error policy around a Decoder. A
// Session belongs to one connection and is not safe for concurrent use.
type Session struct {
	name         string
	dec          Decoder
	metrics      *obs.Metrics
	clock        clock.Clock
	maxMalformed int
	malformed    int
	warned       map[string]struct{}
}

type SessionOption func(*Session)

func WithMetrics(m *obs.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

func WithClock(c clock.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// WithMaxMalformed sets how many consecutive malformed frames end the
// session.
func WithMaxMalformed(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxMalformed = n
		}
	}
}

func NewSession(name string, dec Decoder, opts ...SessionOption) *Session {
	s := &Session{
		name:         name,
		dec:          dec,
		clock:        clock.Real(),
		maxMalformed: defaultMaxMalformed,
		warned:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Name() string { return s.name }

// Decode returns the event of a frame and true, or false when the frame was
// dropped. The only error is ConnectionLost after too many consecutive
// malformed frames; the caller must reconnect and call Reset.
func (s *Session) Decode(frame []byte) (Event, bool, error) {
	start := s.clock.Now()
	ev, err := s.dec.Decode(frame)
	s.metrics.Since(obs.LatencyDecode, start, s.clock.Now())
	if err == nil {
		s.malformed = 0
		s.metrics.Inc(obs.CounterDecodeOK)
		return ev, true, nil
	}

	class := ClassOf(err)
	if !class.IsAvailable() {
		class = ClassMalformed
	}
	switch class {
	case ClassMalformed:
		s.metrics.Inc(obs.CounterDecodeMalformed)
		s.malformed++
		logs.Errorf("decode %s: drop malformed frame (%d/%d), err: %+v", s.name, s.malformed, s.maxMalformed, err)
		if s.malformed >= s.maxMalformed {
			s.malformed = 0
			return Event{}, false, exception.ConnectionLost(s.name + ": consecutive malformed frames")
		}
		return Event{}, false, nil
	case ClassUnknownSymbol:
		s.malformed = 0
		s.metrics.Inc(obs.CounterDecodeUnknownSymbol)
		sym := symbolOf(err)
		if _, ok := s.warned[sym]; !ok {
			s.warned[sym] = struct{}{}
			logs.Warnf("decode %s: unknown symbol %s, further frames dropped silently", s.name, sym)
		}
		return Event{}, false, nil
	case ClassUnsupported:
		s.malformed = 0
		s.metrics.Inc(obs.CounterDecodeUnsupported)
		logs.Debugf("decode %s: unsupported frame, err: %+v", s.name, err)
		return Event{}, false, nil
	default:
		s.malformed = 0
		s.metrics.Inc(obs.CounterDecodeOutOfRange)
		logs.Errorf("decode %s: drop out of range frame, err: %+v", s.name, err)
		return Event{}, false, nil
	}
}

// Reset clears the malformed streak and the warned symbols after a
// reconnect.
func (s *Session) Reset() {
	s.malformed = 0
	clear(s.warned)
}

func symbolOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Symbol
	}
	return ""
}
