// Package decode turns venue frames into internal data and report types.
// Venue decoders live in subpackages; Session wraps any of them with the
// per-connection error policy.
package decode

import "tradecore/internal/model"

// EventKind tags Event.
type EventKind uint8

const (
	_event_kind_beg EventKind = iota
	EventDeltas
	EventDepth
	EventQuote
	EventTrade
	EventBar
	EventInstrument
	EventReport
	EventReject
	EventHeartbeat
	// EventControl carries session traffic the caller must answer, such as
	// a FIX test request or resend request.
	EventControl
	_event_kind_end
)

func (k EventKind) IsAvailable() bool {
	return k > _event_kind_beg && k < _event_kind_end
}

func (k EventKind) String() string {
	switch k {
	case EventDeltas:
		return "deltas"
	case EventDepth:
		return "depth"
	case EventQuote:
		return "quote"
	case EventTrade:
		return "trade"
	case EventBar:
		return "bar"
	case EventInstrument:
		return "instrument"
	case EventReport:
		return "report"
	case EventReject:
		return "reject"
	case EventHeartbeat:
		return "heartbeat"
	case EventControl:
		return "control"
	default:
		return "unknown"
	}
}

// Event is the decoded form of one frame. Only the field matching Kind is
// set.
type Event struct {
	Kind       EventKind
	Deltas     []model.OrderBookDelta
	Depth      *model.OrderBookDepth10
	Quote      *model.QuoteTick
	Trade      *model.TradeTick
	Bar        *model.Bar
	Instrument *model.Instrument
	Reports    []model.ExecutionReport
	Reject     *Reject
	Control    *Control
}

// Reject is a venue refusal of an earlier request.
type Reject struct {
	Venue model.Venue
	// RefID is the request or client order id the venue refers to.
	RefID string
	// RefSeq is the referenced session sequence number, zero when absent.
	RefSeq uint64
	Code   string
	Reason string
}

// Control is session traffic that needs a reply.
type Control struct {
	// Reply is the encoded frame to send back, ready for the wire.
	Reply []byte
	// Note describes the control for logs.
	Note string
}

// Decoder turns one frame into an event.
type Decoder interface {
	Decode(frame []byte) (Event, error)
}

// DecoderFunc adapts a plain function.
type DecoderFunc func(frame []byte) (Event, error)

func (f DecoderFunc) Decode(frame []byte) (Event, error) { return f(frame) }
