package decode

import (
	"strconv"

	"tradecore/internal/codec"
	"tradecore/internal/model"
)

// Binary decodes the fixed-size frames of internal/codec, resolving
// instrument codes through a registry.
type Binary struct {
	registry *model.Registry
}

func NewBinary(registry *model.Registry) *Binary {
	return &Binary{registry: registry}
}

func (b *Binary) Decode(frame []byte) (Event, error) {
	kind, payload, ok := codec.SplitFrame(frame)
	if !ok {
		return Event{}, Malformed("binary frame of %d bytes", len(frame))
	}
	if !kind.IsAvailable() {
		return Event{}, Unsupported("binary frame kind %d", kind)
	}

	switch kind {
	case codec.FrameDepth10:
		code, depth, ok := codec.DecodeDepth10(payload)
		if !ok {
			return Event{}, Malformed("depth10 payload")
		}
		id, err := b.resolve(code)
		if err != nil {
			return Event{}, err
		}
		depth.InstrumentID = id
		return Event{Kind: EventDepth, Depth: &depth}, nil
	case codec.FrameDelta:
		code, delta, ok := codec.DecodeDelta(payload)
		if !ok {
			return Event{}, Malformed("delta payload")
		}
		if !delta.Action.IsAvailable() {
			return Event{}, Malformed("delta action %d", delta.Action)
		}
		id, err := b.resolve(code)
		if err != nil {
			return Event{}, err
		}
		delta.InstrumentID = id
		return Event{Kind: EventDeltas, Deltas: []model.OrderBookDelta{delta}}, nil
	default:
		code, fill, ok := codec.DecodeFill(payload)
		if !ok {
			return Event{}, Malformed("fill payload")
		}
		id, err := b.resolve(code)
		if err != nil {
			return Event{}, err
		}
		fill.InstrumentID = id
		fill.ReportID = model.NewReportID()
		return Event{Kind: EventReport, Reports: []model.ExecutionReport{{Kind: model.ReportFill, Fill: &fill}}}, nil
	}
}

func (b *Binary) resolve(code model.InstrumentCode) (model.InstrumentID, error) {
	id, ok := b.registry.Instrument(code)
	if !ok {
		return model.InstrumentID{}, UnknownSymbol("#" + strconv.FormatUint(uint64(code), 10))
	}
	return id, nil
}
