package codec

// FrameKind tags a binary frame. A frame is one kind byte followed by the
// fixed-size payload of that kind.
type FrameKind uint8

const (
	_frame_kind_beg FrameKind = iota
	FrameDepth10
	FrameDelta
	FrameFill
	_frame_kind_end
)

func (k FrameKind) IsAvailable() bool {
	return k > _frame_kind_beg && k < _frame_kind_end
}

// PayloadSize returns the payload length of the kind, zero when unknown.
func (k FrameKind) PayloadSize() int {
	switch k {
	case FrameDepth10:
		return Depth10PayloadSize
	case FrameDelta:
		return DeltaPayloadSize
	case FrameFill:
		return FillPayloadSize
	default:
		return 0
	}
}

func (k FrameKind) String() string {
	switch k {
	case FrameDepth10:
		return "depth10"
	case FrameDelta:
		return "delta"
	case FrameFill:
		return "fill"
	default:
		return "unknown"
	}
}

// AppendFrame appends the kind byte and payload to dst.
func AppendFrame(dst []byte, kind FrameKind, payload []byte) []byte {
	dst = append(dst, byte(kind))
	return append(dst, payload...)
}

// SplitFrame returns the kind and payload of a frame. ok is false when the
// length does not match the kind; an unknown kind is returned with ok true
// and a nil payload so callers can classify it.
func SplitFrame(src []byte) (kind FrameKind, payload []byte, ok bool) {
	if len(src) == 0 {
		return 0, nil, false
	}
	kind = FrameKind(src[0])
	if !kind.IsAvailable() {
		return kind, nil, true
	}
	if len(src)-1 != kind.PayloadSize() {
		return kind, nil, false
	}
	return kind, src[1:], true
}
