// Package recorder persists raw venue frames into checksummed segment files
// and reads them back for decoder tests and replay.
package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/yanun0323/errors"

	"tradecore/internal/model"
	"tradecore/pkg/exception"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 48
	recordChecksumSize        = 4
	sourceSize                = 16
)

var (
	recordMagic = [4]byte{'T', 'C', 'F', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

// FrameKind is the wire format of a recorded frame.
type FrameKind uint8

const (
	_frame_kind_beg FrameKind = iota
	FrameJSON
	FrameFIX
	FrameBinary
	// FrameSnapshot is a REST depth snapshot body; Symbol names the book.
	FrameSnapshot
	_frame_kind_end
)

func (k FrameKind) IsAvailable() bool {
	return k > _frame_kind_beg && k < _frame_kind_end
}

func (k FrameKind) String() string {
	switch k {
	case FrameJSON:
		return "json"
	case FrameFIX:
		return "fix"
	case FrameBinary:
		return "binary"
	case FrameSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Frame is one recorded message as it arrived from a venue.
type Frame struct {
	Source model.Venue
	Kind   FrameKind
	Flags  uint8
	Seq    uint64
	TsRecv int64
	// Symbol is only set for snapshot frames and travels in the payload
	// prefix.
	Symbol  string
	Payload []byte
}

func encodeHeader(dst []byte, f Frame, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	clear(dst[:recordHeaderSize])
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	copy(dst[8:8+sourceSize], f.Source)
	dst[24] = byte(f.Kind)
	dst[25] = f.Flags
	binary.LittleEndian.PutUint32(dst[28:32], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[32:40], f.Seq)
	binary.LittleEndian.PutUint64(dst[40:48], uint64(f.TsRecv))
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeHeader(src []byte) (Frame, uint32, error) {
	if len(src) < recordHeaderSize {
		return Frame{}, 0, exception.ErrRecorderHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return Frame{}, 0, exception.ErrRecorderMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return Frame{}, 0, errors.Wrapf(exception.ErrRecorderVersion, "version %d", ver)
	}
	if size := binary.LittleEndian.Uint16(src[6:8]); size != recordHeaderSize {
		return Frame{}, 0, errors.Wrapf(exception.ErrRecorderHeaderSize, "size %d", size)
	}
	f := Frame{
		Source: model.Venue(bytes.TrimRight(src[8:8+sourceSize], "\x00")),
		Kind:   FrameKind(src[24]),
		Flags:  src[25],
		Seq:    binary.LittleEndian.Uint64(src[32:40]),
		TsRecv: int64(binary.LittleEndian.Uint64(src[40:48])),
	}
	return f, binary.LittleEndian.Uint32(src[28:32]), nil
}

// payloadOf prefixes snapshot payloads with their symbol.
func payloadOf(f Frame) []byte {
	if f.Kind != FrameSnapshot {
		return f.Payload
	}
	out := make([]byte, 0, 1+len(f.Symbol)+len(f.Payload))
	out = append(out, byte(len(f.Symbol)))
	out = append(out, f.Symbol...)
	return append(out, f.Payload...)
}

func splitSymbol(f *Frame) error {
	if f.Kind != FrameSnapshot {
		return nil
	}
	if len(f.Payload) == 0 || int(f.Payload[0])+1 > len(f.Payload) {
		return errors.Wrap(exception.ErrRecorderHeaderSize, "snapshot symbol prefix")
	}
	n := int(f.Payload[0])
	f.Symbol = string(f.Payload[1 : 1+n])
	f.Payload = f.Payload[1+n:]
	return nil
}
