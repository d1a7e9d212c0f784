package codec

import (
	"encoding/binary"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

const (
	DeltaPayloadSize   = 56
	Depth10PayloadSize = depthHeaderSize + 2*model.DepthLevels*depthLevelSize

	depthHeaderSize = 32
	depthLevelSize  = 24
)

func packPrecision(price, size uint8) byte { return price<<4 | size&0x0f }

func unpackPrecision(b byte) (uint8, uint8, bool) {
	price, size := b>>4, b&0x0f
	return price, size, price <= model.FixedPrecision && size <= model.FixedPrecision
}

// EncodeDelta serializes a book delta into a fixed-size payload.
func EncodeDelta(dst []byte, code model.InstrumentCode, d model.OrderBookDelta) []byte {
	if cap(dst) < DeltaPayloadSize {
		dst = make([]byte, DeltaPayloadSize)
	} else {
		dst = dst[:DeltaPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], uint32(code))
	dst[4] = byte(d.Action)
	dst[5] = byte(d.Order.Side)
	dst[6] = d.Flags
	dst[7] = packPrecision(d.Order.Price.Precision, d.Order.Size.Precision)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(d.Order.Price.Raw))
	binary.LittleEndian.PutUint64(dst[16:24], d.Order.Size.Raw)
	binary.LittleEndian.PutUint64(dst[24:32], d.Order.OrderID)
	binary.LittleEndian.PutUint64(dst[32:40], d.Sequence)
	binary.LittleEndian.PutUint64(dst[40:48], uint64(d.TsEvent))
	binary.LittleEndian.PutUint64(dst[48:56], uint64(d.TsInit))

	return dst
}

// DecodeDelta parses a fixed-size delta payload. The instrument id is left
// for the caller to resolve from the returned code.
func DecodeDelta(src []byte) (model.InstrumentCode, model.OrderBookDelta, bool) {
	if len(src) < DeltaPayloadSize {
		return 0, model.OrderBookDelta{}, false
	}
	pricePrec, sizePrec, ok := unpackPrecision(src[7])
	if !ok {
		return 0, model.OrderBookDelta{}, false
	}
	return model.InstrumentCode(binary.LittleEndian.Uint32(src[0:4])), model.OrderBookDelta{
		Action: enum.BookAction(src[4]),
		Order: model.BookOrder{
			Side:    enum.OrderSide(src[5]),
			Price:   model.Price{Raw: int64(binary.LittleEndian.Uint64(src[8:16])), Precision: pricePrec},
			Size:    model.Quantity{Raw: binary.LittleEndian.Uint64(src[16:24]), Precision: sizePrec},
			OrderID: binary.LittleEndian.Uint64(src[24:32]),
		},
		Flags:    src[6],
		Sequence: binary.LittleEndian.Uint64(src[32:40]),
		TsEvent:  int64(binary.LittleEndian.Uint64(src[40:48])),
		TsInit:   int64(binary.LittleEndian.Uint64(src[48:56])),
	}, true
}

// EncodeDepth10 serializes a ten level snapshot into a fixed-size payload.
// Levels are written bids first, best level first.
func EncodeDepth10(dst []byte, code model.InstrumentCode, d model.OrderBookDepth10) []byte {
	if cap(dst) < Depth10PayloadSize {
		dst = make([]byte, Depth10PayloadSize)
	} else {
		dst = dst[:Depth10PayloadSize]
	}
	clear(dst)

	binary.LittleEndian.PutUint32(dst[0:4], uint32(code))
	dst[4] = d.Flags
	binary.LittleEndian.PutUint64(dst[8:16], d.Sequence)
	binary.LittleEndian.PutUint64(dst[16:24], uint64(d.TsEvent))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(d.TsInit))

	off := depthHeaderSize
	for i := range model.DepthLevels {
		putLevel(dst[off:off+depthLevelSize], d.Bids[i], d.BidCounts[i])
		off += depthLevelSize
	}
	for i := range model.DepthLevels {
		putLevel(dst[off:off+depthLevelSize], d.Asks[i], d.AskCounts[i])
		off += depthLevelSize
	}
	return dst
}

func putLevel(dst []byte, o model.BookOrder, count uint32) {
	binary.LittleEndian.PutUint64(dst[0:8], uint64(o.Price.Raw))
	binary.LittleEndian.PutUint64(dst[8:16], o.Size.Raw)
	binary.LittleEndian.PutUint32(dst[16:20], count)
	dst[20] = byte(o.Side)
	dst[21] = packPrecision(o.Price.Precision, o.Size.Precision)
}

func level(src []byte) (model.BookOrder, uint32, bool) {
	pricePrec, sizePrec, ok := unpackPrecision(src[21])
	return model.BookOrder{
		Side:  enum.OrderSide(src[20]),
		Price: model.Price{Raw: int64(binary.LittleEndian.Uint64(src[0:8])), Precision: pricePrec},
		Size:  model.Quantity{Raw: binary.LittleEndian.Uint64(src[8:16]), Precision: sizePrec},
	}, binary.LittleEndian.Uint32(src[16:20]), ok
}

// DecodeDepth10 parses a fixed-size depth payload.
func DecodeDepth10(src []byte) (model.InstrumentCode, model.OrderBookDepth10, bool) {
	if len(src) < Depth10PayloadSize {
		return 0, model.OrderBookDepth10{}, false
	}
	d := model.OrderBookDepth10{
		Flags:    src[4],
		Sequence: binary.LittleEndian.Uint64(src[8:16]),
		TsEvent:  int64(binary.LittleEndian.Uint64(src[16:24])),
		TsInit:   int64(binary.LittleEndian.Uint64(src[24:32])),
	}
	var ok bool
	off := depthHeaderSize
	for i := range model.DepthLevels {
		if d.Bids[i], d.BidCounts[i], ok = level(src[off : off+depthLevelSize]); !ok {
			return 0, model.OrderBookDepth10{}, false
		}
		off += depthLevelSize
	}
	for i := range model.DepthLevels {
		if d.Asks[i], d.AskCounts[i], ok = level(src[off : off+depthLevelSize]); !ok {
			return 0, model.OrderBookDepth10{}, false
		}
		off += depthLevelSize
	}
	return model.InstrumentCode(binary.LittleEndian.Uint32(src[0:4])), d, true
}
