package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/yanun0323/errors"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

const (
	FillPayloadSize = 104

	idFieldSize       = 24
	currencyFieldSize = 8
)

// EncodeFill serializes a fill report into a fixed-size payload. Trade and
// venue order ids longer than 24 bytes do not fit.
func EncodeFill(dst []byte, code model.InstrumentCode, fill model.FillReport) ([]byte, error) {
	if len(fill.TradeID) > idFieldSize || len(fill.VenueOrderID) > idFieldSize {
		return nil, errors.Wrapf(exception.ErrBuffTooSmall, "fill %s ids", fill.TradeID)
	}
	if len(fill.Commission.Currency.Code) > currencyFieldSize {
		return nil, errors.Wrapf(exception.ErrBuffTooSmall, "fill %s currency", fill.TradeID)
	}
	if cap(dst) < FillPayloadSize {
		dst = make([]byte, FillPayloadSize)
	} else {
		dst = dst[:FillPayloadSize]
	}
	clear(dst)

	binary.LittleEndian.PutUint32(dst[0:4], uint32(code))
	dst[4] = byte(fill.Side)
	dst[5] = byte(fill.LiquiditySide)
	dst[6] = packPrecision(fill.LastPx.Precision, fill.LastQty.Precision)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(fill.LastPx.Raw))
	binary.LittleEndian.PutUint64(dst[16:24], fill.LastQty.Raw)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(fill.Commission.Raw))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(fill.TsEvent))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(fill.TsInit))
	copy(dst[48:72], fill.TradeID)
	copy(dst[72:96], fill.VenueOrderID)
	copy(dst[96:104], fill.Commission.Currency.Code)

	return dst, nil
}

func field(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	return string(src)
}

// DecodeFill parses a fixed-size fill payload. The commission currency must
// be registered.
func DecodeFill(src []byte) (model.InstrumentCode, model.FillReport, bool) {
	if len(src) < FillPayloadSize {
		return 0, model.FillReport{}, false
	}
	pricePrec, sizePrec, ok := unpackPrecision(src[6])
	if !ok {
		return 0, model.FillReport{}, false
	}
	var commission model.Money
	if ccy := field(src[96:104]); ccy != "" {
		c, err := model.CurrencyFromCode(ccy)
		if err != nil {
			return 0, model.FillReport{}, false
		}
		commission = model.MoneyFromRaw(int64(binary.LittleEndian.Uint64(src[24:32])), c)
	}
	return model.InstrumentCode(binary.LittleEndian.Uint32(src[0:4])), model.FillReport{
		TradeID:       model.TradeID(field(src[48:72])),
		VenueOrderID:  model.VenueOrderID(field(src[72:96])),
		Side:          enum.OrderSide(src[4]),
		LiquiditySide: enum.LiquiditySide(src[5]),
		LastPx:        model.Price{Raw: int64(binary.LittleEndian.Uint64(src[8:16])), Precision: pricePrec},
		LastQty:       model.Quantity{Raw: binary.LittleEndian.Uint64(src[16:24]), Precision: sizePrec},
		Commission:    commission,
		TsEvent:       int64(binary.LittleEndian.Uint64(src[32:40])),
		TsInit:        int64(binary.LittleEndian.Uint64(src[40:48])),
	}, true
}
