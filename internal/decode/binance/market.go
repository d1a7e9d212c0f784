package binance

import (
	"strconv"

	"tradecore/internal/decode"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

type trade struct {
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

func (d *Decoder) decodeTrade(frame []byte) (decode.Event, error) {
	var msg trade
	if err := api.Unmarshal(frame, &msg); err != nil {
		return decode.Event{}, decode.MalformedErr(err, "trade")
	}
	inst, err := d.instruments.Resolve(msg.Symbol)
	if err != nil {
		return decode.Event{}, err
	}
	px, err := decode.Price(msg.Price, inst.PricePrecision, "trade price")
	if err != nil {
		return decode.Event{}, err
	}
	qty, err := decode.Quantity(msg.Quantity, inst.SizePrecision, "trade size")
	if err != nil {
		return decode.Event{}, err
	}
	aggressor := enum.OrderSideBuy
	if msg.BuyerIsMaker {
		aggressor = enum.OrderSideSell
	}
	ts := msg.TradeTime
	if ts == 0 {
		ts = msg.EventTime
	}
	return decode.Event{Kind: decode.EventTrade, Trade: &model.TradeTick{
		InstrumentID:  inst.ID,
		Price:         px,
		Size:          qty,
		AggressorSide: aggressor,
		TradeID:       model.TradeID(strconv.FormatInt(msg.TradeID, 10)),
		TsEvent:       msToNanos(ts),
		TsInit:        d.clock.Now(),
	}}, nil
}

type bookTicker struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	BidPrice  string `json:"b"`
	BidSize   string `json:"B"`
	AskPrice  string `json:"a"`
	AskSize   string `json:"A"`
}

func (d *Decoder) decodeBookTicker(frame []byte) (decode.Event, error) {
	var msg bookTicker
	if err := api.Unmarshal(frame, &msg); err != nil {
		return decode.Event{}, decode.MalformedErr(err, "bookTicker")
	}
	if msg.Symbol == "" {
		return decode.Event{}, decode.Malformed("bookTicker without symbol")
	}
	inst, err := d.instruments.Resolve(msg.Symbol)
	if err != nil {
		return decode.Event{}, err
	}
	q := model.QuoteTick{InstrumentID: inst.ID, TsInit: d.clock.Now()}
	q.TsEvent = msToNanos(msg.EventTime)
	if q.TsEvent == 0 {
		q.TsEvent = q.TsInit
	}
	if q.BidPrice, err = decode.Price(msg.BidPrice, inst.PricePrecision, "bid price"); err != nil {
		return decode.Event{}, err
	}
	if q.AskPrice, err = decode.Price(msg.AskPrice, inst.PricePrecision, "ask price"); err != nil {
		return decode.Event{}, err
	}
	if q.BidSize, err = decode.Quantity(msg.BidSize, inst.SizePrecision, "bid size"); err != nil {
		return decode.Event{}, err
	}
	if q.AskSize, err = decode.Quantity(msg.AskSize, inst.SizePrecision, "ask size"); err != nil {
		return decode.Event{}, err
	}
	return decode.Event{Kind: decode.EventQuote, Quote: &q}, nil
}

type kline struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		Start    int64  `json:"t"`
		Close    int64  `json:"T"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		ClosePx  string `json:"c"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

var intervals = map[string]string{
	"1s": "1-SECOND", "1m": "1-MINUTE", "3m": "3-MINUTE", "5m": "5-MINUTE",
	"15m": "15-MINUTE", "30m": "30-MINUTE", "1h": "1-HOUR", "2h": "2-HOUR",
	"4h": "4-HOUR", "6h": "6-HOUR", "8h": "8-HOUR", "12h": "12-HOUR",
	"1d": "1-DAY", "3d": "3-DAY", "1w": "1-WEEK", "1M": "1-MONTH",
}

// decodeKline emits closed intervals only.
func (d *Decoder) decodeKline(frame []byte) (decode.Event, error) {
	var msg kline
	if err := api.Unmarshal(frame, &msg); err != nil {
		return decode.Event{}, decode.MalformedErr(err, "kline")
	}
	if !msg.Kline.Closed {
		return decode.Event{}, decode.Unsupported("open kline %s", msg.Symbol)
	}
	step, ok := intervals[msg.Kline.Interval]
	if !ok {
		return decode.Event{}, decode.Unsupported("kline interval %s", msg.Kline.Interval)
	}
	inst, err := d.instruments.Resolve(msg.Symbol)
	if err != nil {
		return decode.Event{}, err
	}
	bar := model.Bar{
		InstrumentID: inst.ID,
		Spec:         step + "-LAST",
		TsEvent:      msToNanos(msg.Kline.Close),
		TsInit:       d.clock.Now(),
	}
	for _, f := range []struct {
		dst *model.Price
		src string
	}{{&bar.Open, msg.Kline.Open}, {&bar.High, msg.Kline.High}, {&bar.Low, msg.Kline.Low}, {&bar.Close, msg.Kline.ClosePx}} {
		if *f.dst, err = decode.Price(f.src, inst.PricePrecision, "kline price"); err != nil {
			return decode.Event{}, err
		}
	}
	if bar.Volume, err = decode.Quantity(msg.Kline.Volume, inst.SizePrecision, "kline volume"); err != nil {
		return decode.Event{}, err
	}
	return decode.Event{Kind: decode.EventBar, Bar: &bar}, nil
}
