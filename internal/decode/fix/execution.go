package fix

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/decode"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

var ordStatuses = map[string]enum.OrderStatus{
	"0": enum.OrderStatusAccepted,
	"1": enum.OrderStatusPartiallyFilled,
	"2": enum.OrderStatusFilled,
	"4": enum.OrderStatusCanceled,
	"6": enum.OrderStatusPendingCancel,
	"8": enum.OrderStatusRejected,
	"A": enum.OrderStatusSubmitted,
	"C": enum.OrderStatusExpired,
	"E": enum.OrderStatusPendingUpdate,
}

var ordTypes = map[string]enum.OrderType{
	"1": enum.OrderTypeMarket,
	"2": enum.OrderTypeLimit,
	"3": enum.OrderTypeStopMarket,
	"4": enum.OrderTypeStopLimit,
	"J": enum.OrderTypeMarketIfTouched,
}

var timeInForces = map[string]enum.TimeInForce{
	"0": enum.TimeInForceDay,
	"1": enum.TimeInForceGTC,
	"3": enum.TimeInForceIOC,
	"4": enum.TimeInForceFOK,
	"6": enum.TimeInForceGTD,
}

// isTrade covers ExecType Trade (4.4) and Partial fill / Fill (4.2).
func isTrade(execType string) bool {
	return execType == "F" || execType == "1" || execType == "2"
}

func (s *Session) timestamp(v string) int64 {
	for _, layout := range []string{"20060102-15:04:05.000000000", "20060102-15:04:05.000000", sendingTimeLayout, "20060102-15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UnixNano()
		}
	}
	return s.clock.Now()
}

func (s *Session) executionReport(m *Message) (decode.Event, error) {
	get := func(tag int) string {
		v, _ := m.Get(tag)
		return v
	}

	inst, err := s.instruments.Resolve(get(TagSymbol))
	if err != nil {
		return decode.Event{}, err
	}
	status, ok := ordStatuses[get(TagOrdStatus)]
	if !ok {
		return decode.Event{}, decode.Unsupported("fix OrdStatus %s", get(TagOrdStatus))
	}
	side, ok := enum.ParseOrderSide(get(TagSide))
	if !ok {
		return decode.Event{}, decode.Malformed("fix Side %q", get(TagSide))
	}
	orderType, ok := ordTypes[get(TagOrdType)]
	if !ok {
		orderType = enum.OrderTypeLimit
	}
	tif, ok := timeInForces[get(TagTimeInForce)]
	if !ok {
		tif = enum.TimeInForceGTC
	}
	qty, err := decode.Quantity(get(TagOrderQty), inst.SizePrecision, "OrderQty")
	if err != nil {
		return decode.Event{}, err
	}
	cum, err := decode.Quantity(orDefault(get(TagCumQty), "0"), inst.SizePrecision, "CumQty")
	if err != nil {
		return decode.Event{}, err
	}

	tsInit := s.clock.Now()
	tsEvent := s.timestamp(get(TagTransactTime))
	account := model.AccountID(get(TagAccount))
	if account == "" {
		account = model.AccountID(s.cfg.Account)
	}
	clientID := get(TagClOrdID)
	if orig := get(TagOrigClOrdID); orig != "" && status == enum.OrderStatusCanceled {
		clientID = orig
	}
	report := model.OrderStatusReport{
		ReportID:      model.NewReportID(),
		AccountID:     account,
		InstrumentID:  inst.ID,
		ClientOrderID: model.ClientOrderID(clientID),
		VenueOrderID:  model.VenueOrderID(get(TagOrderID)),
		Side:          side,
		Type:          orderType,
		TimeInForce:   tif,
		Status:        status,
		Quantity:      qty,
		FilledQty:     cum,
		CancelReason:  get(TagText),
		TsAccepted:    tsEvent,
		TsLast:        tsEvent,
		TsInit:        tsInit,
	}
	if v := get(TagPrice); v != "" {
		p, err := decode.Price(v, inst.PricePrecision, "Price")
		if err != nil {
			return decode.Event{}, err
		}
		report.Price = &p
	}
	if v := get(TagStopPx); v != "" {
		p, err := decode.Price(v, inst.PricePrecision, "StopPx")
		if err != nil {
			return decode.Event{}, err
		}
		report.TriggerPrice = &p
	}
	if v := get(TagAvgPx); v != "" && cum.IsPositive() {
		avg, err := decimal.NewFromString(v)
		if err != nil {
			return decode.Event{}, decode.MalformedErr(err, "AvgPx")
		}
		report.AvgPx = &avg
	}

	reports := []model.ExecutionReport{{Kind: model.ReportOrderStatus, Order: &report}}
	if isTrade(get(TagExecType)) {
		fill := model.FillReport{
			ReportID:      model.NewReportID(),
			AccountID:     account,
			InstrumentID:  inst.ID,
			ClientOrderID: report.ClientOrderID,
			VenueOrderID:  report.VenueOrderID,
			TradeID:       model.TradeID(get(TagExecID)),
			Side:          side,
			LiquiditySide: enum.LiquiditySideTaker,
			TsEvent:       tsEvent,
			TsInit:        tsInit,
		}
		if get(TagLastLiquidityInd) == "1" {
			fill.LiquiditySide = enum.LiquiditySideMaker
		}
		if fill.LastQty, err = decode.Quantity(get(TagLastQty), inst.SizePrecision, "LastQty"); err != nil {
			return decode.Event{}, err
		}
		if fill.LastPx, err = decode.Price(get(TagLastPx), inst.PricePrecision, "LastPx"); err != nil {
			return decode.Event{}, err
		}
		if fill.Commission, err = commission(inst, get(TagCommission), get(TagCurrency)); err != nil {
			return decode.Event{}, err
		}
		reports = append(reports, model.ExecutionReport{Kind: model.ReportFill, Fill: &fill})
	}
	return decode.Event{Kind: decode.EventReport, Reports: reports}, nil
}

func commission(inst model.Instrument, amount, code string) (model.Money, error) {
	ccy := inst.QuoteCurrency
	if code != "" {
		if c, err := model.CurrencyFromCode(code); err == nil {
			ccy = c
		}
	}
	if amount == "" {
		return model.MoneyFromRaw(0, ccy), nil
	}
	n, err := decimal.NewFromString(amount)
	if err != nil {
		return model.Money{}, decode.MalformedErr(err, "Commission")
	}
	m, err := model.MoneyFromDecimal(n, ccy)
	if err != nil {
		return model.Money{}, decode.OutOfRange(err, "Commission")
	}
	return m, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
