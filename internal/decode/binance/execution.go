package binance

import (
	"strconv"

	"github.com/shopspring/decimal"

	"tradecore/internal/decode"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

type executionReport struct {
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	ClientOrderID   string `json:"c"`
	OrigClientID    string `json:"C"`
	Side            string `json:"S"`
	OrderType       string `json:"o"`
	TimeInForce     string `json:"f"`
	Quantity        string `json:"q"`
	Price           string `json:"p"`
	StopPrice       string `json:"P"`
	ExecutionType   string `json:"x"`
	Status          string `json:"X"`
	RejectReason    string `json:"r"`
	OrderID         int64  `json:"i"`
	LastQty         string `json:"l"`
	CumQty          string `json:"z"`
	LastPrice       string `json:"L"`
	Commission      string `json:"n"`
	CommissionAsset string `json:"N"`
	TransactionTime int64  `json:"T"`
	TradeID         int64  `json:"t"`
	IsMaker         bool   `json:"m"`
	CreationTime    int64  `json:"O"`
	CumQuoteQty     string `json:"Z"`
}

var statuses = map[string]enum.OrderStatus{
	"NEW":              enum.OrderStatusAccepted,
	"PARTIALLY_FILLED": enum.OrderStatusPartiallyFilled,
	"FILLED":           enum.OrderStatusFilled,
	"CANCELED":         enum.OrderStatusCanceled,
	"PENDING_CANCEL":   enum.OrderStatusPendingCancel,
	"REJECTED":         enum.OrderStatusRejected,
	"EXPIRED":          enum.OrderStatusExpired,
	"EXPIRED_IN_MATCH": enum.OrderStatusExpired,
}

var orderTypes = map[string]enum.OrderType{
	"LIMIT":             enum.OrderTypeLimit,
	"LIMIT_MAKER":       enum.OrderTypeLimit,
	"MARKET":            enum.OrderTypeMarket,
	"STOP_LOSS":         enum.OrderTypeStopMarket,
	"STOP_MARKET":       enum.OrderTypeStopMarket,
	"STOP_LOSS_LIMIT":   enum.OrderTypeStopLimit,
	"STOP":              enum.OrderTypeStopLimit,
	"TAKE_PROFIT":       enum.OrderTypeMarketIfTouched,
	"TAKE_PROFIT_LIMIT": enum.OrderTypeLimitIfTouched,
}

var timeInForces = map[string]enum.TimeInForce{
	"GTC": enum.TimeInForceGTC,
	"GTX": enum.TimeInForceGTC,
	"IOC": enum.TimeInForceIOC,
	"FOK": enum.TimeInForceFOK,
	"GTD": enum.TimeInForceGTD,
}

// decodeExecutionReport yields an order status report, plus a fill report
// when the execution is a trade.
func (d *Decoder) decodeExecutionReport(frame []byte) (decode.Event, error) {
	var msg executionReport
	if err := api.Unmarshal(frame, &msg); err != nil {
		return decode.Event{}, decode.MalformedErr(err, "executionReport")
	}
	inst, err := d.instruments.Resolve(msg.Symbol)
	if err != nil {
		return decode.Event{}, err
	}
	status, ok := statuses[msg.Status]
	if !ok {
		return decode.Event{}, decode.Unsupported("order status %s", msg.Status)
	}
	side, ok := enum.ParseOrderSide(msg.Side)
	if !ok {
		return decode.Event{}, decode.Malformed("order side %q", msg.Side)
	}
	orderType, ok := orderTypes[msg.OrderType]
	if !ok {
		return decode.Event{}, decode.Unsupported("order type %s", msg.OrderType)
	}
	tif, ok := timeInForces[msg.TimeInForce]
	if !ok {
		tif = enum.TimeInForceGTC
	}

	qty, err := decode.Quantity(msg.Quantity, inst.SizePrecision, "order qty")
	if err != nil {
		return decode.Event{}, err
	}
	filled, err := decode.Quantity(msg.CumQty, inst.SizePrecision, "cum qty")
	if err != nil {
		return decode.Event{}, err
	}

	tsInit := d.clock.Now()
	clientID := msg.ClientOrderID
	if msg.Status == "CANCELED" && msg.OrigClientID != "" {
		clientID = msg.OrigClientID
	}
	report := model.OrderStatusReport{
		ReportID:      model.NewReportID(),
		AccountID:     d.account,
		InstrumentID:  inst.ID,
		ClientOrderID: model.ClientOrderID(clientID),
		VenueOrderID:  model.VenueOrderID(strconv.FormatInt(msg.OrderID, 10)),
		Side:          side,
		Type:          orderType,
		TimeInForce:   tif,
		Status:        status,
		Quantity:      qty,
		FilledQty:     filled,
		PostOnly:      msg.OrderType == "LIMIT_MAKER" || msg.TimeInForce == "GTX",
		CancelReason:  msg.RejectReason,
		TsAccepted:    msToNanos(msg.CreationTime),
		TsLast:        msToNanos(msg.TransactionTime),
		TsInit:        tsInit,
	}
	if report.CancelReason == "NONE" {
		report.CancelReason = ""
	}
	if report.Price, err = optionalPrice(msg.Price, inst.PricePrecision, "order price"); err != nil {
		return decode.Event{}, err
	}
	if report.TriggerPrice, err = optionalPrice(msg.StopPrice, inst.PricePrecision, "stop price"); err != nil {
		return decode.Event{}, err
	}
	if filled.IsPositive() && msg.CumQuoteQty != "" {
		quote, err := decimal.NewFromString(msg.CumQuoteQty)
		if err != nil {
			return decode.Event{}, decode.MalformedErr(err, "cum quote qty")
		}
		avg := quote.Div(filled.AsDecimal())
		report.AvgPx = &avg
	}

	reports := []model.ExecutionReport{{Kind: model.ReportOrderStatus, Order: &report}}
	if msg.ExecutionType == "TRADE" {
		fill, err := d.fill(inst, msg, report)
		if err != nil {
			return decode.Event{}, err
		}
		reports = append(reports, model.ExecutionReport{Kind: model.ReportFill, Fill: &fill})
	}
	return decode.Event{Kind: decode.EventReport, Reports: reports}, nil
}

func (d *Decoder) fill(inst model.Instrument, msg executionReport, order model.OrderStatusReport) (model.FillReport, error) {
	lastQty, err := decode.Quantity(msg.LastQty, inst.SizePrecision, "last qty")
	if err != nil {
		return model.FillReport{}, err
	}
	lastPx, err := decode.Price(msg.LastPrice, inst.PricePrecision, "last px")
	if err != nil {
		return model.FillReport{}, err
	}
	liquidity := enum.LiquiditySideTaker
	if msg.IsMaker {
		liquidity = enum.LiquiditySideMaker
	}
	commission, err := d.commission(inst, msg.Commission, msg.CommissionAsset)
	if err != nil {
		return model.FillReport{}, err
	}
	return model.FillReport{
		ReportID:      model.NewReportID(),
		AccountID:     order.AccountID,
		InstrumentID:  inst.ID,
		ClientOrderID: order.ClientOrderID,
		VenueOrderID:  order.VenueOrderID,
		TradeID:       model.TradeID(strconv.FormatInt(msg.TradeID, 10)),
		Side:          order.Side,
		LastQty:       lastQty,
		LastPx:        lastPx,
		Commission:    commission,
		LiquiditySide: liquidity,
		TsEvent:       msToNanos(msg.TransactionTime),
		TsInit:        order.TsInit,
	}, nil
}

// commission falls back to a zero amount in the quote currency when the
// asset is not registered.
func (d *Decoder) commission(inst model.Instrument, amount, asset string) (model.Money, error) {
	ccy, err := model.CurrencyFromCode(asset)
	if err != nil || amount == "" {
		return model.MoneyFromRaw(0, inst.QuoteCurrency), nil
	}
	n, err := decimal.NewFromString(amount)
	if err != nil {
		return model.Money{}, decode.MalformedErr(err, "commission")
	}
	m, err := model.MoneyFromDecimal(n, ccy)
	if err != nil {
		return model.Money{}, decode.OutOfRange(err, "commission")
	}
	return m, nil
}

func optionalPrice(s string, precision uint8, field string) (*model.Price, error) {
	if s == "" {
		return nil, nil
	}
	p, err := decode.Price(s, precision, field)
	if err != nil {
		return nil, err
	}
	if p.IsZero() {
		return nil, nil
	}
	return &p, nil
}
