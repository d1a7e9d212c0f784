package binance

import (
	"strconv"

	"github.com/shopspring/decimal"

	"tradecore/internal/decode"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
)

// restOrder is the order object of /api/v3/order, /api/v3/openOrders and
// the order placement response.
type restOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	OrigClientID  string `json:"origClientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	Status        string `json:"status"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	StopPrice     string `json:"stopPrice"`
	Time          int64  `json:"time"`
	TransactTime  int64  `json:"transactTime"`
	UpdateTime    int64  `json:"updateTime"`
}

type restTrade struct {
	Symbol          string `json:"symbol"`
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
	IsMaker         bool   `json:"isMaker"`
}

// DecodeOrder decodes one REST order object into a status report. It
// does not touch the depth contexts and is safe for concurrent use.
func (d *Decoder) DecodeOrder(body []byte) (model.OrderStatusReport, error) {
	var msg restOrder
	if err := api.Unmarshal(body, &msg); err != nil {
		return model.OrderStatusReport{}, decode.MalformedErr(err, "order")
	}
	return d.orderReport(msg)
}

// DecodeOrders decodes a REST order array. Orders of unknown symbols are
// skipped.
func (d *Decoder) DecodeOrders(body []byte) ([]model.OrderStatusReport, error) {
	var msgs []restOrder
	if err := api.Unmarshal(body, &msgs); err != nil {
		return nil, decode.MalformedErr(err, "orders")
	}
	out := make([]model.OrderStatusReport, 0, len(msgs))
	for _, msg := range msgs {
		report, err := d.orderReport(msg)
		if err != nil {
			if decode.ClassOf(err) == decode.ClassUnknownSymbol {
				continue
			}
			return nil, err
		}
		out = append(out, report)
	}
	return out, nil
}

// DecodeTrades decodes a /api/v3/myTrades array into fill reports.
func (d *Decoder) DecodeTrades(body []byte) ([]model.FillReport, error) {
	var msgs []restTrade
	if err := api.Unmarshal(body, &msgs); err != nil {
		return nil, decode.MalformedErr(err, "trades")
	}
	tsInit := d.clock.Now()
	out := make([]model.FillReport, 0, len(msgs))
	for _, msg := range msgs {
		inst, err := d.instruments.Resolve(msg.Symbol)
		if err != nil {
			return nil, err
		}
		qty, err := decode.Quantity(msg.Qty, inst.SizePrecision, "trade qty")
		if err != nil {
			return nil, err
		}
		px, err := decode.Price(msg.Price, inst.PricePrecision, "trade px")
		if err != nil {
			return nil, err
		}
		commission, err := d.commission(inst, msg.Commission, msg.CommissionAsset)
		if err != nil {
			return nil, err
		}
		side, liquidity := enum.OrderSideSell, enum.LiquiditySideTaker
		if msg.IsBuyer {
			side = enum.OrderSideBuy
		}
		if msg.IsMaker {
			liquidity = enum.LiquiditySideMaker
		}
		out = append(out, model.FillReport{
			ReportID:      model.NewReportID(),
			AccountID:     d.account,
			InstrumentID:  inst.ID,
			VenueOrderID:  model.VenueOrderID(strconv.FormatInt(msg.OrderID, 10)),
			TradeID:       model.TradeID(strconv.FormatInt(msg.ID, 10)),
			Side:          side,
			LastQty:       qty,
			LastPx:        px,
			Commission:    commission,
			LiquiditySide: liquidity,
			TsEvent:       msToNanos(msg.Time),
			TsInit:        tsInit,
		})
	}
	return out, nil
}

func (d *Decoder) orderReport(msg restOrder) (model.OrderStatusReport, error) {
	inst, err := d.instruments.Resolve(msg.Symbol)
	if err != nil {
		return model.OrderStatusReport{}, err
	}
	status, ok := statuses[msg.Status]
	if !ok {
		return model.OrderStatusReport{}, decode.Unsupported("order status %s", msg.Status)
	}
	side, ok := enum.ParseOrderSide(msg.Side)
	if !ok {
		return model.OrderStatusReport{}, decode.Malformed("order side %q", msg.Side)
	}
	orderType, ok := orderTypes[msg.Type]
	if !ok {
		return model.OrderStatusReport{}, decode.Unsupported("order type %s", msg.Type)
	}
	tif, ok := timeInForces[msg.TimeInForce]
	if !ok {
		tif = enum.TimeInForceGTC
	}
	qty, err := decode.Quantity(msg.OrigQty, inst.SizePrecision, "orig qty")
	if err != nil {
		return model.OrderStatusReport{}, err
	}
	filled, err := decode.Quantity(msg.ExecutedQty, inst.SizePrecision, "executed qty")
	if err != nil {
		return model.OrderStatusReport{}, err
	}

	accepted := msg.Time
	if accepted == 0 {
		accepted = msg.TransactTime
	}
	last := msg.UpdateTime
	if last == 0 {
		last = accepted
	}
	clientID := msg.ClientOrderID
	if msg.OrigClientID != "" {
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
		PostOnly:      msg.Type == "LIMIT_MAKER",
		TsAccepted:    msToNanos(accepted),
		TsLast:        msToNanos(last),
		TsInit:        d.clock.Now(),
	}
	if report.Price, err = optionalPrice(msg.Price, inst.PricePrecision, "order price"); err != nil {
		return model.OrderStatusReport{}, err
	}
	if report.TriggerPrice, err = optionalPrice(msg.StopPrice, inst.PricePrecision, "stop price"); err != nil {
		return model.OrderStatusReport{}, err
	}
	if filled.IsPositive() && msg.CumQuoteQty != "" {
		quote, err := decimal.NewFromString(msg.CumQuoteQty)
		if err != nil {
			return model.OrderStatusReport{}, decode.MalformedErr(err, "cum quote qty")
		}
		avg := quote.Div(filled.AsDecimal())
		report.AvgPx = &avg
	}
	return report, nil
}
