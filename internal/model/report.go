package model

import (
	"sort"

	"github.com/shopspring/decimal"

	"tradecore/internal/model/enum"
)

// OrderStatusReport is the venue's view of one order.
type OrderStatusReport struct {
	ReportID      ReportID         `json:"report_id"`
	AccountID     AccountID        `json:"account_id"`
	InstrumentID  InstrumentID     `json:"instrument_id"`
	ClientOrderID ClientOrderID    `json:"client_order_id,omitempty"`
	VenueOrderID  VenueOrderID     `json:"venue_order_id"`
	Side          enum.OrderSide   `json:"side"`
	Type          enum.OrderType   `json:"type"`
	TimeInForce   enum.TimeInForce `json:"time_in_force"`
	Status        enum.OrderStatus `json:"status"`
	Quantity      Quantity         `json:"quantity"`
	FilledQty     Quantity         `json:"filled_qty"`
	Price         *Price           `json:"price,omitempty"`
	TriggerPrice  *Price           `json:"trigger_price,omitempty"`
	// AvgPx is set when FilledQty is positive.
	AvgPx        *decimal.Decimal `json:"avg_px,omitempty"`
	PostOnly     bool             `json:"post_only,omitempty"`
	ReduceOnly   bool             `json:"reduce_only,omitempty"`
	CancelReason string           `json:"cancel_reason,omitempty"`
	TsAccepted   int64            `json:"ts_accepted"`
	TsLast       int64            `json:"ts_last"`
	TsInit       int64            `json:"ts_init"`
}

// FillReport is one venue execution.
type FillReport struct {
	ReportID      ReportID           `json:"report_id"`
	AccountID     AccountID          `json:"account_id"`
	InstrumentID  InstrumentID       `json:"instrument_id"`
	ClientOrderID ClientOrderID      `json:"client_order_id,omitempty"`
	VenueOrderID  VenueOrderID       `json:"venue_order_id"`
	TradeID       TradeID            `json:"trade_id"`
	Side          enum.OrderSide     `json:"side"`
	LastQty       Quantity           `json:"last_qty"`
	LastPx        Price              `json:"last_px"`
	Commission    Money              `json:"commission"`
	LiquiditySide enum.LiquiditySide `json:"liquidity_side"`
	TsEvent       int64              `json:"ts_event"`
	TsInit        int64              `json:"ts_init"`
}

// PositionStatusReport is the venue's aggregate position.
type PositionStatusReport struct {
	ReportID     ReportID          `json:"report_id"`
	AccountID    AccountID         `json:"account_id"`
	InstrumentID InstrumentID      `json:"instrument_id"`
	Side         enum.PositionSide `json:"side"`
	Quantity     Quantity          `json:"quantity"`
	AvgPxOpen    *decimal.Decimal  `json:"avg_px_open,omitempty"`
	TsLast       int64             `json:"ts_last"`
	TsInit       int64             `json:"ts_init"`
}

// SignedQty returns the report quantity signed by side.
func (r PositionStatusReport) SignedQty() decimal.Decimal {
	q := r.Quantity.AsDecimal()
	if r.Side == enum.PositionSideShort {
		return q.Neg()
	}
	if r.Side == enum.PositionSideFlat {
		return decimal.Zero
	}
	return q
}

// ExecutionMassStatus is a bulk snapshot of one venue account.
type ExecutionMassStatus struct {
	ReportID        ReportID                                `json:"report_id"`
	ClientID        ClientID                                `json:"client_id"`
	AccountID       AccountID                               `json:"account_id"`
	Venue           Venue                                   `json:"venue"`
	OrderReports    map[VenueOrderID]OrderStatusReport      `json:"order_reports"`
	FillReports     map[VenueOrderID][]FillReport           `json:"fill_reports"`
	PositionReports map[InstrumentID][]PositionStatusReport `json:"position_reports"`
	TsInit          int64                                   `json:"ts_init"`
}

// NewExecutionMassStatus allocates the report maps.
func NewExecutionMassStatus(client ClientID, account AccountID, venue Venue, tsInit int64) *ExecutionMassStatus {
	return &ExecutionMassStatus{
		ReportID:        NewReportID(),
		ClientID:        client,
		AccountID:       account,
		Venue:           venue,
		OrderReports:    make(map[VenueOrderID]OrderStatusReport),
		FillReports:     make(map[VenueOrderID][]FillReport),
		PositionReports: make(map[InstrumentID][]PositionStatusReport),
		TsInit:          tsInit,
	}
}

func (m *ExecutionMassStatus) AddOrderReports(reports ...OrderStatusReport) {
	for _, r := range reports {
		m.OrderReports[r.VenueOrderID] = r
	}
}

func (m *ExecutionMassStatus) AddFillReports(reports ...FillReport) {
	for _, r := range reports {
		m.FillReports[r.VenueOrderID] = append(m.FillReports[r.VenueOrderID], r)
	}
}

func (m *ExecutionMassStatus) AddPositionReports(reports ...PositionStatusReport) {
	for _, r := range reports {
		m.PositionReports[r.InstrumentID] = append(m.PositionReports[r.InstrumentID], r)
	}
}

// SortedOrderReports returns order reports oldest first, ties by venue id.
func (m *ExecutionMassStatus) SortedOrderReports() []OrderStatusReport {
	out := make([]OrderStatusReport, 0, len(m.OrderReports))
	for _, r := range m.OrderReports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TsAccepted != out[j].TsAccepted {
			return out[i].TsAccepted < out[j].TsAccepted
		}
		return out[i].VenueOrderID < out[j].VenueOrderID
	})
	return out
}

// SortFills orders fills by event time, ties by trade id.
func SortFills(fills []FillReport) {
	sort.SliceStable(fills, func(i, j int) bool {
		if fills[i].TsEvent != fills[j].TsEvent {
			return fills[i].TsEvent < fills[j].TsEvent
		}
		return fills[i].TradeID < fills[j].TradeID
	})
}

// ReportKind tags ExecutionReport.
type ReportKind uint8

const (
	_report_kind_beg ReportKind = iota
	ReportOrderStatus
	ReportFill
	ReportPosition
	ReportMassStatus
	_report_kind_end
)

func (k ReportKind) IsAvailable() bool {
	return k > _report_kind_beg && k < _report_kind_end
}

// ExecutionReport is the union of the execution report bodies.
type ExecutionReport struct {
	Kind       ReportKind            `json:"kind"`
	Order      *OrderStatusReport    `json:"order,omitempty"`
	Fill       *FillReport           `json:"fill,omitempty"`
	Position   *PositionStatusReport `json:"position,omitempty"`
	MassStatus *ExecutionMassStatus  `json:"mass_status,omitempty"`
}

// InstrumentID returns the instrument the report concerns, zero for mass
// status.
func (r ExecutionReport) InstrumentID() InstrumentID {
	switch r.Kind {
	case ReportOrderStatus:
		return r.Order.InstrumentID
	case ReportFill:
		return r.Fill.InstrumentID
	case ReportPosition:
		return r.Position.InstrumentID
	default:
		return InstrumentID{}
	}
}
