package execution

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"tradecore/internal/cache"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/msgbus"
	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

type Config struct {
	InflightThreshold       time.Duration         `json:"inflight_threshold"`
	InflightMaxRetries      int                   `json:"inflight_max_retries"`
	OpenCheckThreshold      time.Duration         `json:"open_check_threshold"`
	OpenCheckMissingRetries int                   `json:"open_check_missing_retries"`
	OpenCheckOpenOnly       bool                  `json:"open_check_open_only"`
	GenerateMissingOrders   bool                  `json:"generate_missing_orders"`
	FilterUnclaimedExternal bool                  `json:"filter_unclaimed_external"`
	FilteredClientOrderIDs  []model.ClientOrderID `json:"filtered_client_order_ids"`
}

func DefaultConfig() Config {
	return Config{
		InflightThreshold:       5 * time.Second,
		InflightMaxRetries:      5,
		OpenCheckThreshold:      5 * time.Second,
		OpenCheckMissingRetries: 5,
		OpenCheckOpenOnly:       true,
		GenerateMissingOrders:   true,
	}
}

type fillKey struct {
	venueOrderID model.VenueOrderID
	tradeID      model.TradeID
}

// tracking is the per-order inflight bookkeeping. A change of lastLocal
// means the order moved and restarts the count.
type tracking struct {
	lastLocal int64
	lastQuery int64
	retries   int
}

// QueryRequest asks a venue client for the status of one inflight order.
type QueryRequest struct {
	Venue         model.Venue
	InstrumentID  model.InstrumentID
	ClientOrderID model.ClientOrderID
	VenueOrderID  model.VenueOrderID
}

// OpenOrdersRequest asks a venue client for its open orders.
type OpenOrdersRequest struct {
	Venue    model.Venue
	OpenOnly bool
}

// OpenOrders is a venue client's answer to OpenOrdersRequest.
type OpenOrders struct {
	Venue   model.Venue
	Reports []model.OrderStatusReport
}

// Reconciler converges cached orders and positions with venue reports by
// feeding the smallest legal sequence of events through the Engine. Like the
// Engine it is driven from the bus runner goroutine.
type Reconciler struct {
	cfg     Config
	engine  *Engine
	cache   *cache.Cache
	clock   clock.Clock
	metrics *obs.Metrics
	bus     *msgbus.Bus

	filtered map[model.ClientOrderID]struct{}
	fills    map[fillKey]struct{}
	inflight map[model.ClientOrderID]*tracking
	misses   map[model.ClientOrderID]int
	// inferred is the quantity filled from report totals alone, still owed
	// to venue fills that have not arrived.
	inferred map[model.ClientOrderID]model.Quantity
}

func NewReconciler(cfg Config, engine *Engine) (*Reconciler, error) {
	if engine == nil {
		return nil, exception.ErrReconcileNilCache
	}
	r := &Reconciler{
		cfg:      cfg,
		engine:   engine,
		cache:    engine.cache,
		clock:    engine.clock,
		metrics:  engine.metrics,
		filtered: make(map[model.ClientOrderID]struct{}, len(cfg.FilteredClientOrderIDs)),
		fills:    make(map[fillKey]struct{}),
		inflight: make(map[model.ClientOrderID]*tracking),
		misses:   make(map[model.ClientOrderID]int),
		inferred: make(map[model.ClientOrderID]model.Quantity),
	}
	for _, id := range cfg.FilteredClientOrderIDs {
		r.filtered[id] = struct{}{}
	}
	return r, nil
}

func (r *Reconciler) isFiltered(id model.ClientOrderID) bool {
	_, ok := r.filtered[id]
	return id != "" && ok
}

// emit applies ev and appends the result. Rejected events are logged and
// skipped.
func (r *Reconciler) emit(out []Result, ev model.OrderEvent) ([]Result, *model.Order) {
	ev.Reconciliation = true
	res, err := r.engine.Process(ev)
	if err != nil {
		logs.Warnf("reconcile: %s for %s, err: %+v", ev.Kind, ev.ClientOrderID, err)
		return out, nil
	}
	r.metrics.Inc(obs.CounterReconcileEvent)
	return append(out, res), res.Order
}

func (r *Reconciler) lookup(clientID model.ClientOrderID, venueID model.VenueOrderID) *model.Order {
	if clientID != "" {
		if o, ok := r.cache.Order(clientID); ok {
			return o
		}
	}
	if venueID != "" {
		if id, ok := r.cache.ClientOrderID(venueID); ok {
			if o, ok := r.cache.Order(id); ok {
				return o
			}
		}
	}
	return nil
}

func eventFor(kind model.OrderEventKind, o *model.Order, ts int64) model.OrderEvent {
	return model.OrderEvent{
		Kind:          kind,
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  o.VenueOrderID,
		InstrumentID:  o.InstrumentID,
		StrategyID:    o.StrategyID,
		AccountID:     o.AccountID,
		TsEvent:       ts,
	}
}

// ReconcileMassStatus processes order reports oldest first with their
// fills, then fills without an order report, then positions.
func (r *Reconciler) ReconcileMassStatus(ms *model.ExecutionMassStatus) []Result {
	start := r.clock.Now()
	var out []Result

	claimed := make(map[model.VenueOrderID]struct{}, len(ms.OrderReports))
	for _, report := range ms.SortedOrderReports() {
		claimed[report.VenueOrderID] = struct{}{}
		out = append(out, r.reconcileOrder(report, ms.FillReports[report.VenueOrderID])...)
	}

	orphans := make([]model.VenueOrderID, 0, len(ms.FillReports))
	for id := range ms.FillReports {
		if _, ok := claimed[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	for _, id := range orphans {
		fills := append([]model.FillReport(nil), ms.FillReports[id]...)
		model.SortFills(fills)
		for _, fill := range fills {
			out = append(out, r.reconcileFill(fill)...)
		}
	}

	instruments := make([]model.InstrumentID, 0, len(ms.PositionReports))
	for id := range ms.PositionReports {
		instruments = append(instruments, id)
	}
	sort.Slice(instruments, func(i, j int) bool { return instruments[i].String() < instruments[j].String() })
	for _, id := range instruments {
		reports := ms.PositionReports[id]
		if len(reports) == 0 {
			continue
		}
		latest := reports[0]
		for _, rep := range reports[1:] {
			if rep.TsLast >= latest.TsLast {
				latest = rep
			}
		}
		out = append(out, r.reconcilePosition(latest)...)
	}

	r.metrics.Since(obs.LatencyReconcile, start, r.clock.Now())
	logs.Infof("reconcile: %s mass status, %d orders, %d fill groups, %d positions, %d events",
		ms.Venue, len(ms.OrderReports), len(ms.FillReports), len(ms.PositionReports), len(out))
	return out
}

// ReconcileReport processes one streamed report.
func (r *Reconciler) ReconcileReport(report model.ExecutionReport) []Result {
	switch report.Kind {
	case model.ReportOrderStatus:
		return r.reconcileOrder(*report.Order, nil)
	case model.ReportFill:
		return r.reconcileFill(*report.Fill)
	case model.ReportPosition:
		return r.reconcilePosition(*report.Position)
	case model.ReportMassStatus:
		return r.ReconcileMassStatus(report.MassStatus)
	default:
		logs.Warnf("reconcile: unknown report kind %d", report.Kind)
		return nil
	}
}

func (r *Reconciler) reconcileOrder(report model.OrderStatusReport, fills []model.FillReport) []Result {
	if r.isFiltered(report.ClientOrderID) {
		return nil
	}
	var out []Result
	order := r.lookup(report.ClientOrderID, report.VenueOrderID)
	if order == nil {
		switch {
		case r.cfg.FilterUnclaimedExternal:
			logs.Debugf("reconcile: drop unclaimed %s at %s", report.VenueOrderID, report.InstrumentID)
			return nil
		case !r.cfg.GenerateMissingOrders:
			logs.Warnf("reconcile: no local order for %s %s", report.InstrumentID, report.VenueOrderID)
			return nil
		}
		if out, order = r.external(out, report); order == nil {
			return out
		}
	}
	delete(r.inflight, order.ClientOrderID)
	delete(r.misses, order.ClientOrderID)

	if order.IsClosed() {
		// Fills may still race a cancel; nothing else reopens a closed order.
		if order.Status == enum.OrderStatusCanceled {
			out, _ = r.applyFills(out, order, report, fills)
		} else if order.Status != report.Status {
			logs.Warnf("reconcile: %s closed locally as %s, venue reports %s",
				order.ClientOrderID, order.Status, report.Status)
		}
		return out
	}

	out, order = r.ensureWorking(out, order, report, len(fills) > 0)
	if order == nil {
		return out
	}
	out, order = r.applyFills(out, order, report, fills)
	if order == nil {
		return out
	}
	return r.applyStatus(out, order, report)
}

// external creates the local record of an order first seen at the venue.
func (r *Reconciler) external(out []Result, report model.OrderStatusReport) ([]Result, *model.Order) {
	id := report.ClientOrderID
	if id == "" {
		id = model.NewExternalClientOrderID()
	}
	logs.Infof("reconcile: external order %s (%s) at %s", id, report.VenueOrderID, report.InstrumentID)
	return r.emit(out, model.OrderEvent{
		Kind:          model.OrderEventInitialized,
		ClientOrderID: id,
		VenueOrderID:  report.VenueOrderID,
		InstrumentID:  report.InstrumentID,
		StrategyID:    model.StrategyExternal,
		AccountID:     report.AccountID,
		Init: &model.OrderInit{
			Side:         report.Side,
			Type:         report.Type,
			Quantity:     report.Quantity,
			Price:        report.Price,
			TriggerPrice: report.TriggerPrice,
			TimeInForce:  report.TimeInForce,
			PostOnly:     report.PostOnly,
			ReduceOnly:   report.ReduceOnly,
			External:     true,
			Tags:         []string{model.ReasonReconciliation},
		},
		TsEvent: report.TsAccepted,
	})
}

// ensureWorking moves Initialized and Submitted orders to where the venue
// report can apply.
func (r *Reconciler) ensureWorking(out []Result, order *model.Order, report model.OrderStatusReport, hasFills bool) ([]Result, *model.Order) {
	if order.Status == enum.OrderStatusInitialized {
		ev := eventFor(model.OrderEventSubmitted, order, report.TsAccepted)
		ev.AccountID = report.AccountID
		if out, order = r.emit(out, ev); order == nil {
			return out, nil
		}
	}
	if order.Status != enum.OrderStatusSubmitted {
		return out, order
	}
	if report.Status == enum.OrderStatusRejected || (report.Status == enum.OrderStatusCanceled && !hasFills && report.FilledQty.IsZero()) {
		return out, order
	}
	ev := eventFor(model.OrderEventAccepted, order, report.TsAccepted)
	ev.VenueOrderID = report.VenueOrderID
	return r.emit(out, ev)
}

func (r *Reconciler) applyFills(out []Result, order *model.Order, report model.OrderStatusReport, fills []model.FillReport) ([]Result, *model.Order) {
	if len(fills) > 0 {
		fills = append([]model.FillReport(nil), fills...)
		model.SortFills(fills)
	}
	for _, fill := range fills {
		next := r.fill(out, order, fill)
		if len(next) > len(out) {
			order = next[len(next)-1].Order
		}
		out = next
	}

	if !report.FilledQty.Greater(order.FilledQty) {
		return out, order
	}
	diff := report.FilledQty.Sub(order.FilledQty)
	px, ok := r.inferredPrice(order, report, diff)
	if !ok {
		logs.Warnf("reconcile: %s venue filled %s, local %s, no price to infer the difference",
			order.ClientOrderID, report.FilledQty, order.FilledQty)
		return out, order
	}
	ev := eventFor(model.OrderEventFilled, order, report.TsLast)
	ev.VenueOrderID = report.VenueOrderID
	ev.TradeID = model.TradeID("R-" + string(model.NewReportID()))
	ev.OrderSide = order.Side
	ev.LastQty = diff
	ev.LastPx = px
	ev.Commission = r.zeroCommission(order.InstrumentID)
	if next, o := r.emit(out, ev); o != nil {
		r.inferred[o.ClientOrderID] = diff.Add(r.inferred[o.ClientOrderID])
		return next, o
	}
	return out, order
}

// fill applies one fill report unless its (venue order id, trade id) was
// seen before. A fill first absorbs any quantity already inferred for the
// order, and only the remainder is applied.
func (r *Reconciler) fill(out []Result, order *model.Order, fill model.FillReport) []Result {
	key := fillKey{venueOrderID: fill.VenueOrderID, tradeID: fill.TradeID}
	if _, dup := r.fills[key]; dup || order.HasTrade(fill.TradeID) {
		r.metrics.Inc(obs.CounterReconcileDuplicateFill)
		return out
	}

	owed := r.inferred[order.ClientOrderID]
	covered := owed
	if fill.LastQty.Less(covered) {
		covered = fill.LastQty
	}
	qty := fill.LastQty.Sub(covered)
	if qty.IsZero() {
		r.fills[key] = struct{}{}
		r.settleInferred(order.ClientOrderID, owed.Sub(covered))
		logs.Debugf("reconcile: %s fill %s %s covered by inferred fill", order.ClientOrderID, fill.TradeID, fill.LastQty)
		return out
	}

	ev := eventFor(model.OrderEventFilled, order, fill.TsEvent)
	ev.VenueOrderID = fill.VenueOrderID
	ev.TradeID = fill.TradeID
	ev.OrderSide = fill.Side
	ev.LastQty = qty
	ev.LastPx = fill.LastPx
	ev.Commission = fill.Commission
	ev.LiquiditySide = fill.LiquiditySide
	next, o := r.emit(out, ev)
	if o != nil {
		r.fills[key] = struct{}{}
		r.settleInferred(order.ClientOrderID, owed.Sub(covered))
	}
	return next
}

func (r *Reconciler) settleInferred(id model.ClientOrderID, owed model.Quantity) {
	if owed.IsZero() {
		delete(r.inferred, id)
		return
	}
	r.inferred[id] = owed
}

func (r *Reconciler) reconcileFill(fill model.FillReport) []Result {
	if r.isFiltered(fill.ClientOrderID) {
		return nil
	}
	order := r.lookup(fill.ClientOrderID, fill.VenueOrderID)
	if order == nil {
		logs.Warnf("reconcile: orphan fill %s for %s at %s", fill.TradeID, fill.VenueOrderID, fill.InstrumentID)
		return nil
	}
	var out []Result
	if order.Status == enum.OrderStatusInitialized || order.Status == enum.OrderStatusSubmitted {
		report := model.OrderStatusReport{
			AccountID:    fill.AccountID,
			VenueOrderID: fill.VenueOrderID,
			Status:       enum.OrderStatusPartiallyFilled,
			TsAccepted:   fill.TsEvent,
		}
		if out, order = r.ensureWorking(out, order, report, true); order == nil {
			return out
		}
	}
	return r.fill(out, order, fill)
}

func (r *Reconciler) applyStatus(out []Result, order *model.Order, report model.OrderStatusReport) []Result {
	ts := report.TsLast
	if order.IsClosed() {
		return out
	}
	switch report.Status {
	case enum.OrderStatusRejected:
		ev := eventFor(model.OrderEventRejected, order, ts)
		ev.Reason = report.CancelReason
		out, _ = r.emit(out, ev)
	case enum.OrderStatusCanceled:
		ev := eventFor(model.OrderEventCanceled, order, ts)
		ev.Reason = report.CancelReason
		out, _ = r.emit(out, ev)
	case enum.OrderStatusExpired:
		out, _ = r.emit(out, eventFor(model.OrderEventExpired, order, ts))
	case enum.OrderStatusTriggered:
		if order.Status != enum.OrderStatusTriggered {
			out, _ = r.emit(out, eventFor(model.OrderEventTriggered, order, ts))
		}
	case enum.OrderStatusAccepted, enum.OrderStatusPartiallyFilled:
		if order.Status == enum.OrderStatusPendingCancel {
			if out, order = r.emit(out, eventFor(model.OrderEventCancelRejected, order, ts)); order == nil {
				return out
			}
		}
		out = r.applyAmendment(out, order, report)
	case enum.OrderStatusFilled:
		if order.Status != enum.OrderStatusFilled {
			logs.Warnf("reconcile: %s venue reports filled %s, local %s of %s",
				order.ClientOrderID, report.FilledQty, order.FilledQty, order.Quantity)
		}
	}
	return out
}

// applyAmendment emits Updated when the venue's working terms differ.
func (r *Reconciler) applyAmendment(out []Result, order *model.Order, report model.OrderStatusReport) []Result {
	qtyChanged := !report.Quantity.IsZero() && !report.Quantity.Equal(order.Quantity)
	pxChanged := report.Price != nil && (order.Price == nil || !report.Price.Equal(*order.Price))
	trgChanged := report.TriggerPrice != nil && (order.TriggerPrice == nil || !report.TriggerPrice.Equal(*order.TriggerPrice))
	if !qtyChanged && !pxChanged && !trgChanged && order.Status != enum.OrderStatusPendingUpdate {
		return out
	}
	ev := eventFor(model.OrderEventUpdated, order, report.TsLast)
	if qtyChanged {
		q := report.Quantity
		ev.Quantity = &q
	}
	if pxChanged {
		p := *report.Price
		ev.Price = &p
	}
	if trgChanged {
		p := *report.TriggerPrice
		ev.TriggerPrice = &p
	}
	out, _ = r.emit(out, ev)
	return out
}

// inferredPrice derives the price of the unreported part of a fill from the
// venue's average price.
func (r *Reconciler) inferredPrice(order *model.Order, report model.OrderStatusReport, diff model.Quantity) (model.Price, bool) {
	precision := r.pricePrecision(order.InstrumentID, report.Price)
	var px decimal.Decimal
	switch {
	case report.AvgPx != nil && order.FilledQty.IsZero():
		px = *report.AvgPx
	case report.AvgPx != nil:
		total := report.AvgPx.Mul(report.FilledQty.AsDecimal())
		local := decimal.NewFromFloat(order.AvgPx).Mul(order.FilledQty.AsDecimal())
		px = total.Sub(local).Div(diff.AsDecimal())
	case report.Price != nil:
		return *report.Price, true
	default:
		return model.Price{}, false
	}
	p, err := model.PriceFromString(px.StringFixed(int32(precision)))
	if err != nil || !p.IsPositive() {
		return model.Price{}, false
	}
	return p, true
}

func (r *Reconciler) pricePrecision(id model.InstrumentID, hint *model.Price) uint8 {
	if inst, ok := r.cache.Instrument(id); ok {
		return inst.PricePrecision
	}
	if hint != nil {
		return hint.Precision
	}
	return model.FixedPrecision
}

func (r *Reconciler) zeroCommission(id model.InstrumentID) model.Money {
	if inst, ok := r.cache.Instrument(id); ok && !inst.QuoteCurrency.IsZero() {
		return model.MoneyFromRaw(0, inst.QuoteCurrency)
	}
	return model.Money{}
}

// reconcilePosition compares the venue position with the sum of local
// positions on the instrument. A mismatch becomes an external order filled
// at the venue's open price.
func (r *Reconciler) reconcilePosition(report model.PositionStatusReport) []Result {
	local := decimal.Zero
	for _, p := range r.cache.Positions(cache.Filter{InstrumentID: report.InstrumentID}, true) {
		local = local.Add(p.SignedQty)
	}
	venue := report.SignedQty()
	if local.Equal(venue) {
		return nil
	}
	diff := venue.Sub(local)
	logs.Warnf("reconcile: position %s venue %s, local %s", report.InstrumentID, venue, local)
	if !r.cfg.GenerateMissingOrders {
		return nil
	}
	inst, ok := r.cache.Instrument(report.InstrumentID)
	if !ok || report.AvgPxOpen == nil {
		logs.Warnf("reconcile: position %s cannot be aligned without instrument and open price", report.InstrumentID)
		return nil
	}
	qty, err := model.QuantityFromString(diff.Abs().StringFixed(int32(inst.SizePrecision)))
	if err != nil || qty.IsZero() {
		return nil
	}
	px, err := model.PriceFromString(report.AvgPxOpen.StringFixed(int32(inst.PricePrecision)))
	if err != nil {
		return nil
	}
	side := enum.OrderSideBuy
	if diff.IsNegative() {
		side = enum.OrderSideSell
	}

	var out []Result
	out, order := r.emit(out, model.OrderEvent{
		Kind:          model.OrderEventInitialized,
		ClientOrderID: model.NewExternalClientOrderID(),
		InstrumentID:  report.InstrumentID,
		StrategyID:    model.StrategyExternal,
		AccountID:     report.AccountID,
		Init: &model.OrderInit{
			Side:        side,
			Type:        enum.OrderTypeMarket,
			Quantity:    qty,
			TimeInForce: enum.TimeInForceGTC,
			External:    true,
			Tags:        []string{model.ReasonReconciliation},
		},
		TsEvent: report.TsLast,
	})
	if order == nil {
		return out
	}
	if out, order = r.emit(out, eventFor(model.OrderEventAccepted, order, report.TsLast)); order == nil {
		return out
	}
	ev := eventFor(model.OrderEventFilled, order, report.TsLast)
	ev.TradeID = model.TradeID("R-" + string(model.NewReportID()))
	ev.OrderSide = side
	ev.LastQty = qty
	ev.LastPx = px
	ev.Commission = r.zeroCommission(report.InstrumentID)
	out, _ = r.emit(out, ev)
	return out
}

// CheckInflight returns the venue queries due now and times out orders
// whose queries are exhausted.
func (r *Reconciler) CheckInflight() ([]QueryRequest, []Result) {
	now := r.clock.Now()
	threshold := r.cfg.InflightThreshold.Nanoseconds()
	var (
		queries []QueryRequest
		out     []Result
	)
	live := make(map[model.ClientOrderID]struct{})
	for _, o := range r.cache.OrdersInflight(cache.Filter{}) {
		if r.isFiltered(o.ClientOrderID) {
			continue
		}
		live[o.ClientOrderID] = struct{}{}
		t := r.inflight[o.ClientOrderID]
		if t == nil || t.lastLocal != o.TsLast {
			t = &tracking{lastLocal: o.TsLast}
			r.inflight[o.ClientOrderID] = t
		}
		if now-o.TsLast < threshold || now-t.lastQuery < threshold {
			continue
		}
		if t.retries >= r.cfg.InflightMaxRetries {
			delete(r.inflight, o.ClientOrderID)
			out = r.timeout(out, o)
			continue
		}
		t.retries++
		t.lastQuery = now
		queries = append(queries, QueryRequest{
			Venue:         o.InstrumentID.Venue,
			InstrumentID:  o.InstrumentID,
			ClientOrderID: o.ClientOrderID,
			VenueOrderID:  o.VenueOrderID,
		})
	}
	for id := range r.inflight {
		if _, ok := live[id]; !ok {
			delete(r.inflight, id)
		}
	}
	return queries, out
}

func (r *Reconciler) timeout(out []Result, o *model.Order) []Result {
	now := r.clock.Now()
	logs.Warnf("reconcile: %s %s timed out after %d queries", o.ClientOrderID, o.Status, r.cfg.InflightMaxRetries)
	var kind model.OrderEventKind
	switch o.Status {
	case enum.OrderStatusSubmitted, enum.OrderStatusPendingUpdate:
		kind = model.OrderEventRejected
	case enum.OrderStatusPendingCancel:
		kind = model.OrderEventCancelRejected
	default:
		return out
	}
	ev := eventFor(kind, o, now)
	ev.Reason = model.ReasonReconciliationTimeout
	out, _ = r.emit(out, ev)
	return out
}

// OpenCheckRequests lists one request per venue holding open orders.
func (r *Reconciler) OpenCheckRequests() []OpenOrdersRequest {
	seen := make(map[model.Venue]struct{})
	var out []OpenOrdersRequest
	for _, o := range r.cache.OrdersOpen(cache.Filter{}) {
		v := o.InstrumentID.Venue
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, OpenOrdersRequest{Venue: v, OpenOnly: r.cfg.OpenCheckOpenOnly})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}

// CheckOpenOrders reconciles a venue's open orders and cancels local open
// orders the venue has not reported for OpenCheckMissingRetries checks.
func (r *Reconciler) CheckOpenOrders(answer OpenOrders) []Result {
	var out []Result
	remoteClient := make(map[model.ClientOrderID]struct{}, len(answer.Reports))
	remoteVenue := make(map[model.VenueOrderID]struct{}, len(answer.Reports))
	for _, rep := range answer.Reports {
		if rep.ClientOrderID != "" {
			remoteClient[rep.ClientOrderID] = struct{}{}
		}
		if rep.VenueOrderID != "" {
			remoteVenue[rep.VenueOrderID] = struct{}{}
		}
		out = append(out, r.reconcileOrder(rep, nil)...)
	}

	now := r.clock.Now()
	threshold := r.cfg.OpenCheckThreshold.Nanoseconds()
	for _, o := range r.cache.OrdersOpen(cache.Filter{Venue: answer.Venue}) {
		if r.isFiltered(o.ClientOrderID) || now-o.TsLast < threshold {
			continue
		}
		_, byClient := remoteClient[o.ClientOrderID]
		_, byVenue := remoteVenue[o.VenueOrderID]
		if byClient || (o.VenueOrderID != "" && byVenue) {
			delete(r.misses, o.ClientOrderID)
			continue
		}
		r.misses[o.ClientOrderID]++
		if r.misses[o.ClientOrderID] < r.cfg.OpenCheckMissingRetries {
			continue
		}
		delete(r.misses, o.ClientOrderID)
		logs.Warnf("reconcile: %s open locally, missing at %s for %d checks", o.ClientOrderID, answer.Venue, r.cfg.OpenCheckMissingRetries)
		ev := eventFor(model.OrderEventCanceled, o, now)
		ev.Reason = model.ReasonMissingAtVenue
		out, _ = r.emit(out, ev)
	}
	return out
}
