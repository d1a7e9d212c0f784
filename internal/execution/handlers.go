package execution

import (
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/model"
	"tradecore/internal/msgbus"
	"tradecore/pkg/exception"
)

// Bus endpoints served by the execution side.
const (
	EndpointProcess       = "ExecEngine.process"
	EndpointReconcile     = "ExecEngine.reconcile"
	EndpointCheckInflight = "ExecEngine.check_inflight"
	EndpointCheckOpen     = "ExecEngine.check_open"
	EndpointOpenOrders    = "ExecEngine.open_orders"
)

// QueryOrderEndpoint is served by the venue's execution client and answers
// QueryRequest by sending the report to EndpointReconcile.
func QueryOrderEndpoint(venue model.Venue) string {
	return "ExecClient." + string(venue) + ".query_order"
}

// OpenOrdersEndpoint is served by the venue's execution client and answers
// OpenOrdersRequest by sending OpenOrders to EndpointOpenOrders.
func OpenOrdersEndpoint(venue model.Venue) string {
	return "ExecClient." + string(venue) + ".open_orders"
}

// publishAll yields the publications of applied events in order.
func publishAll(results []Result, yield func(msgbus.Command) bool) bool {
	for _, res := range results {
		if !yield(msgbus.Publish(OrderTopic(res.Event.StrategyID), res.Event)) {
			return false
		}
		if res.Position != nil {
			if !yield(msgbus.Publish(PositionTopic(res.Position.StrategyID), res.Position.Clone())) {
				return false
			}
		}
	}
	return true
}

// Register binds the engine and reconciler endpoints on bus.
func (r *Reconciler) Register(bus *msgbus.Bus) error {
	r.bus = bus
	handlers := []struct {
		endpoint string
		factory  msgbus.HandlerFactory
	}{
		{EndpointProcess, msgbus.Coroutine(r.handleProcess)},
		{EndpointReconcile, msgbus.Coroutine(r.handleReconcile)},
		{EndpointCheckInflight, msgbus.Coroutine(r.handleCheckInflight)},
		{EndpointCheckOpen, msgbus.Coroutine(r.handleCheckOpen)},
		{EndpointOpenOrders, msgbus.Coroutine(r.handleOpenOrders)},
	}
	for _, h := range handlers {
		if err := bus.Register(h.endpoint, h.endpoint, h.factory); err != nil {
			return errors.Wrapf(err, "register %s", h.endpoint)
		}
	}
	return nil
}

func (r *Reconciler) handleProcess(env msgbus.Envelope, yield func(msgbus.Command) bool) error {
	ev, ok := env.Message.(model.OrderEvent)
	if !ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "%s: %T", EndpointProcess, env.Message)
	}
	res, err := r.engine.Process(ev)
	if err != nil {
		return err
	}
	publishAll([]Result{res}, yield)
	return nil
}

func (r *Reconciler) handleReconcile(env msgbus.Envelope, yield func(msgbus.Command) bool) error {
	var results []Result
	switch msg := env.Message.(type) {
	case model.ExecutionReport:
		results = r.ReconcileReport(msg)
	case []model.ExecutionReport:
		for _, rep := range msg {
			results = append(results, r.ReconcileReport(rep)...)
		}
	case *model.ExecutionMassStatus:
		results = r.ReconcileMassStatus(msg)
	case model.OrderStatusReport:
		results = r.reconcileOrder(msg, nil)
	case model.FillReport:
		results = r.reconcileFill(msg)
	case model.PositionStatusReport:
		results = r.reconcilePosition(msg)
	default:
		return errors.Wrapf(exception.ErrInvalidArgument, "%s: %T", EndpointReconcile, env.Message)
	}
	publishAll(results, yield)
	return nil
}

func (r *Reconciler) handleCheckInflight(_ msgbus.Envelope, yield func(msgbus.Command) bool) error {
	queries, results := r.CheckInflight()
	if !publishAll(results, yield) {
		return nil
	}
	for _, q := range queries {
		if !r.hasEndpoint(QueryOrderEndpoint(q.Venue)) {
			continue
		}
		if !yield(msgbus.Send(QueryOrderEndpoint(q.Venue), q)) {
			return nil
		}
	}
	return nil
}

func (r *Reconciler) handleCheckOpen(_ msgbus.Envelope, yield func(msgbus.Command) bool) error {
	for _, req := range r.OpenCheckRequests() {
		if !r.hasEndpoint(OpenOrdersEndpoint(req.Venue)) {
			continue
		}
		if !yield(msgbus.Send(OpenOrdersEndpoint(req.Venue), req)) {
			return nil
		}
	}
	return nil
}

func (r *Reconciler) handleOpenOrders(env msgbus.Envelope, yield func(msgbus.Command) bool) error {
	answer, ok := env.Message.(OpenOrders)
	if !ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "%s: %T", EndpointOpenOrders, env.Message)
	}
	publishAll(r.CheckOpenOrders(answer), yield)
	return nil
}

func (r *Reconciler) hasEndpoint(endpoint string) bool {
	if r.bus == nil {
		return false
	}
	if _, ok := r.bus.Endpoint(endpoint); ok {
		return true
	}
	logs.Debugf("reconcile: %s, err: %+v", endpoint, exception.ErrReconcileNoClient)
	return false
}
