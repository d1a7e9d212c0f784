// Package order turns outbound commands into venue requests. Commands are
// accepted on the bus runner goroutine; requests run on a worker pool and
// their outcomes come back to the runner as reports and events.
package order

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/cache"
	"tradecore/internal/execution"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/msgbus"
	"tradecore/internal/network"
	"tradecore/internal/obs"
	"tradecore/internal/ratelimit"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 1024
)

// Checker is the pre-trade check run on every submit.
type Checker interface {
	Check(o *model.Order) error
}

type Config struct {
	Workers   int                 `json:"workers"`
	QueueSize int                 `json:"queue_size"`
	Retry     network.RetryConfig `json:"retry"`
}

type jobKind uint8

const (
	jobSubmit jobKind = iota + 1
	jobCancel
	jobQuery
	jobOpenOrders
)

type job struct {
	kind  jobKind
	order *model.Order
	query execution.QueryRequest
	open  execution.OpenOrdersRequest
	ts    int64
}

func (j job) venue() model.Venue {
	switch j.kind {
	case jobQuery:
		return j.query.Venue
	case jobOpenOrders:
		return j.open.Venue
	default:
		return j.order.InstrumentID.Venue
	}
}

// Gateway validates commands, runs risk checks, drives the order through
// Initialized and Submitted, and hands the request to a worker. Workers
// never touch the cache; they post venue reports to the reconciler and
// failures to the execution engine.
type Gateway struct {
	cfg        Config
	runner     *msgbus.Runner
	cache      *cache.Cache
	risk       Checker
	limiter    *ratelimit.Limiter[string]
	retrier    *network.Retrier
	clock      clock.Clock
	metrics    *obs.Metrics
	delegators map[model.Venue]Delegator

	mu     sync.RWMutex
	halted map[model.Venue]error

	queue   chan job
	running atomic.Bool
}

type Option func(*Gateway)

func WithRisk(c Checker) Option {
	return func(g *Gateway) { g.risk = c }
}

func WithLimiter(l *ratelimit.Limiter[string]) Option {
	return func(g *Gateway) { g.limiter = l }
}

func WithRetrier(r *network.Retrier) Option {
	return func(g *Gateway) { g.retrier = r }
}

func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func WithDelegator(d Delegator) Option {
	return func(g *Gateway) { g.delegators[d.Venue()] = d }
}

func NewGateway(cfg Config, runner *msgbus.Runner, c *cache.Cache, opts ...Option) (*Gateway, error) {
	if runner == nil || c == nil {
		return nil, exception.ErrOrderNilGateway
	}
	if cfg.Workers < 0 || cfg.QueueSize < 0 {
		return nil, errors.Wrapf(exception.ErrOrderInvalidWorkerConfig, "workers %d, queue %d", cfg.Workers, cfg.QueueSize)
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Retry == (network.RetryConfig{}) {
		cfg.Retry = network.DefaultRetryConfig()
	}
	g := &Gateway{
		cfg:        cfg,
		runner:     runner,
		cache:      c,
		clock:      clock.Real(),
		delegators: make(map[model.Venue]Delegator),
		halted:     make(map[model.Venue]error),
		queue:      make(chan job, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retrier == nil {
		g.retrier = network.NewRetrier(cfg.Retry, network.WithRetryMetrics(g.metrics))
	}
	return g, nil
}

// Venues lists the venues with a delegator.
func (g *Gateway) Venues() []model.Venue {
	out := make([]model.Venue, 0, len(g.delegators))
	for v := range g.delegators {
		out = append(out, v)
	}
	return out
}

// Register binds the command endpoints and, per venue, the query and open
// orders endpoints the reconciler sends to.
func (g *Gateway) Register(bus *msgbus.Bus) error {
	type binding struct {
		endpoint string
		factory  msgbus.HandlerFactory
	}
	handlers := []binding{
		{EndpointSubmit, msgbus.Coroutine(g.handleSubmit)},
		{EndpointCancel, msgbus.Coroutine(g.handleCancel)},
	}
	for venue := range g.delegators {
		handlers = append(handlers,
			binding{execution.QueryOrderEndpoint(venue), msgbus.Func(g.handleQuery)},
			binding{execution.OpenOrdersEndpoint(venue), msgbus.Func(g.handleOpenOrders)},
		)
	}
	for _, h := range handlers {
		if err := bus.Register(h.endpoint, h.endpoint, h.factory); err != nil {
			return errors.Wrapf(err, "register %s", h.endpoint)
		}
	}
	return nil
}

// Run starts the workers and blocks until ctx is done. Jobs still queued
// are left for reconciliation.
func (g *Gateway) Run(ctx context.Context) error {
	if g.running.Swap(true) {
		return nil
	}
	defer g.running.Store(false)

	logs.Infof("order: gateway running with %d workers", g.cfg.Workers)
	eg, ctx := errgroup.WithContext(ctx)
	for range g.cfg.Workers {
		eg.Go(func() error {
			g.work(ctx)
			return nil
		})
	}
	err := eg.Wait()
	logs.Infof("order: gateway stopped, %d jobs left", len(g.queue))
	return err
}

// Halted returns the error that halted venue, nil while it is running.
func (g *Gateway) Halted(venue model.Venue) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.halted[venue]
}

// Resume accepts orders for a halted venue again.
func (g *Gateway) Resume(venue model.Venue) {
	g.mu.Lock()
	_, ok := g.halted[venue]
	delete(g.halted, venue)
	g.mu.Unlock()
	if ok {
		logs.Infof("order: %s resumed", venue)
	}
}

func (g *Gateway) halt(venue model.Venue, err error) {
	g.mu.Lock()
	_, already := g.halted[venue]
	if !already {
		g.halted[venue] = err
	}
	g.mu.Unlock()
	if already {
		return
	}
	logs.Errorf("order: %s halted, err: %+v", venue, err)
	g.post(execution.EndpointCheckInflight, struct{}{})
}

// MassStatus fetches a venue snapshot for startup reconciliation.
func (g *Gateway) MassStatus(ctx context.Context, venue model.Venue, lookback time.Duration) (*model.ExecutionMassStatus, error) {
	d, ok := g.delegators[venue]
	if !ok {
		return nil, errors.Wrapf(exception.ErrOrderUnsupportedVenue, "%s", venue)
	}
	return network.Do(ctx, g.retrier, "mass status "+string(venue), func(ctx context.Context) (*model.ExecutionMassStatus, error) {
		if err := g.wait(ctx, venue, false); err != nil {
			return nil, err
		}
		return d.MassStatus(ctx, lookback)
	})
}

func (g *Gateway) handleSubmit(env msgbus.Envelope, yield func(msgbus.Command) bool) error {
	cmd, ok := env.Message.(SubmitOrder)
	if !ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "%s: %T", EndpointSubmit, env.Message)
	}
	if err := cmd.validate(); err != nil {
		return err
	}
	if _, ok := g.delegators[cmd.InstrumentID.Venue]; !ok {
		return errors.Wrapf(exception.ErrOrderUnsupportedVenue, "%s for %s", cmd.InstrumentID.Venue, cmd.ClientOrderID)
	}
	if g.cache.OrderExists(cmd.ClientOrderID) {
		return errors.Wrapf(exception.ErrOrderDuplicate, "%s", cmd.ClientOrderID)
	}

	if !yield(msgbus.Send(execution.EndpointProcess, cmd.initialized(g.clock.Now()))) {
		return nil
	}
	order, ok := g.cache.Order(cmd.ClientOrderID)
	if !ok {
		return errors.Wrapf(exception.ErrOrderUnknown, "%s was not initialized", cmd.ClientOrderID)
	}

	if reason := g.denial(order); reason != "" {
		yield(msgbus.Send(execution.EndpointProcess, g.event(model.OrderEventDenied, order, reason)))
		return nil
	}
	if !yield(msgbus.Send(execution.EndpointProcess, g.event(model.OrderEventSubmitted, order, ""))) {
		return nil
	}
	if err := g.enqueue(job{kind: jobSubmit, order: order}); err != nil {
		yield(msgbus.Send(execution.EndpointProcess, g.event(model.OrderEventRejected, order, err.Error())))
	}
	return nil
}

func (g *Gateway) denial(o *model.Order) string {
	if err := g.Halted(o.InstrumentID.Venue); err != nil {
		return "venue halted: " + err.Error()
	}
	if g.risk == nil {
		return ""
	}
	if err := g.risk.Check(o); err != nil {
		return err.Error()
	}
	return ""
}

func (g *Gateway) handleCancel(env msgbus.Envelope, yield func(msgbus.Command) bool) error {
	cmd, ok := env.Message.(CancelOrder)
	if !ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "%s: %T", EndpointCancel, env.Message)
	}
	order, ok := g.cache.Order(cmd.ClientOrderID)
	if !ok {
		return errors.Wrapf(exception.ErrOrderUnknown, "cancel %s", cmd.ClientOrderID)
	}
	switch {
	case order.IsClosed():
		logs.Warnf("order: cancel %s ignored, already %s", order.ClientOrderID, order.Status)
		return nil
	case order.Status == enum.OrderStatusPendingCancel:
		return nil
	case order.Status == enum.OrderStatusInitialized:
		yield(msgbus.Send(execution.EndpointProcess, g.event(model.OrderEventCanceled, order, "")))
		return nil
	}
	if err := g.Halted(order.InstrumentID.Venue); err != nil {
		return errors.Wrapf(exception.ErrOrderNotRunning, "cancel %s, venue halted: %v", order.ClientOrderID, err)
	}

	if !yield(msgbus.Send(execution.EndpointProcess, g.event(model.OrderEventPendingCancel, order, ""))) {
		return nil
	}
	if err := g.enqueue(job{kind: jobCancel, order: order}); err != nil {
		yield(msgbus.Send(execution.EndpointProcess, g.event(model.OrderEventCancelRejected, order, err.Error())))
	}
	return nil
}

func (g *Gateway) handleQuery(env msgbus.Envelope) error {
	req, ok := env.Message.(execution.QueryRequest)
	if !ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "%s: %T", env.Topic, env.Message)
	}
	return g.enqueue(job{kind: jobQuery, query: req})
}

func (g *Gateway) handleOpenOrders(env msgbus.Envelope) error {
	req, ok := env.Message.(execution.OpenOrdersRequest)
	if !ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "%s: %T", env.Topic, env.Message)
	}
	return g.enqueue(job{kind: jobOpenOrders, open: req})
}

func (g *Gateway) enqueue(j job) error {
	j.ts = g.clock.Now()
	select {
	case g.queue <- j:
		return nil
	default:
		return errors.Wrapf(exception.ErrOrderQueueFull, "capacity %d", cap(g.queue))
	}
}

func (g *Gateway) event(kind model.OrderEventKind, o *model.Order, reason string) model.OrderEvent {
	now := g.clock.Now()
	return model.OrderEvent{
		Kind:          kind,
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  o.VenueOrderID,
		InstrumentID:  o.InstrumentID,
		StrategyID:    o.StrategyID,
		TraderID:      o.TraderID,
		AccountID:     o.AccountID,
		Reason:        reason,
		TsEvent:       now,
		TsInit:        now,
	}
}

func (g *Gateway) post(endpoint string, msg any) {
	if err := g.runner.PostSend(endpoint, msg); err != nil {
		logs.Errorf("order: post %s, err: %+v", endpoint, err)
	}
}

func (g *Gateway) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-g.queue:
			g.execute(ctx, j)
		}
	}
}

func (g *Gateway) execute(ctx context.Context, j job) {
	venue := j.venue()
	d, ok := g.delegators[venue]
	if !ok {
		logs.Errorf("order: job for %s, err: %+v", venue, exception.ErrOrderUnsupportedVenue)
		return
	}
	defer func() { g.metrics.Since(obs.LatencyOrderFlow, j.ts, g.clock.Now()) }()

	switch j.kind {
	case jobSubmit:
		report, err := g.call(ctx, venue, true, "submit "+string(j.order.ClientOrderID), func(ctx context.Context) (model.OrderStatusReport, error) {
			return d.Submit(ctx, j.order)
		})
		if err != nil {
			g.fail(ctx, j, err)
			return
		}
		g.report(j.order, report)

	case jobCancel:
		report, err := g.call(ctx, venue, true, "cancel "+string(j.order.ClientOrderID), func(ctx context.Context) (model.OrderStatusReport, error) {
			return d.Cancel(ctx, j.order)
		})
		if err != nil {
			g.fail(ctx, j, err)
			return
		}
		g.report(j.order, report)

	case jobQuery:
		report, err := g.call(ctx, venue, false, "query "+string(j.query.ClientOrderID), func(ctx context.Context) (model.OrderStatusReport, error) {
			return d.QueryOrder(ctx, j.query)
		})
		if err != nil {
			g.fail(ctx, j, err)
			return
		}
		if report.ClientOrderID == "" {
			report.ClientOrderID = j.query.ClientOrderID
		}
		g.post(execution.EndpointReconcile, report)

	case jobOpenOrders:
		reports, err := network.Do(ctx, g.retrier, "open orders "+string(venue), func(ctx context.Context) ([]model.OrderStatusReport, error) {
			if err := g.wait(ctx, venue, false); err != nil {
				return nil, err
			}
			return d.OpenOrders(ctx, j.open)
		})
		if err != nil {
			g.fail(ctx, j, err)
			return
		}
		g.post(execution.EndpointOpenOrders, execution.OpenOrders{Venue: venue, Reports: reports})
	}
}

func (g *Gateway) call(ctx context.Context, venue model.Venue, orders bool, name string, fn func(ctx context.Context) (model.OrderStatusReport, error)) (model.OrderStatusReport, error) {
	return network.Do(ctx, g.retrier, name, func(ctx context.Context) (model.OrderStatusReport, error) {
		if err := g.wait(ctx, venue, orders); err != nil {
			return model.OrderStatusReport{}, err
		}
		return fn(ctx)
	})
}

func (g *Gateway) wait(ctx context.Context, venue model.Venue, orders bool) error {
	if g.limiter == nil {
		return nil
	}
	start := g.clock.Now()
	defer func() { g.metrics.Since(obs.LatencyLimiterWait, start, g.clock.Now()) }()
	if orders {
		return g.limiter.WaitAll(ctx, GlobalKey(venue), OrdersKey(venue))
	}
	return g.limiter.WaitAll(ctx, GlobalKey(venue))
}

// report posts a venue answer for o to the reconciler.
func (g *Gateway) report(o *model.Order, report model.OrderStatusReport) {
	if report.ClientOrderID == "" {
		report.ClientOrderID = o.ClientOrderID
	}
	if report.InstrumentID.IsZero() {
		report.InstrumentID = o.InstrumentID
	}
	if report.TsInit == 0 {
		report.TsInit = g.clock.Now()
	}
	g.post(execution.EndpointReconcile, report)
}

// fail settles a failed job. Requests the venue may have acted on are left
// to reconciliation; definite failures are applied now.
func (g *Gateway) fail(ctx context.Context, j job, err error) {
	venue := j.venue()
	switch {
	case ctx.Err() != nil:
		logs.Warnf("order: %s job abandoned on shutdown, err: %+v", venue, err)
		return
	case exception.IsFatal(err):
		g.halt(venue, err)
		return
	}

	if j.kind == jobQuery || j.kind == jobOpenOrders {
		logs.Warnf("order: %s query failed, err: %+v", venue, err)
		return
	}
	if uncertain(err) {
		logs.Warnf("order: %s outcome unknown, left for reconciliation, err: %+v", j.order.ClientOrderID, err)
		return
	}

	if j.kind == jobCancel {
		g.post(execution.EndpointProcess, g.event(model.OrderEventCancelRejected, j.order, err.Error()))
		if ve, ok := exception.AsVenueError(err); ok && ve.Code == exception.CodeOrderNotFound {
			if qerr := g.enqueue(job{kind: jobQuery, query: execution.QueryRequest{
				Venue:         venue,
				InstrumentID:  j.order.InstrumentID,
				ClientOrderID: j.order.ClientOrderID,
				VenueOrderID:  j.order.VenueOrderID,
			}}); qerr != nil {
				logs.Warnf("order: query after cancel of %s, err: %+v", j.order.ClientOrderID, qerr)
			}
		}
		return
	}
	logs.Warnf("order: %s rejected, err: %+v", j.order.ClientOrderID, err)
	g.post(execution.EndpointProcess, g.event(model.OrderEventRejected, j.order, err.Error()))
}

// uncertain reports whether the venue may have acted on a failed request.
func uncertain(err error) bool {
	ve, ok := exception.AsVenueError(err)
	if !ok {
		return true
	}
	switch ve.Code {
	case exception.CodeTimeout, exception.CodeTemporaryNetwork, exception.CodeConnectionLost,
		exception.CodeServiceUnavailable, exception.CodeGatewayTimeout, exception.CodeServerError:
		return true
	default:
		return false
	}
}
