// Package live runs a trading node: it wires the data clients, the book
// engine, the execution side and the order gateway onto one bus runner and
// owns their lifecycles.
package live

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/book"
	"tradecore/internal/cache"
	"tradecore/internal/execution"
	"tradecore/internal/ingest"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/msgbus"
	"tradecore/internal/obs"
	"tradecore/internal/order"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const defaultShutdownTimeout = 10 * time.Second

// endpointBarrier closes the channel it is sent once every earlier post has
// been handled.
const endpointBarrier = "live.barrier"

// State is the node lifecycle.
type State uint32

const (
	_state_beg State = iota
	StateInitialized
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	_state_end
)

func (s State) IsAvailable() bool {
	return s > _state_beg && s < _state_end
}

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Config struct {
	TraderID       model.TraderID `json:"trader_id"`
	Reconciliation bool           `json:"reconciliation"`
	// StartupDelay lets the clients connect before the mass status request.
	StartupDelay     time.Duration `json:"startup_delay"`
	Lookback         time.Duration `json:"lookback"`
	InflightInterval time.Duration `json:"inflight_interval"`
	OpenInterval     time.Duration `json:"open_interval"`
	ShutdownTimeout  time.Duration `json:"shutdown_timeout"`
	// StatusAddr serves the status endpoint; empty disables it.
	StatusAddr string `json:"status_addr"`
}

// DataClient is a market data client of one venue. *ingest.Client
// implements it.
type DataClient interface {
	Venue() model.Venue
	Connected() bool
	Subscribe(inst model.Instrument, topic enum.Topic) error
	Resync(id model.InstrumentID)
	Run(ctx context.Context) error
}

var _ DataClient = (*ingest.Client)(nil)

// Parts are the components the node drives. Books should route resyncs
// through ResyncTo over the same data clients.
type Parts struct {
	Runner     *msgbus.Runner
	Cache      *cache.Cache
	Books      *book.Engine
	Reconciler *execution.Reconciler
	Gateway    *order.Gateway
	Data       []DataClient
}

type subscription struct {
	instrument model.Instrument
	topic      enum.Topic
}

type service struct {
	name string
	run  func(ctx context.Context) error
}

type Node struct {
	cfg        Config
	runner     *msgbus.Runner
	cache      *cache.Cache
	books      *book.Engine
	reconciler *execution.Reconciler
	gateway    *order.Gateway
	data       map[model.Venue]DataClient
	clock      clock.Clock
	metrics    *obs.Metrics

	subs     []subscription
	services []service

	state   atomic.Uint32
	started atomic.Bool
}

type Option func(*Node)

func WithClock(c clock.Clock) Option {
	return func(n *Node) { n.clock = c }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// WithSubscription subscribes inst to topic on its venue's data client at
// startup.
func WithSubscription(inst model.Instrument, topic enum.Topic) Option {
	return func(n *Node) { n.subs = append(n.subs, subscription{instrument: inst, topic: topic}) }
}

// WithService runs fn alongside the node until shutdown.
func WithService(name string, fn func(ctx context.Context) error) Option {
	return func(n *Node) { n.services = append(n.services, service{name: name, run: fn}) }
}

// ResyncTo routes book resync requests to the data client of the
// instrument's venue.
func ResyncTo(clients ...DataClient) book.ResyncFunc {
	byVenue := make(map[model.Venue]DataClient, len(clients))
	for _, c := range clients {
		byVenue[c.Venue()] = c
	}
	return func(id model.InstrumentID) {
		c, ok := byVenue[id.Venue]
		if !ok {
			logs.Warnf("live: resync %s, err: %+v", id, exception.ErrLiveNoDataClient)
			return
		}
		c.Resync(id)
	}
}

// NewNode binds the data, execution and command endpoints on the runner's
// bus.
func NewNode(cfg Config, parts Parts, opts ...Option) (*Node, error) {
	if parts.Runner == nil || parts.Cache == nil || parts.Books == nil || parts.Reconciler == nil {
		return nil, errors.Wrap(exception.ErrLiveNilComponent, "runner, cache, books and reconciler are required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	n := &Node{
		cfg:        cfg,
		runner:     parts.Runner,
		cache:      parts.Cache,
		books:      parts.Books,
		reconciler: parts.Reconciler,
		gateway:    parts.Gateway,
		data:       make(map[model.Venue]DataClient, len(parts.Data)),
		clock:      clock.Real(),
	}
	for _, c := range parts.Data {
		n.data[c.Venue()] = c
	}
	for _, opt := range opts {
		opt(n)
	}
	for _, s := range n.subs {
		if _, ok := n.data[s.instrument.ID.Venue]; !ok {
			return nil, errors.Wrapf(exception.ErrLiveNoDataClient, "%s", s.instrument.ID)
		}
	}

	bus := n.runner.Bus()
	if err := n.reconciler.Register(bus); err != nil {
		return nil, err
	}
	if n.gateway != nil {
		if err := n.gateway.Register(bus); err != nil {
			return nil, err
		}
	}
	if err := bus.Register(ingest.EndpointData, "live.data", msgbus.Coroutine(n.handleData)); err != nil {
		return nil, errors.Wrapf(err, "register %s", ingest.EndpointData)
	}
	if err := bus.Register(endpointBarrier, endpointBarrier, msgbus.Func(handleBarrier)); err != nil {
		return nil, errors.Wrapf(err, "register %s", endpointBarrier)
	}
	n.setState(StateInitialized)
	return n, nil
}

func (n *Node) State() State { return State(n.state.Load()) }

func (n *Node) setState(s State) {
	n.state.Store(uint32(s))
	logs.Infof("live: node %s %s", n.cfg.TraderID, s)
}

func (n *Node) Books() *book.Engine { return n.books }

// Run starts every component and blocks until ctx is done or one of them
// fails. Shutdown stops the periodic checks first, then drains the runner
// inbox while the gateway and the data clients are still up, and only then
// stops them and flushes the cache.
func (n *Node) Run(ctx context.Context) error {
	if n.started.Swap(true) {
		return exception.ErrLiveStarted
	}
	n.setState(StateStarting)
	for _, s := range n.subs {
		if err := n.data[s.instrument.ID.Venue].Subscribe(s.instrument, s.topic); err != nil {
			n.setState(StateStopped)
			return errors.Wrapf(err, "subscribe %s %s", s.instrument.ID, s.topic)
		}
	}

	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()
	busCtx, stopBus := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBus()
	ioCtx, cancelIO := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelIO()

	var (
		once    sync.Once
		failure error
	)
	fail := func(err error) {
		once.Do(func() {
			failure = err
			cancelTasks()
		})
	}

	var busGroup, ioGroup, taskGroup errgroup.Group
	n.spawn(&busGroup, busCtx, "bus runner", n.runner.Run, fail)
	if n.gateway != nil {
		n.spawn(&ioGroup, ioCtx, "order gateway", n.gateway.Run, fail)
	}
	for venue, c := range n.data {
		n.spawn(&ioGroup, ioCtx, "data client "+string(venue), c.Run, fail)
	}
	for _, s := range n.services {
		n.spawn(&ioGroup, ioCtx, s.name, s.run, fail)
	}
	if n.cfg.StatusAddr != "" {
		n.spawn(&ioGroup, ioCtx, "status server", NewStatusServer(n.cfg.StatusAddr, n).Run, fail)
	}
	n.spawn(&taskGroup, taskCtx, "startup", n.startup, fail)

	<-taskCtx.Done()
	_ = taskGroup.Wait()
	n.setState(StateStopping)
	stopBus()
	_ = busGroup.Wait()
	drained := n.runner.RunUntilIdle()
	cancelIO()
	_ = ioGroup.Wait()
	n.shutdown(drained)

	if failure != nil && ctx.Err() == nil {
		return failure
	}
	return nil
}

// spawn runs fn in g and reports its failure. Errors after cancellation are
// shutdown noise.
func (n *Node) spawn(g *errgroup.Group, ctx context.Context, name string, fn func(ctx context.Context) error, fail func(error)) {
	g.Go(func() error {
		err := fn(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		logs.Errorf("live: %s stopped, err: %+v", name, err)
		fail(errors.Wrap(err, name))
		return err
	})
}

func (n *Node) startup(ctx context.Context) error {
	if err := clock.Sleep(ctx, n.clock, n.cfg.StartupDelay); err != nil {
		return nil
	}
	if n.cfg.Reconciliation && n.gateway != nil {
		n.reconcileVenues(ctx)
		if err := n.barrier(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logs.Errorf("live: wait for startup reconciliation, err: %+v", err)
		}
	}
	n.setState(StateRunning)
	return n.periodic(ctx)
}

// reconcileVenues requests a mass status per venue and hands each to the
// reconciler. A failed venue is logged and left to the periodic checks.
func (n *Node) reconcileVenues(ctx context.Context) {
	for _, venue := range n.gateway.Venues() {
		ms, err := n.gateway.MassStatus(ctx, venue, n.cfg.Lookback)
		if err != nil {
			if ctx.Err() == nil {
				logs.Errorf("live: mass status %s, err: %+v", venue, err)
			}
			continue
		}
		logs.Infof("live: mass status %s with %d orders, %d fills, %d positions",
			venue, len(ms.OrderReports), len(ms.FillReports), len(ms.PositionReports))
		n.post(execution.EndpointReconcile, ms)
	}
}

// barrier blocks until the runner has handled every post queued before it.
func (n *Node) barrier(ctx context.Context) error {
	done := make(chan struct{})
	if err := n.runner.PostSend(endpointBarrier, done); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func handleBarrier(env msgbus.Envelope) error {
	done, ok := env.Message.(chan struct{})
	if !ok {
		return errors.Errorf("live: barrier got %T", env.Message)
	}
	close(done)
	return nil
}

func (n *Node) periodic(ctx context.Context) error {
	inflight := n.timer(n.cfg.InflightInterval)
	open := n.timer(n.cfg.OpenInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-inflight:
			n.post(execution.EndpointCheckInflight, struct{}{})
			inflight = n.timer(n.cfg.InflightInterval)
		case <-open:
			n.post(execution.EndpointCheckOpen, struct{}{})
			open = n.timer(n.cfg.OpenInterval)
		}
	}
}

// timer returns nil, which never fires, for a disabled interval.
func (n *Node) timer(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	return n.clock.After(d)
}

func (n *Node) post(endpoint string, msg any) {
	if err := n.runner.PostSend(endpoint, msg); err != nil {
		logs.Errorf("live: post %s, err: %+v", endpoint, err)
	}
}

func (n *Node) shutdown(drained int) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ShutdownTimeout)
	defer cancel()
	if err := n.cache.Flush(ctx); err != nil {
		logs.Errorf("live: flush cache, err: %+v", err)
	}
	logs.Infof("live: drained %d posts", drained)
	n.setState(StateStopped)
}
