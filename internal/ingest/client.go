package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/decode"
	"tradecore/internal/execution"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/msgbus"
	"tradecore/internal/network"
	"tradecore/internal/obs"
	"tradecore/internal/recorder"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const defaultResyncQueue = 64

type Config struct {
	Socket network.SocketConfig `json:"socket"`
	// MaxMalformed consecutive malformed frames force a reconnect.
	MaxMalformed  int                 `json:"max_malformed"`
	SnapshotRetry network.RetryConfig `json:"snapshot_retry"`
	ResyncQueue   int                 `json:"resync_queue"`
	// KeepAlive is the listen key refresh period of user data streams.
	KeepAlive time.Duration `json:"keep_alive"`
}

type topicKey struct {
	instrument model.InstrumentID
	topic      enum.Topic
}

type topicState struct {
	stream   string
	refCount int
}

// Client is the data client of one venue. Frames are decoded on the socket
// read goroutine and posted to the runner; nothing here touches bus state.
type Client struct {
	cfg      Config
	venue    Venue
	runner   *msgbus.Runner
	socket   *network.Socket
	recorder *recorder.Writer
	retrier  *network.Retrier
	clock    clock.Clock
	metrics  *obs.Metrics

	// mu serialises the decoder between frames and snapshots.
	mu      sync.Mutex
	session *decode.Session

	subMu   sync.Mutex
	topics  map[topicKey]*topicState
	books   map[model.InstrumentID]model.Instrument
	pending map[model.InstrumentID]struct{}

	resync  chan model.InstrumentID
	running atomic.Bool
}

type Option func(*Client)

func WithRecorder(w *recorder.Writer) Option {
	return func(c *Client) { c.recorder = w }
}

func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(cfg Config, venue Venue, runner *msgbus.Runner, opts ...Option) (*Client, error) {
	if venue == nil || runner == nil {
		return nil, errors.Wrap(exception.ErrIngestInvalidRequest, "nil venue or runner")
	}
	if cfg.ResyncQueue <= 0 {
		cfg.ResyncQueue = defaultResyncQueue
	}
	if cfg.SnapshotRetry == (network.RetryConfig{}) {
		cfg.SnapshotRetry = network.DefaultRetryConfig()
	}
	c := &Client{
		cfg:     cfg,
		venue:   venue,
		runner:  runner,
		clock:   clock.Real(),
		topics:  make(map[topicKey]*topicState),
		books:   make(map[model.InstrumentID]model.Instrument),
		pending: make(map[model.InstrumentID]struct{}),
		resync:  make(chan model.InstrumentID, cfg.ResyncQueue),
	}
	for _, opt := range opts {
		opt(c)
	}
	name := "ingest " + string(venue.Name())
	c.session = decode.NewSession(name, venue.Decoder(),
		decode.WithClock(c.clock),
		decode.WithMetrics(c.metrics),
		decode.WithMaxMalformed(cfg.MaxMalformed),
	)
	c.retrier = network.NewRetrier(cfg.SnapshotRetry,
		network.WithRetryClock(c.clock),
		network.WithRetryMetrics(c.metrics),
	)

	socket, err := network.NewSocket(name, cfg.Socket, venue, c.handle,
		network.WithSocketClock(c.clock),
		network.WithSocketMetrics(c.metrics),
		network.WithOnConnect(c.onConnect),
	)
	if err != nil {
		return nil, err
	}
	c.socket = socket
	return c, nil
}

func (c *Client) Venue() model.Venue { return c.venue.Name() }

func (c *Client) Connected() bool { return c.socket.Connected() }

// Run drives the socket and the snapshot worker until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	if c.running.Swap(true) {
		return nil
	}
	defer c.running.Store(false)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return c.socket.Run(egCtx) })
	eg.Go(func() error { return c.snapshots(egCtx) })
	err := eg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Subscribe adds a reference to topic for inst. The first depth reference
// also requests a snapshot.
func (c *Client) Subscribe(inst model.Instrument, topic enum.Topic) error {
	if inst.ID.Venue != c.venue.Name() || !topic.IsAvailable() {
		return errors.Wrapf(exception.ErrIngestInvalidRequest, "%s %s on %s", inst.ID, topic, c.venue.Name())
	}
	stream, err := c.venue.Stream(inst, topic)
	if err != nil {
		return err
	}

	key := topicKey{instrument: inst.ID, topic: topic}
	c.subMu.Lock()
	if state := c.topics[key]; state != nil {
		state.refCount++
		c.subMu.Unlock()
		return nil
	}
	c.topics[key] = &topicState{stream: stream, refCount: 1}
	if topic == enum.TopicDepth {
		c.books[inst.ID] = inst
	}
	c.subMu.Unlock()

	if err := c.socket.Subscribe(stream); err != nil {
		logs.Warnf("ingest: subscribe %s queued for reconnect, err: %+v", stream, err)
	}
	logs.Infof("ingest: subscribed %s %s as %s", inst.ID, topic, stream)
	if topic == enum.TopicDepth {
		c.Resync(inst.ID)
	}
	return nil
}

// Unsubscribe drops a reference; the last one leaves the venue stream.
func (c *Client) Unsubscribe(id model.InstrumentID, topic enum.Topic) error {
	key := topicKey{instrument: id, topic: topic}
	c.subMu.Lock()
	state := c.topics[key]
	if state == nil {
		c.subMu.Unlock()
		return errors.Wrapf(exception.ErrIngestUnknownTopic, "%s %s", id, topic)
	}
	state.refCount--
	remove := state.refCount <= 0
	if remove {
		delete(c.topics, key)
		if topic == enum.TopicDepth {
			delete(c.books, id)
		}
	}
	c.subMu.Unlock()

	if !remove {
		return nil
	}
	logs.Infof("ingest: unsubscribed %s %s", id, topic)
	return c.socket.Unsubscribe(state.stream)
}

// Resync requests a depth snapshot for id. It never blocks and coalesces
// requests while one is pending, so the book engine may call it from the
// runner.
func (c *Client) Resync(id model.InstrumentID) {
	c.subMu.Lock()
	_, subscribed := c.books[id]
	_, busy := c.pending[id]
	if subscribed && !busy {
		c.pending[id] = struct{}{}
	}
	c.subMu.Unlock()
	if !subscribed || busy {
		return
	}

	select {
	case c.resync <- id:
	default:
		c.done(id)
		logs.Warnf("ingest: resync of %s dropped, queue full", id)
	}
}

func (c *Client) done(id model.InstrumentID) {
	c.subMu.Lock()
	delete(c.pending, id)
	c.subMu.Unlock()
}

func (c *Client) onConnect(context.Context, *network.Socket) error {
	c.mu.Lock()
	c.session.Reset()
	c.mu.Unlock()

	c.subMu.Lock()
	ids := make([]model.InstrumentID, 0, len(c.books))
	for id := range c.books {
		ids = append(ids, id)
	}
	c.subMu.Unlock()
	for _, id := range ids {
		c.Resync(id)
	}
	return nil
}

func (c *Client) handle(msg network.Message) {
	kind := recorder.FrameJSON
	if msg.Binary {
		kind = recorder.FrameBinary
	}
	c.record(recorder.Frame{Kind: kind, TsRecv: msg.TsRecv, Payload: msg.Data})

	c.mu.Lock()
	ev, ok, err := c.session.Decode(msg.Data)
	c.mu.Unlock()
	if err != nil {
		logs.Errorf("ingest: %s reconnecting, err: %+v", c.venue.Name(), err)
		c.socket.Reconnect()
		return
	}
	if ok {
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev decode.Event) {
	switch ev.Kind {
	case decode.EventHeartbeat:
	case decode.EventReport:
		c.post(execution.EndpointReconcile, ev.Reports)
	case decode.EventReject:
		logs.Warnf("ingest: %s rejected %s: %s %s", ev.Reject.Venue, ev.Reject.RefID, ev.Reject.Code, ev.Reject.Reason)
	case decode.EventControl:
		if err := c.socket.Send(ev.Control.Reply); err != nil {
			logs.Errorf("ingest: %s reply to %s, err: %+v", c.venue.Name(), ev.Control.Note, err)
		}
	default:
		c.post(EndpointData, ev)
	}
}

func (c *Client) post(endpoint string, msg any) {
	if err := c.runner.PostSend(endpoint, msg); err != nil {
		logs.Errorf("ingest: %s post %s, err: %+v", c.venue.Name(), endpoint, err)
	}
}

func (c *Client) record(f recorder.Frame) {
	if c.recorder == nil {
		return
	}
	f.Source = c.venue.Name()
	if err := c.recorder.Append(f); err != nil {
		c.metrics.Inc(obs.CounterStreamDrop)
		logs.Debugf("ingest: record %s frame, err: %+v", f.Kind, err)
	}
}

func (c *Client) snapshots(ctx context.Context) error {
	snap, ok := c.venue.(Snapshotter)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-c.resync:
			if !ok {
				logs.Warnf("ingest: resync %s, err: %+v", id, exception.ErrIngestNoSnapshot)
				c.done(id)
				continue
			}
			c.snapshot(ctx, snap, id)
			c.done(id)
		}
	}
}

func (c *Client) snapshot(ctx context.Context, snap Snapshotter, id model.InstrumentID) {
	c.subMu.Lock()
	inst, ok := c.books[id]
	c.subMu.Unlock()
	if !ok {
		return
	}

	body, err := network.Do(ctx, c.retrier, "snapshot "+id.String(), func(ctx context.Context) ([]byte, error) {
		return snap.FetchSnapshot(ctx, inst)
	})
	if err != nil {
		if ctx.Err() == nil {
			logs.Errorf("ingest: snapshot %s, err: %+v", id, err)
		}
		return
	}
	c.record(recorder.Frame{Kind: recorder.FrameSnapshot, TsRecv: c.clock.Now(), Symbol: string(inst.RawSymbol), Payload: body})

	c.mu.Lock()
	ev, err := snap.DecodeSnapshot(inst, body)
	c.mu.Unlock()
	if err != nil {
		logs.Errorf("ingest: decode snapshot %s, err: %+v", id, err)
		return
	}
	logs.Infof("ingest: snapshot %s with %d levels", id, len(ev.Deltas))
	c.post(EndpointData, ev)
}
