package network

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

// ControlEncoder renders subscribe and unsubscribe requests for a venue.
type ControlEncoder interface {
	EncodeSubscribe(topics ...string) ([]byte, error)
	EncodeUnsubscribe(topics ...string) ([]byte, error)
}

// Message is one inbound data frame.
type Message struct {
	Binary bool
	Data   []byte
	TsRecv int64
}

type SocketConfig struct {
	URL              string        `json:"url"`
	PingInterval     time.Duration `json:"ping_interval"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	WriteQueueSize   int           `json:"write_queue_size"`
	ReadLimit        int64         `json:"read_limit"`
	Backoff          Backoff       `json:"backoff"`
	Header           http.Header   `json:"-"`
}

func (c SocketConfig) withDefaults() SocketConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteQueueSize <= 0 {
		c.WriteQueueSize = 256
	}
	if c.Backoff.IsZero() {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// Socket is a reconnecting websocket client. Run owns the connection;
// other methods may be called from any goroutine. Topics are reference
// counted and resubscribed after every reconnect.
type Socket struct {
	name    string
	cfg     SocketConfig
	encoder ControlEncoder
	handler func(Message)
	clock   clock.Clock
	metrics *obs.Metrics
	dialer  *websocket.Dialer

	onConnect    func(ctx context.Context, s *Socket) error
	onDisconnect func(err error)

	mu     sync.Mutex
	topics map[string]int

	outbound  chan []byte
	kick      chan struct{}
	connected atomic.Bool
	sessions  atomic.Uint64
}

type SocketOption func(*Socket)

func WithSocketClock(c clock.Clock) SocketOption {
	return func(s *Socket) { s.clock = c }
}

func WithSocketMetrics(m *obs.Metrics) SocketOption {
	return func(s *Socket) { s.metrics = m }
}

// WithOnConnect runs fn on every new connection before topics are
// resubscribed. An error drops the connection and backs off.
func WithOnConnect(fn func(ctx context.Context, s *Socket) error) SocketOption {
	return func(s *Socket) { s.onConnect = fn }
}

func WithOnDisconnect(fn func(err error)) SocketOption {
	return func(s *Socket) { s.onDisconnect = fn }
}

// NewSocket builds a stopped socket. handler is called from the read
// goroutine, one message at a time.
func NewSocket(name string, cfg SocketConfig, encoder ControlEncoder, handler func(Message), opts ...SocketOption) (*Socket, error) {
	if len(cfg.URL) == 0 {
		return nil, errors.Wrapf(exception.ErrConnectionNilDial, "%s: empty url", name)
	}
	if handler == nil {
		return nil, errors.Wrapf(exception.ErrConnectionNilDial, "%s: nil handler", name)
	}
	cfg = cfg.withDefaults()
	s := &Socket{
		name:     name,
		cfg:      cfg,
		encoder:  encoder,
		handler:  handler,
		clock:    clock.Real(),
		dialer:   &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.HandshakeTimeout},
		topics:   make(map[string]int),
		outbound: make(chan []byte, cfg.WriteQueueSize),
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Socket) Name() string { return s.name }

func (s *Socket) Connected() bool { return s.connected.Load() }

// Sessions counts established connections.
func (s *Socket) Sessions() uint64 { return s.sessions.Load() }

// Run connects, reconnects with backoff and blocks until ctx is done.
func (s *Socket) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)
		if err != nil {
			attempt++
			logs.Warnf("%s: dial failed (attempt %d), err: %+v", s.name, attempt, err)
			if err := s.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}
		if s.cfg.ReadLimit > 0 {
			conn.SetReadLimit(s.cfg.ReadLimit)
		}

		attempt = 0
		s.drainKick()
		s.connected.Store(true)
		s.sessions.Add(1)
		logs.Infof("%s: connected to %s", s.name, s.cfg.URL)

		err = s.runSession(ctx, conn)
		s.connected.Store(false)
		s.drainOutbound()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session_end"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		if s.onDisconnect != nil {
			s.onDisconnect(err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		logs.Warnf("%s: disconnected, err: %+v", s.name, err)
		attempt++
		if err := s.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

// Subscribe increments the topic refcount and sends a subscribe request on
// the first reference while connected.
func (s *Socket) Subscribe(topic string) error {
	s.mu.Lock()
	s.topics[topic]++
	first := s.topics[topic] == 1
	s.mu.Unlock()
	if !first || !s.connected.Load() {
		return nil
	}
	return s.sendControl(true, topic)
}

// Unsubscribe decrements the refcount and sends an unsubscribe request on
// the last reference.
func (s *Socket) Unsubscribe(topic string) error {
	s.mu.Lock()
	n, ok := s.topics[topic]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if n <= 1 {
		delete(s.topics, topic)
	} else {
		s.topics[topic] = n - 1
	}
	s.mu.Unlock()
	if n > 1 || !s.connected.Load() {
		return nil
	}
	return s.sendControl(false, topic)
}

// Topics returns the subscribed topics in lexical order.
func (s *Socket) Topics() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		out = append(out, topic)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Send queues a text frame for the current connection.
func (s *Socket) Send(payload []byte) error {
	if !s.connected.Load() {
		return exception.ErrConnectionNotReady
	}
	select {
	case s.outbound <- payload:
		return nil
	default:
		s.metrics.Inc(obs.CounterStreamDrop)
		return exception.ErrConnectionWriteBuf
	}
}

// Reconnect drops the current connection. Run dials again after backoff.
func (s *Socket) Reconnect() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Socket) sendControl(subscribe bool, topics ...string) error {
	if s.encoder == nil {
		return nil
	}
	var (
		payload []byte
		err     error
	)
	if subscribe {
		payload, err = s.encoder.EncodeSubscribe(topics...)
	} else {
		payload, err = s.encoder.EncodeUnsubscribe(topics...)
	}
	if err != nil {
		return errors.Wrapf(err, "%s: encode control", s.name)
	}
	return s.Send(payload)
}

func (s *Socket) runSession(ctx context.Context, conn *websocket.Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.onConnect != nil {
		if err := s.onConnect(sessionCtx, s); err != nil {
			return errors.Wrap(err, "on connect")
		}
	}

	errCh := make(chan error, 1)
	go s.readLoop(conn, errCh)

	if topics := s.Topics(); len(topics) != 0 {
		if err := s.sendControl(true, topics...); err != nil {
			return errors.Wrap(err, "resubscribe")
		}
	}

	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-s.kick:
			return exception.ConnectionLost(s.name + ": reconnect requested")
		case payload := <-s.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return errors.Wrap(err, "write")
			}
		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return errors.Wrap(err, "ping")
			}
		}
	}
}

func (s *Socket) readLoop(conn *websocket.Conn, errCh chan<- error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			errCh <- errors.Wrap(err, "read")
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		s.handler(Message{
			Binary: msgType == websocket.BinaryMessage,
			Data:   data,
			TsRecv: s.clock.Now(),
		})
	}
}

func (s *Socket) drainOutbound() {
	for {
		select {
		case <-s.outbound:
		default:
			return
		}
	}
}

func (s *Socket) drainKick() {
	select {
	case <-s.kick:
	default:
	}
}

func (s *Socket) sleepBackoff(ctx context.Context, attempt int) error {
	return clock.Sleep(ctx, s.clock, s.cfg.Backoff.Next(attempt))
}
