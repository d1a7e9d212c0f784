// Package stream mirrors selected bus topics to Kafka off the runner
// goroutine.
package stream

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/msgbus"
	"tradecore/internal/obs"
	"tradecore/pkg/clock"
)

const (
	handlerID       = "stream.kafka"
	defaultBuffer   = 8192
	defaultMaxBatch = 256
	flushTimeout    = 5 * time.Second
	// subscriptionPriority keeps the mirror behind every in-process handler.
	subscriptionPriority = -1000
)

type Config struct {
	Brokers      []string      `json:"brokers"`
	Topic        string        `json:"topic"`
	Patterns     []string      `json:"patterns"`
	BatchTimeout time.Duration `json:"batch_timeout"`
	Buffer       int           `json:"buffer"`
	MaxBatch     int           `json:"max_batch"`
}

// Writer is the subset of *kafka.Writer used by the streamer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a synchronous writer that waits for all replicas.
func NewKafkaWriter(cfg Config) *kafka.Writer {
	timeout := cfg.BatchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: timeout,
	}
}

// Record is the value written for each mirrored publish.
type Record struct {
	Topic   string `json:"topic"`
	TsEvent int64  `json:"ts_event"`
	Payload any    `json:"payload"`
}

// Streamer queues published messages and writes them in batches.
type Streamer struct {
	cfg     Config
	writer  Writer
	clock   clock.Clock
	metrics *obs.Metrics
	ch      chan kafka.Message
}

type Option func(*Streamer)

func WithClock(c clock.Clock) Option {
	return func(s *Streamer) { s.clock = c }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(s *Streamer) { s.metrics = m }
}

func New(cfg Config, w Writer, opts ...Option) *Streamer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	s := &Streamer{
		cfg:    cfg,
		writer: w,
		clock:  clock.Real(),
		ch:     make(chan kafka.Message, cfg.Buffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach subscribes the mirror to every configured pattern.
func (s *Streamer) Attach(bus *msgbus.Bus) error {
	for _, pattern := range s.cfg.Patterns {
		if _, err := bus.Subscribe(pattern, handlerID, msgbus.Func(s.enqueue), subscriptionPriority); err != nil {
			return errors.Wrapf(err, "stream pattern %s", pattern)
		}
	}
	return nil
}

func (s *Streamer) enqueue(env msgbus.Envelope) error {
	value, err := sonic.ConfigFastest.Marshal(Record{Topic: env.Topic, TsEvent: s.clock.Now(), Payload: env.Message})
	if err != nil {
		s.metrics.Inc(obs.CounterStreamDrop)
		return errors.Wrapf(err, "marshal %s", env.Topic)
	}
	select {
	case s.ch <- kafka.Message{Key: []byte(env.Topic), Value: value}:
	default:
		s.metrics.Inc(obs.CounterStreamDrop)
		logs.Warnf("stream: buffer full, drop %s", env.Topic)
	}
	return nil
}

// Run writes queued messages until ctx is done, then flushes what is left
// and closes the writer.
func (s *Streamer) Run(ctx context.Context) error {
	logs.Infof("stream: kafka mirror of %v to %s started", s.cfg.Patterns, s.cfg.Topic)
	defer func() {
		if err := s.writer.Close(); err != nil {
			logs.Errorf("stream: close writer, err: %+v", err)
		}
	}()

	batch := make([]kafka.Message, 0, s.cfg.MaxBatch)
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return nil
		case msg := <-s.ch:
			batch = s.collect(append(batch[:0], msg))
			if err := s.writer.WriteMessages(ctx, batch...); err != nil {
				s.metrics.Add(obs.CounterStreamDrop, uint64(len(batch)))
				logs.Errorf("stream: write %d messages, err: %+v", len(batch), err)
			}
		}
	}
}

// collect appends whatever is already queued, up to MaxBatch.
func (s *Streamer) collect(batch []kafka.Message) []kafka.Message {
	for len(batch) < s.cfg.MaxBatch {
		select {
		case msg := <-s.ch:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
	return batch
}

func (s *Streamer) flush() {
	batch := s.collect(nil)
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, batch...); err != nil {
		logs.Errorf("stream: flush %d messages, err: %+v", len(batch), err)
	}
}
