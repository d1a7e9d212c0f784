package msgbus

import (
	"context"
	"sync/atomic"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/obs"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const (
	defaultInboxCapacity = 4096
	defaultMaxDepth      = 1024
)

type taskKind uint8

const (
	taskSend taskKind = iota + 1
	taskPublish
)

type task struct {
	kind    taskKind
	info    TaskInfo
	env     Envelope
	sub     *Subscription
	handler Handler
	started bool
	startTs int64

	// publish only: subscriptions captured when the publish was issued.
	subs []*Subscription
	idx  int
}

// Runner drives handler tasks on one goroutine with an explicit LIFO task
// stack: a child task pushed by a yield finishes before its parent resumes.
type Runner struct {
	bus      *Bus
	inbox    *Inbox
	tracer   Tracer
	metrics  *obs.Metrics
	clock    clock.Clock
	ids      *obs.TraceGenerator
	maxDepth int

	stack    []*task
	draining atomic.Bool
	looping  atomic.Bool
}

type RunnerOption func(*Runner)

func WithTracer(t Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

func WithMetrics(m *obs.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func WithClock(c clock.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

func WithInboxCapacity(n int) RunnerOption {
	return func(r *Runner) { r.inbox = NewInbox(n) }
}

// WithMaxDepth bounds how deeply tasks may nest.
func WithMaxDepth(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

func NewRunner(bus *Bus, opts ...RunnerOption) *Runner {
	r := &Runner{
		bus:      bus,
		inbox:    NewInbox(defaultInboxCapacity),
		clock:    clock.Real(),
		ids:      obs.NewTraceGenerator(1),
		maxDepth: defaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Bus() *Bus       { return r.bus }
func (r *Runner) Inbox() *Inbox   { return r.inbox }
func (r *Runner) IsRunning() bool { return r.looping.Load() }

// Send delivers msg to endpoint and runs every resulting task to
// completion. It must be called from the goroutine that owns the runner and
// never from inside a handler; other goroutines use PostSend.
func (r *Runner) Send(endpoint string, msg any) error {
	return r.dispatch(Post{Kind: CommandSend, Topic: endpoint, Message: msg})
}

// Publish delivers msg to every subscription matching topic. Same calling
// rules as Send.
func (r *Runner) Publish(topic string, msg any) error {
	return r.dispatch(Post{Kind: CommandPublish, Topic: topic, Message: msg})
}

// PostSend queues a send for the runner from any goroutine.
func (r *Runner) PostSend(endpoint string, msg any) error {
	return r.post(Post{Kind: CommandSend, Topic: endpoint, Message: msg})
}

// PostPublish queues a publish for the runner from any goroutine.
func (r *Runner) PostPublish(topic string, msg any) error {
	return r.post(Post{Kind: CommandPublish, Topic: topic, Message: msg})
}

func (r *Runner) post(p Post) error {
	if err := r.inbox.TryPost(p); err != nil {
		r.metrics.Inc(obs.CounterInboxDrop)
		return errors.Wrapf(err, "%s %s", p.Kind, p.Topic)
	}
	return nil
}

// Run consumes the inbox until ctx is done or the inbox is closed and
// drained.
func (r *Runner) Run(ctx context.Context) error {
	if !r.looping.CompareAndSwap(false, true) {
		return exception.ErrBusRunnerBusy
	}
	defer r.looping.Store(false)
	logs.Infof("bus: %s runner started", r.bus.name)
	defer logs.Infof("bus: %s runner stopped", r.bus.name)

	for {
		p, ok := r.inbox.next(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := r.dispatch(p); err != nil {
			logs.Warnf("bus: %s dispatch %s %s, err: %+v", r.bus.name, p.Kind, p.Topic, err)
		}
	}
}

// RunUntilIdle dispatches queued posts until the inbox is empty and returns
// how many were handled.
func (r *Runner) RunUntilIdle() int {
	n := 0
	for {
		p, ok := r.inbox.poll()
		if !ok {
			return n
		}
		if err := r.dispatch(p); err != nil {
			logs.Warnf("bus: %s dispatch %s %s, err: %+v", r.bus.name, p.Kind, p.Topic, err)
		}
		n++
	}
}

func (r *Runner) dispatch(p Post) error {
	if p.Topic == "" {
		return exception.ErrBusEmptyTopic
	}
	if !r.draining.CompareAndSwap(false, true) {
		return errors.Wrapf(exception.ErrBusRunnerBusy, "%s %s", p.Kind, p.Topic)
	}
	defer r.draining.Store(false)

	var err error
	switch p.Kind {
	case CommandSend:
		err = r.pushSend(p.Topic, p.Message, TaskInfo{})
	case CommandPublish:
		r.pushPublish(p.Topic, p.Message, TaskInfo{})
	default:
		err = errors.Errorf("bus: cannot dispatch %s", p.Kind)
	}
	if err != nil {
		return err
	}
	r.drain()
	return nil
}

func (r *Runner) pushSend(endpoint string, msg any, parent TaskInfo) error {
	sub, ok := r.bus.Endpoint(endpoint)
	if !ok {
		return errors.Wrapf(exception.ErrBusEndpointMissing, "endpoint %s", endpoint)
	}
	return r.pushHandler(sub, endpoint, msg, parent)
}

func (r *Runner) pushHandler(sub *Subscription, topic string, msg any, parent TaskInfo) error {
	depth := parent.Depth + 1
	if depth > r.maxDepth {
		return errors.Errorf("bus: task depth %d exceeds %d at %s", depth, r.maxDepth, topic)
	}
	id := r.ids.Next()
	r.metrics.Inc(obs.CounterBusSend)
	r.stack = append(r.stack, &task{
		kind: taskSend,
		info: TaskInfo{ID: id, Parent: parent.ID, Depth: depth, Topic: topic, HandlerID: sub.HandlerID},
		env:  Envelope{Topic: topic, Message: msg, TaskID: id},
		sub:  sub,
	})
	return nil
}

func (r *Runner) pushPublish(topic string, msg any, parent TaskInfo) {
	subs := r.bus.Subscriptions(topic)
	r.metrics.Inc(obs.CounterBusPublish)
	if len(subs) == 0 {
		return
	}
	r.stack = append(r.stack, &task{
		kind: taskPublish,
		info: parent,
		env:  Envelope{Topic: topic, Message: msg},
		subs: subs,
	})
}

func (r *Runner) drain() {
	for len(r.stack) > 0 {
		t := r.stack[len(r.stack)-1]
		if t.kind == taskPublish {
			if t.idx >= len(t.subs) {
				r.pop()
				continue
			}
			sub := t.subs[t.idx]
			t.idx++
			if err := r.pushHandler(sub, t.env.Topic, t.env.Message, t.info); err != nil {
				logs.Errorf("bus: %s publish %s to %s, err: %+v", r.bus.name, t.env.Topic, sub.HandlerID, err)
			}
			continue
		}
		r.step(t)
	}
}

func (r *Runner) pop() {
	r.stack[len(r.stack)-1] = nil
	r.stack = r.stack[:len(r.stack)-1]
}

func (r *Runner) step(t *task) {
	if !t.started {
		t.started = true
		t.startTs = r.clock.Now()
		if r.tracer != nil {
			r.tracer.Enter(t.info)
		}
		h, err := r.create(t)
		if err != nil {
			r.finish(t, Step{Kind: StepFailed, Err: err})
			return
		}
		t.handler = h
	}

	st := r.resume(t)
	switch st.Kind {
	case StepYield:
		r.execute(t, st.Command)
	case StepComplete, StepCancelled, StepFailed:
		r.finish(t, st)
	default:
		r.finish(t, Step{Kind: StepFailed, Err: errors.Errorf("bus: invalid step %d", st.Kind)})
	}
}

func (r *Runner) create(t *task) (h Handler, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("bus: handler %s factory panic: %v", t.info.HandlerID, p)
		}
	}()
	h = t.sub.Factory(t.env)
	if h == nil {
		return nil, errors.Wrapf(exception.ErrBusNilHandler, "handler %s", t.info.HandlerID)
	}
	return h, nil
}

func (r *Runner) resume(t *task) (st Step) {
	defer func() {
		if p := recover(); p != nil {
			st = Step{Kind: StepFailed, Err: errors.Errorf("bus: handler %s panic: %v", t.info.HandlerID, p)}
		}
	}()
	return t.handler.Resume()
}

// execute applies a yielded command. Send and Publish push child tasks;
// bus mutations take effect before the handler resumes.
func (r *Runner) execute(t *task, cmd Command) {
	var err error
	switch cmd.Kind {
	case CommandSend:
		err = r.pushSend(cmd.Topic, cmd.Message, t.info)
	case CommandPublish:
		r.pushPublish(cmd.Topic, cmd.Message, t.info)
	case CommandRegister:
		err = r.bus.Register(cmd.Topic, cmd.HandlerID, cmd.Factory)
	case CommandDeregister:
		err = r.bus.Deregister(cmd.Topic)
	case CommandSubscribe:
		_, err = r.bus.Subscribe(cmd.Topic, cmd.HandlerID, cmd.Factory, cmd.Priority)
	case CommandUnsubscribe:
		r.bus.Unsubscribe(cmd.Topic, cmd.HandlerID)
	default:
		err = errors.Errorf("bus: unknown command %d", cmd.Kind)
	}
	if err != nil {
		logs.Warnf("bus: %s handler %s %s %s, err: %+v", r.bus.name, t.info.HandlerID, cmd.Kind, cmd.Topic, err)
	}
}

func (r *Runner) finish(t *task, st Step) {
	r.pop()
	if t.handler != nil {
		t.handler.Close()
	}
	if r.tracer != nil {
		r.tracer.Exit(t.info, st.Kind)
	}
	r.metrics.Since(obs.LatencyBusTask, t.startTs, r.clock.Now())
	switch st.Kind {
	case StepComplete:
		r.metrics.Inc(obs.CounterBusCompleted)
	case StepCancelled:
		r.metrics.Inc(obs.CounterBusCancelled)
		logs.Debugf("bus: %s handler %s cancelled, err: %+v", r.bus.name, t.info.HandlerID, st.Err)
	default:
		r.metrics.Inc(obs.CounterBusFailed)
		logs.Errorf("bus: %s handler %s on %s failed, err: %+v", r.bus.name, t.info.HandlerID, t.env.Topic, st.Err)
	}
}
