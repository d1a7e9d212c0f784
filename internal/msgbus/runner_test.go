package msgbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/obs"
	"tradecore/pkg/exception"
)

func newTestRunner(t *testing.T, opts ...RunnerOption) (*Runner, *TraceRecorder) {
	t.Helper()
	rec := &TraceRecorder{}
	return NewRunner(NewBus("test"), append([]RunnerOption{WithTracer(rec)}, opts...)...), rec
}

// sendAll yields a send for each endpoint in order.
func sendAll(endpoints ...string) HandlerFactory {
	return Coroutine(func(env Envelope, yield func(Command) bool) error {
		for _, ep := range endpoints {
			if !yield(Send(ep, env.Message)) {
				return nil
			}
		}
		return nil
	})
}

func TestHandlerNesting(t *testing.T) {
	r, rec := newTestRunner(t)
	require.NoError(t, r.Bus().Register("A", "A", sendAll("B")))
	require.NoError(t, r.Bus().Register("B", "B", sendAll("C")))
	require.NoError(t, r.Bus().Register("C", "C", sendAll()))

	require.NoError(t, r.Send("A", "msg"))
	assert.Equal(t, []string{"enter A", "enter B", "enter C", "exit C", "exit B", "exit A"}, rec.Lines())
	assert.True(t, WellFormed(rec.Events()))
}

func TestSiblingSendsRunInOrder(t *testing.T) {
	r, rec := newTestRunner(t)
	require.NoError(t, r.Bus().Register("A", "A", sendAll("B", "C")))
	require.NoError(t, r.Bus().Register("B", "B", sendAll()))
	require.NoError(t, r.Bus().Register("C", "C", sendAll()))

	require.NoError(t, r.Send("A", nil))
	assert.Equal(t, []string{"enter A", "enter B", "exit B", "enter C", "exit C", "exit A"}, rec.Lines())

	events := rec.Events()
	assert.Equal(t, events[0].Info.ID, events[1].Info.Parent)
	assert.Equal(t, 2, events[1].Info.Depth)
}

func TestPublishPriorityAndSnapshot(t *testing.T) {
	r, rec := newTestRunner(t)
	bus := r.Bus()

	var got []string
	record := func(name string) HandlerFactory {
		return Func(func(env Envelope) error {
			got = append(got, name+":"+env.Topic)
			return nil
		})
	}
	late := record("late")
	subscriber := Coroutine(func(env Envelope, yield func(Command) bool) error {
		got = append(got, "first:"+env.Topic)
		yield(Subscribe("data.*", "late", late, 0))
		return nil
	})

	ok, err := bus.Subscribe("data.*", "low", record("low"), -1)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = bus.Subscribe("data.quotes.?", "mid", record("mid"), 0)
	require.NoError(t, err)
	_, err = bus.Subscribe("data.*", "first", subscriber, 10)
	require.NoError(t, err)
	_, err = bus.Subscribe("data.*", "mid2", record("mid2"), 0)
	require.NoError(t, err)

	ok, err = bus.Subscribe("data.*", "low", record("low"), -1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Publish("data.quotes.X", 1))
	assert.Equal(t, []string{"first:data.quotes.X", "mid:data.quotes.X", "mid2:data.quotes.X", "low:data.quotes.X"}, got)
	assert.True(t, WellFormed(rec.Events()))

	got = nil
	require.NoError(t, r.Publish("data.quotes.X", 2))
	assert.Contains(t, got, "late:data.quotes.X")

	assert.True(t, bus.Unsubscribe("data.*", "late"))
	assert.False(t, bus.Unsubscribe("data.*", "late"))
	assert.False(t, bus.HasSubscribers("other"))
}

func TestCancelledChildDoesNotUnwindParent(t *testing.T) {
	m := obs.NewMetrics()
	r, rec := newTestRunner(t, WithMetrics(m))
	require.NoError(t, r.Bus().Register("A", "A", sendAll("B", "C")))
	require.NoError(t, r.Bus().Register("B", "B", Func(func(Envelope) error { return Cancel("not today") })))
	require.NoError(t, r.Bus().Register("C", "C", Func(func(Envelope) error { return errors.New("boom") })))

	require.NoError(t, r.Send("A", nil))
	assert.Equal(t, []string{"enter A", "enter B", "exit B (cancelled)", "enter C", "exit C (failed)", "exit A"}, rec.Lines())
	assert.Equal(t, uint64(1), m.Count(obs.CounterBusCancelled))
	assert.Equal(t, uint64(1), m.Count(obs.CounterBusFailed))
	assert.Equal(t, uint64(1), m.Count(obs.CounterBusCompleted))
}

func TestPanickingHandlerFails(t *testing.T) {
	r, rec := newTestRunner(t)
	require.NoError(t, r.Bus().Register("A", "A", sendAll("P", "B")))
	require.NoError(t, r.Bus().Register("P", "P", Coroutine(func(Envelope, func(Command) bool) error {
		panic("bad handler")
	})))
	require.NoError(t, r.Bus().Register("B", "B", sendAll()))

	require.NoError(t, r.Send("A", nil))
	assert.Equal(t, []string{"enter A", "enter P", "exit P (failed)", "enter B", "exit B", "exit A"}, rec.Lines())
}

func TestMissingEndpoint(t *testing.T) {
	r, rec := newTestRunner(t)
	require.ErrorIs(t, r.Send("nowhere", nil), exception.ErrBusEndpointMissing)

	require.NoError(t, r.Bus().Register("A", "A", sendAll("nowhere")))
	require.NoError(t, r.Send("A", nil))
	assert.Equal(t, []string{"enter A", "exit A"}, rec.Lines())
}

func TestReentrantSendRejected(t *testing.T) {
	r, _ := newTestRunner(t)
	var inner error
	require.NoError(t, r.Bus().Register("A", "A", Func(func(Envelope) error {
		inner = r.Send("A", nil)
		return nil
	})))
	require.NoError(t, r.Send("A", nil))
	require.ErrorIs(t, inner, exception.ErrBusRunnerBusy)
}

func TestRegisterFromHandler(t *testing.T) {
	r, rec := newTestRunner(t)
	require.NoError(t, r.Bus().Register("boot", "boot", Coroutine(func(env Envelope, yield func(Command) bool) error {
		if !yield(Register("worker", "worker", sendAll())) {
			return nil
		}
		if !yield(Send("worker", env.Message)) {
			return nil
		}
		yield(Deregister("worker"))
		return nil
	})))

	require.NoError(t, r.Send("boot", nil))
	assert.Equal(t, []string{"enter boot", "enter worker", "exit worker", "exit boot"}, rec.Lines())
	_, ok := r.Bus().Endpoint("worker")
	assert.False(t, ok)
}

func TestCyclicPublishBounded(t *testing.T) {
	r, rec := newTestRunner(t, WithMaxDepth(64))
	hops := 0
	ping := func(next string) HandlerFactory {
		return Coroutine(func(env Envelope, yield func(Command) bool) error {
			hops++
			n := env.Message.(int)
			if n == 0 {
				return nil
			}
			yield(Publish(next, n-1))
			return nil
		})
	}
	_, err := r.Bus().Subscribe("ping", "A", ping("pong"), 0)
	require.NoError(t, err)
	_, err = r.Bus().Subscribe("pong", "B", ping("ping"), 0)
	require.NoError(t, err)

	require.NoError(t, r.Publish("ping", 10))
	assert.Equal(t, 11, hops)
	assert.True(t, WellFormed(rec.Events()))

	hops = 0
	require.NoError(t, r.Publish("ping", 1000))
	assert.Equal(t, 64, hops)
	assert.True(t, WellFormed(rec.Events()))
}

// counter is an explicit state machine handler: it yields one send per
// resume until it has sent n messages.
type counter struct {
	env  Envelope
	sent int
	n    int
}

func (c *counter) Resume() Step {
	if c.sent == c.n {
		return Complete()
	}
	c.sent++
	return Yield(Send("sink", c.sent))
}

func (c *counter) Close() {}

func TestStateMachineHandler(t *testing.T) {
	r, rec := newTestRunner(t)
	var got []any
	require.NoError(t, r.Bus().Register("count", "count", func(env Envelope) Handler {
		return &counter{env: env, n: 3}
	}))
	require.NoError(t, r.Bus().Register("sink", "sink", Func(func(env Envelope) error {
		got = append(got, env.Message)
		return nil
	})))
	require.NoError(t, r.Send("count", nil))
	assert.Equal(t, []any{1, 2, 3}, got)
	assert.Len(t, rec.Events(), 8)
}

func TestInboxRun(t *testing.T) {
	r, _ := newTestRunner(t, WithInboxCapacity(2))
	got := make(chan any, 4)
	require.NoError(t, r.Bus().Register("A", "A", Func(func(env Envelope) error {
		got <- env.Message
		return nil
	})))

	require.NoError(t, r.PostSend("A", 1))
	require.NoError(t, r.PostSend("A", 2))
	require.ErrorIs(t, r.PostSend("A", 3), exception.ErrBusQueueFull)
	assert.Equal(t, 2, r.RunUntilIdle())
	assert.Equal(t, 1, <-got)
	assert.Equal(t, 2, <-got)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, r.PostSend("A", 4))
	select {
	case v := <-got:
		assert.Equal(t, 4, v)
	case <-time.After(time.Second):
		t.Fatal("runner did not deliver the post")
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	r.Inbox().Close()
	require.ErrorIs(t, r.PostPublish("A", 5), exception.ErrBusQueueClosed)
}

func TestBusRegistration(t *testing.T) {
	bus := NewBus("test")
	require.ErrorIs(t, bus.Register("", "x", sendAll()), exception.ErrBusEmptyTopic)
	require.ErrorIs(t, bus.Register("a", "x", nil), exception.ErrBusNilHandler)
	require.NoError(t, bus.Register("b", "x", sendAll()))
	require.NoError(t, bus.Register("a", "x", sendAll()))
	require.ErrorIs(t, bus.Register("a", "y", sendAll()), exception.ErrBusEndpointExists)
	assert.Equal(t, []string{"a", "b"}, bus.Endpoints())
	require.NoError(t, bus.Deregister("a"))
	require.ErrorIs(t, bus.Deregister("a"), exception.ErrBusEndpointMissing)
}
