package msgbus

import (
	"iter"

	"github.com/yanun0323/errors"
)

// Envelope is one delivery to a handler.
type Envelope struct {
	Topic   string
	Message any
	TaskID  uint64
}

// StepKind is the outcome of resuming a handler once.
type StepKind uint8

const (
	_step_beg StepKind = iota
	StepYield
	StepComplete
	StepCancelled
	StepFailed
	_step_end
)

func (k StepKind) IsAvailable() bool {
	return k > _step_beg && k < _step_end
}

func (k StepKind) String() string {
	switch k {
	case StepYield:
		return "yield"
	case StepComplete:
		return "complete"
	case StepCancelled:
		return "cancelled"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Step is returned by Handler.Resume.
type Step struct {
	Kind    StepKind
	Command Command
	Err     error
}

func Yield(cmd Command) Step { return Step{Kind: StepYield, Command: cmd} }
func Complete() Step         { return Step{Kind: StepComplete} }

// Finish maps a handler's return error onto a terminal step.
func Finish(err error) Step {
	switch {
	case err == nil:
		return Step{Kind: StepComplete}
	case errors.Is(err, ErrCancelled):
		return Step{Kind: StepCancelled, Err: err}
	default:
		return Step{Kind: StepFailed, Err: err}
	}
}

// Handler is a resumable state machine serving one delivery. The runner
// calls Resume until it returns a terminal step, then calls Close.
type Handler interface {
	Resume() Step
	Close()
}

// HandlerFactory creates a fresh handler for each delivery.
type HandlerFactory func(env Envelope) Handler

// Coroutine adapts straight-line code into a Handler. Every yield suspends
// fn until the yielded command's tasks have finished; yield returns false
// when the runner abandons the handler, and fn should return promptly.
func Coroutine(fn func(env Envelope, yield func(Command) bool) error) HandlerFactory {
	return func(env Envelope) Handler {
		c := &coroutine{}
		c.next, c.stop = iter.Pull(func(yield func(Command) bool) {
			c.err = fn(env, yield)
		})
		return c
	}
}

type coroutine struct {
	next func() (Command, bool)
	stop func()
	err  error
}

func (c *coroutine) Resume() Step {
	cmd, ok := c.next()
	if ok {
		return Yield(cmd)
	}
	return Finish(c.err)
}

func (c *coroutine) Close() { c.stop() }

// Func adapts a handler that never yields.
func Func(fn func(env Envelope) error) HandlerFactory {
	return func(env Envelope) Handler {
		return &funcHandler{env: env, fn: fn}
	}
}

type funcHandler struct {
	env Envelope
	fn  func(Envelope) error
}

func (h *funcHandler) Resume() Step { return Finish(h.fn(h.env)) }
func (h *funcHandler) Close()       {}
