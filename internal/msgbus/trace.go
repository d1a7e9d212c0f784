package msgbus

import (
	"fmt"
	"sync"
)

// TaskInfo identifies a handler task in a trace.
type TaskInfo struct {
	ID        uint64
	Parent    uint64
	Depth     int
	Topic     string
	HandlerID string
}

// Tracer observes handler tasks entering and leaving the runner.
type Tracer interface {
	Enter(info TaskInfo)
	Exit(info TaskInfo, result StepKind)
}

// TraceEvent is one recorded enter or exit.
type TraceEvent struct {
	Enter  bool
	Info   TaskInfo
	Result StepKind
}

func (e TraceEvent) String() string {
	if e.Enter {
		return "enter " + e.Info.HandlerID
	}
	if e.Result == StepComplete {
		return "exit " + e.Info.HandlerID
	}
	return fmt.Sprintf("exit %s (%s)", e.Info.HandlerID, e.Result)
}

// TraceRecorder keeps every trace event in memory.
type TraceRecorder struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (r *TraceRecorder) Enter(info TaskInfo) {
	r.mu.Lock()
	r.events = append(r.events, TraceEvent{Enter: true, Info: info})
	r.mu.Unlock()
}

func (r *TraceRecorder) Exit(info TaskInfo, result StepKind) {
	r.mu.Lock()
	r.events = append(r.events, TraceEvent{Info: info, Result: result})
	r.mu.Unlock()
}

func (r *TraceRecorder) Events() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent(nil), r.events...)
}

// Lines renders the events as "enter X" / "exit X".
func (r *TraceRecorder) Lines() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.String()
	}
	return out
}

func (r *TraceRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// WellFormed reports whether enters and exits nest properly by task id.
func WellFormed(events []TraceEvent) bool {
	var stack []uint64
	for _, e := range events {
		if e.Enter {
			stack = append(stack, e.Info.ID)
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1] != e.Info.ID {
			return false
		}
		stack = stack[:len(stack)-1]
	}
	return len(stack) == 0
}
