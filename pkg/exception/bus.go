package exception

import "errors"

var (
	ErrBusEndpointExists  = errors.New("bus: endpoint already registered")
	ErrBusEndpointMissing = errors.New("bus: no endpoint for topic")
	ErrBusNilHandler      = errors.New("bus: nil handler factory")
	ErrBusEmptyTopic      = errors.New("bus: empty topic")
	ErrBusQueueFull       = errors.New("bus: inbox full")
	ErrBusQueueClosed     = errors.New("bus: inbox closed")
	ErrBusRunnerBusy      = errors.New("bus: runner already running")
	ErrBusCancelled       = errors.New("bus: handler cancelled")
)
