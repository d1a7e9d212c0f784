package exception

import "errors"

var (
	ErrLiveNilComponent = errors.New("live: missing component")
	ErrLiveStarted      = errors.New("live: node already started")
	ErrLiveNoDataClient = errors.New("live: no data client for venue")
)
