package exception

import "errors"

var (
	ErrConfigEnvironment = errors.New("config: unknown environment")
	ErrConfigVenue       = errors.New("config: venue not found")
	ErrConfigInstrument  = errors.New("config: invalid instrument")
	ErrConfigQuota       = errors.New("config: invalid quota")
	ErrConfigCache       = errors.New("config: invalid cache backing")
	ErrConfigRange       = errors.New("config: value out of range")
)
