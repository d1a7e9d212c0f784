package exception

import "errors"

// General errors
var (
	ErrTypeUnsupported = errors.New("type unsupported")
	ErrInternal        = errors.New("internal error")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBuffTooSmall    = errors.New("encode buff is too small")
)
