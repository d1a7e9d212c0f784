package exception

import "errors"

var (
	ErrConnectionNotReady = errors.New("connection: not ready")
	ErrConnectionNilDial  = errors.New("connection: nil dialer")
	ErrConnectionWriteBuf = errors.New("connection: write buffer full")
)
