package exception

import "errors"

var (
	ErrRecorderConfig     = errors.New("recorder: invalid config")
	ErrRecorderQueueFull  = errors.New("recorder: queue full")
	ErrRecorderClosed     = errors.New("recorder: closed")
	ErrRecorderNotStarted = errors.New("recorder: not started")
	ErrRecorderStarted    = errors.New("recorder: already started")
	ErrRecorderTooLarge   = errors.New("recorder: payload too large")
	ErrRecorderSource     = errors.New("recorder: source name too long")
	ErrRecorderMagic      = errors.New("recorder: invalid magic")
	ErrRecorderVersion    = errors.New("recorder: unsupported version")
	ErrRecorderHeaderSize = errors.New("recorder: invalid header size")
	ErrRecorderChecksum   = errors.New("recorder: checksum mismatch")
	ErrRecorderNilHandler = errors.New("recorder: nil playback handler")
)
