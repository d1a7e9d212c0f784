package exception

import "errors"

var (
	ErrDecodeMalformed     = errors.New("decode: malformed")
	ErrDecodeUnknownSymbol = errors.New("decode: unknown symbol")
	ErrDecodeUnsupported   = errors.New("decode: unsupported")
	ErrDecodeOutOfRange    = errors.New("decode: out of range")
)

var (
	ErrFIXMissingField   = errors.New("fix: missing required field")
	ErrFIXFieldOrder     = errors.New("fix: header fields out of order")
	ErrFIXBodyLength     = errors.New("fix: body length mismatch")
	ErrFIXChecksum       = errors.New("fix: checksum mismatch")
	ErrFIXSequenceLow    = errors.New("fix: sequence number lower than expected")
	ErrFIXInvalidTag     = errors.New("fix: invalid tag")
	ErrFIXCompIDMismatch = errors.New("fix: comp id mismatch")
)
