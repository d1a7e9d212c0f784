package exception

import "errors"

var (
	ErrBookInvalidSide      = errors.New("book: invalid order side")
	ErrBookInvalidAction    = errors.New("book: invalid delta action")
	ErrBookInvalidType      = errors.New("book: invalid book type")
	ErrBookInstrumentMatch  = errors.New("book: delta instrument mismatch")
	ErrBookEmptyBatch       = errors.New("book: empty batch")
	ErrBookUnknown          = errors.New("book: unknown instrument")
	ErrBookExists           = errors.New("book: instrument already registered")
	ErrBookSequenceDecrease = errors.New("book: sequence not contiguous within batch")
	ErrBookBufferFull       = errors.New("book: resync buffer full")
	ErrBookDeleteWithSize   = errors.New("book: delete with size")
)
