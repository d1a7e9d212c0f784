package decode

import (
	"fmt"

	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

// Class groups decode failures by how a session treats them.
type Class uint8

const (
	_class_beg Class = iota
	ClassMalformed
	ClassUnknownSymbol
	ClassUnsupported
	ClassOutOfRange
	_class_end
)

func (c Class) IsAvailable() bool {
	return c > _class_beg && c < _class_end
}

func (c Class) String() string {
	switch c {
	case ClassMalformed:
		return "Malformed"
	case ClassUnknownSymbol:
		return "UnknownSymbol"
	case ClassUnsupported:
		return "Unsupported"
	case ClassOutOfRange:
		return "OutOfRange"
	default:
		return "Unknown"
	}
}

func (c Class) sentinel() error {
	switch c {
	case ClassMalformed:
		return exception.ErrDecodeMalformed
	case ClassUnknownSymbol:
		return exception.ErrDecodeUnknownSymbol
	case ClassUnsupported:
		return exception.ErrDecodeUnsupported
	case ClassOutOfRange:
		return exception.ErrDecodeOutOfRange
	default:
		return exception.ErrInternal
	}
}

// Error is a classified decode failure.
type Error struct {
	Class  Class
	Symbol string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Class.sentinel().Error()
	if e.Symbol != "" {
		msg += " " + e.Symbol
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Class.sentinel()}
	}
	return []error{e.Class.sentinel(), e.Cause}
}

func Malformed(format string, args ...any) *Error {
	return &Error{Class: ClassMalformed, Detail: fmt.Sprintf(format, args...)}
}

// MalformedErr wraps a parser error.
func MalformedErr(cause error, detail string) *Error {
	return &Error{Class: ClassMalformed, Detail: detail, Cause: cause}
}

func UnknownSymbol(symbol string) *Error {
	return &Error{Class: ClassUnknownSymbol, Symbol: symbol}
}

func Unsupported(format string, args ...any) *Error {
	return &Error{Class: ClassUnsupported, Detail: fmt.Sprintf(format, args...)}
}

func OutOfRange(cause error, detail string) *Error {
	return &Error{Class: ClassOutOfRange, Detail: detail, Cause: cause}
}

// ClassOf returns the class of err, zero when it is not a decode error.
func ClassOf(err error) Class {
	var de *Error
	if errors.As(err, &de) {
		return de.Class
	}
	return _class_beg
}
