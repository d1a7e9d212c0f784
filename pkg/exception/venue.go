package exception

import (
	"fmt"
	"net/http"
	"time"

	"github.com/yanun0323/errors"
)

// Kind is the handling class of a venue error.
type Kind uint8

const (
	_kind_beg Kind = iota
	KindRetryable
	KindNonRetryable
	KindFatal
	_kind_end
)

func (k Kind) IsAvailable() bool {
	return k > _kind_beg && k < _kind_end
}

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindNonRetryable:
		return "non_retryable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Code identifies a venue error at the system boundary.
type Code uint8

const (
	_code_beg Code = iota

	CodeRateLimit
	CodeServiceUnavailable
	CodeGatewayTimeout
	CodeServerError
	CodeTimeout
	CodeTemporaryNetwork
	CodeConnectionLost
	CodeOrderBookResync

	CodeBadRequest
	CodeNotFound
	CodeMethodNotAllowed
	CodeValidation
	CodeInvalidOrder
	CodeInsufficientBalance
	CodeInvalidSymbol
	CodeInvalidRequest
	CodeMissingParameter
	CodeOrderNotFound
	CodePositionNotFound

	CodeAuthenticationFailed
	CodeForbidden
	CodeAccountSuspended
	CodeInvalidCredentials
	CodeAPIVersionDeprecated
	CodeInvariantViolation

	_code_end
)

func (c Code) IsAvailable() bool {
	return c > _code_beg && c < _code_end
}

// Kind maps the code onto the three-level taxonomy.
func (c Code) Kind() Kind {
	switch {
	case c >= CodeRateLimit && c <= CodeOrderBookResync:
		return KindRetryable
	case c >= CodeBadRequest && c <= CodePositionNotFound:
		return KindNonRetryable
	case c >= CodeAuthenticationFailed && c <= CodeInvariantViolation:
		return KindFatal
	default:
		return _kind_beg
	}
}

var codeNames = [...]string{
	CodeRateLimit:            "RateLimit",
	CodeServiceUnavailable:   "ServiceUnavailable",
	CodeGatewayTimeout:       "GatewayTimeout",
	CodeServerError:          "ServerError",
	CodeTimeout:              "Timeout",
	CodeTemporaryNetwork:     "TemporaryNetwork",
	CodeConnectionLost:       "ConnectionLost",
	CodeOrderBookResync:      "OrderBookResync",
	CodeBadRequest:           "BadRequest",
	CodeNotFound:             "NotFound",
	CodeMethodNotAllowed:     "MethodNotAllowed",
	CodeValidation:           "Validation",
	CodeInvalidOrder:         "InvalidOrder",
	CodeInsufficientBalance:  "InsufficientBalance",
	CodeInvalidSymbol:        "InvalidSymbol",
	CodeInvalidRequest:       "InvalidRequest",
	CodeMissingParameter:     "MissingParameter",
	CodeOrderNotFound:        "OrderNotFound",
	CodePositionNotFound:     "PositionNotFound",
	CodeAuthenticationFailed: "AuthenticationFailed",
	CodeForbidden:            "Forbidden",
	CodeAccountSuspended:     "AccountSuspended",
	CodeInvalidCredentials:   "InvalidCredentials",
	CodeAPIVersionDeprecated: "ApiVersionDeprecated",
	CodeInvariantViolation:   "InvariantViolation",
}

func (c Code) String() string {
	if !c.IsAvailable() {
		return "Unknown"
	}
	return codeNames[c]
}

// VenueError is an error classified by the boundary taxonomy.
type VenueError struct {
	Code    Code
	Message string
	// Status is the HTTP status when the error came from a response.
	Status int
	// Symbol is set for OrderBookResync.
	Symbol string
	// Invariant is set for InvariantViolation.
	Invariant string
	// RetryAfter is advisory; zero with HasRetryAfter false means unknown.
	RetryAfter    time.Duration
	HasRetryAfter bool
}

func (e *VenueError) Error() string {
	switch {
	case e.Code == CodeOrderBookResync:
		return fmt.Sprintf("%s(%s)", e.Code, e.Symbol)
	case e.Code == CodeInvariantViolation:
		return fmt.Sprintf("%s(%s): %s", e.Code, e.Invariant, e.Message)
	case e.Code == CodeServerError && e.Status != 0:
		return fmt.Sprintf("%s(%d): %s", e.Code, e.Status, e.Message)
	case e.Message == "":
		return e.Code.String()
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Kind returns the handling class.
func (e *VenueError) Kind() Kind {
	return e.Code.Kind()
}

// Is matches another *VenueError by code so sentinel-style comparisons work.
func (e *VenueError) Is(target error) bool {
	t, ok := target.(*VenueError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewVenueError builds a classified error.
func NewVenueError(code Code, msg string) *VenueError {
	return &VenueError{Code: code, Message: msg}
}

// RateLimited builds a RateLimit error with an optional wait hint.
func RateLimited(msg string, retryAfter time.Duration, ok bool) *VenueError {
	return &VenueError{Code: CodeRateLimit, Message: msg, Status: http.StatusTooManyRequests, RetryAfter: retryAfter, HasRetryAfter: ok}
}

// OrderBookResync reports a book that lost sequence and awaits a snapshot.
func OrderBookResync(symbol string) *VenueError {
	return &VenueError{Code: CodeOrderBookResync, Symbol: symbol}
}

// InvariantViolation reports a broken internal invariant.
func InvariantViolation(label, msg string) *VenueError {
	return &VenueError{Code: CodeInvariantViolation, Invariant: label, Message: msg}
}

// ConnectionLost reports a session that must reconnect.
func ConnectionLost(msg string) *VenueError {
	return &VenueError{Code: CodeConnectionLost, Message: msg}
}

// AsVenueError extracts the classified error from a chain.
func AsVenueError(err error) (*VenueError, bool) {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// KindOf classifies any error. Unclassified errors are non-retryable.
func KindOf(err error) Kind {
	if err == nil {
		return _kind_beg
	}
	if ve, ok := AsVenueError(err); ok {
		return ve.Kind()
	}
	return KindNonRetryable
}

func IsRetryable(err error) bool {
	return KindOf(err) == KindRetryable
}

func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

// RetryAfter returns the advisory wait carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	ve, ok := AsVenueError(err)
	if !ok || !ve.HasRetryAfter {
		return 0, false
	}
	return ve.RetryAfter, true
}
