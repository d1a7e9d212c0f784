package binance

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"tradecore/pkg/exception"
)

// ResponseError is the body of a failed Binance request.
type ResponseError struct {
	Code    int64  `json:"code"`
	Message string `json:"msg"`
}

var errorCodes = map[int64]exception.Code{
	-1003: exception.CodeRateLimit,
	-1015: exception.CodeRateLimit,
	-1007: exception.CodeTimeout,
	-1021: exception.CodeTemporaryNetwork,
	-1022: exception.CodeInvalidCredentials,
	-2014: exception.CodeInvalidCredentials,
	-2015: exception.CodeInvalidCredentials,
	-1100: exception.CodeValidation,
	-1102: exception.CodeMissingParameter,
	-1111: exception.CodeValidation,
	-1121: exception.CodeInvalidSymbol,
	-1013: exception.CodeInvalidOrder,
	-2010: exception.CodeInvalidOrder,
	-2011: exception.CodeOrderNotFound,
	-2013: exception.CodeOrderNotFound,
}

// classify refines an HTTP status error with the Binance error code in
// its body. The HTTP status and retry hint are kept.
func classify(err error) error {
	ve, ok := exception.AsVenueError(err)
	if !ok {
		return err
	}
	var body ResponseError
	if sonic.UnmarshalString(ve.Message, &body) != nil || body.Code == 0 {
		return err
	}
	code, ok := errorCodes[body.Code]
	if !ok {
		return err
	}
	if code == exception.CodeInvalidOrder && strings.Contains(strings.ToLower(body.Message), "insufficient balance") {
		code = exception.CodeInsufficientBalance
	}
	out := exception.NewVenueError(code, fmt.Sprintf("binance %d: %s", body.Code, body.Message))
	out.Status = ve.Status
	out.RetryAfter, out.HasRetryAfter = ve.RetryAfter, ve.HasRetryAfter
	return out
}
