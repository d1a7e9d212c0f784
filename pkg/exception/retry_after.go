package exception

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HeaderRetryAfter is the standard advisory header.
const HeaderRetryAfter = "Retry-After"

// ResetHeader names a venue header carrying the epoch at which the limit
// resets. Venues differ on the unit.
type ResetHeader struct {
	Name   string
	Millis bool
}

var defaultResetHeaders = []ResetHeader{
	{Name: "X-Bapi-Limit-Reset-Timestamp", Millis: true},
	{Name: "X-RateLimit-Reset", Millis: false},
}

// ParseRetryAfter derives the advisory wait from response headers:
// Retry-After first, then the first reset header present minus now.
func ParseRetryAfter(header http.Header, now time.Time, resets ...ResetHeader) (time.Duration, bool) {
	if header == nil {
		return 0, false
	}
	if v := strings.TrimSpace(header.Get(HeaderRetryAfter)); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			if secs < 0 {
				secs = 0
			}
			return time.Duration(secs) * time.Second, true
		}
		if at, err := http.ParseTime(v); err == nil {
			return clampWait(at.Sub(now)), true
		}
	}
	if len(resets) == 0 {
		resets = defaultResetHeaders
	}
	for _, h := range resets {
		v := strings.TrimSpace(header.Get(h.Name))
		if v == "" {
			continue
		}
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		var at time.Time
		if h.Millis {
			at = time.UnixMilli(ts)
		} else {
			at = time.Unix(ts, 0)
		}
		return clampWait(at.Sub(now)), true
	}
	return 0, false
}

func clampWait(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// FromHTTPStatus classifies a non-2xx response.
func FromHTTPStatus(status int, msg string, header http.Header, now time.Time, resets ...ResetHeader) *VenueError {
	e := &VenueError{Status: status, Message: msg}
	switch status {
	case http.StatusBadRequest:
		e.Code = CodeBadRequest
	case http.StatusUnauthorized:
		e.Code = CodeAuthenticationFailed
	case http.StatusForbidden:
		e.Code = CodeForbidden
	case http.StatusNotFound:
		e.Code = CodeNotFound
	case http.StatusMethodNotAllowed:
		e.Code = CodeMethodNotAllowed
	case http.StatusRequestTimeout:
		e.Code = CodeTimeout
	case http.StatusTooManyRequests:
		e.Code = CodeRateLimit
		e.RetryAfter, e.HasRetryAfter = ParseRetryAfter(header, now, resets...)
	case http.StatusServiceUnavailable:
		e.Code = CodeServiceUnavailable
		e.RetryAfter, e.HasRetryAfter = ParseRetryAfter(header, now, resets...)
	case http.StatusGatewayTimeout:
		e.Code = CodeGatewayTimeout
	default:
		switch {
		case status >= 500:
			e.Code = CodeServerError
		case status == 418:
			// Binance answers 418 once an IP keeps hammering after a 429.
			e.Code = CodeRateLimit
			e.RetryAfter, e.HasRetryAfter = ParseRetryAfter(header, now, resets...)
		default:
			e.Code = CodeInvalidRequest
		}
	}
	return e
}
