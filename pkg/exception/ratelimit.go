package exception

import "errors"

var (
	ErrRateLimitInvalidQuota = errors.New("ratelimit: invalid quota")
	ErrRateLimitNoKeys       = errors.New("ratelimit: no keys")
)
