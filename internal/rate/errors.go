package rate

import "errors"

var (
	// ErrRateLimited means the key has used up its budget for the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any redis failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
