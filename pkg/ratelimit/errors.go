package ratelimit

import "errors"

var (
	// ErrInvalidConfig indicates the bucket configuration is invalid.
	ErrInvalidConfig = errors.New("invalid rate limit configuration")

	// ErrInvalidTokenCount indicates the requested token count is invalid.
	ErrInvalidTokenCount = errors.New("invalid token count")

	// ErrStoreUnavailable indicates the storage backend failed.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)
