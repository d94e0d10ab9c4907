package cache

import "errors"

var (
	// ErrMissingURL is returned by New when no store address is configured.
	ErrMissingURL = errors.New("cache: redis URL is required")
	// ErrLocked is returned by WithLock in strict mode when the lock is
	// already held by another caller.
	ErrLocked = errors.New("cache: resource locked")
)
