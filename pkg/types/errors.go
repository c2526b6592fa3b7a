package types

import "errors"

var (
	// ErrNotFound means the record is absent from the persistent store (and, when
	// returned by a cache, that the absence is cached).
	ErrNotFound = errors.New("record does not exist")

	// ErrStoreUnavailable wraps failures of the persistent store that are not a
	// simple "not found". Callers treat it as fatal for the request.
	ErrStoreUnavailable = errors.New("persistent store unavailable")
)
