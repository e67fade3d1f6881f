package memory

import "errors"

var (
	// ErrInvalidConfiguration is returned for bad construction parameters.
	// It is fatal at startup and never retried.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidRange is returned for a temporal query whose start is after
	// its end. The operation aborts with no partial results.
	ErrInvalidRange = errors.New("invalid time range")
)
