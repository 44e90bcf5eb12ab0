package replay

import "errors"

var (
	// ErrNotFound is returned for unknown replay or capture ids.
	ErrNotFound = errors.New("not found")
	// ErrInvalidConfig is returned when a replay cannot be built from its
	// config, for example a custom target without a URL.
	ErrInvalidConfig = errors.New("invalid replay config")
	// ErrReplayFailed prefixes the error recorded on a failed result.
	ErrReplayFailed = errors.New("replay failed")
)
