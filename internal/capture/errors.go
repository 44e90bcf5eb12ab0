package capture

import "errors"

var (
	// ErrSessionConflict is returned when a capture is started while another
	// session is active or paused.
	ErrSessionConflict = errors.New("capture session conflict")
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("capture session not found")
	// ErrSessionStopped is returned when mutating a stopped session.
	ErrSessionStopped = errors.New("capture session is stopped")
	// ErrInvalidConfig is returned for configs that cannot be launched.
	ErrInvalidConfig = errors.New("invalid capture config")
	// ErrToolNotFound is returned when the capture binary is not installed.
	ErrToolNotFound = errors.New("capture tool not found")
)
