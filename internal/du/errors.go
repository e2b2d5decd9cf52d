package du

import "errors"

var (
	// ErrResourceBusy is returned when no free hardware plane (pair) is
	// left or a page flip is already pending.
	ErrResourceBusy = errors.New("resource busy")

	// ErrInvalidConfiguration is returned for a configuration the hardware
	// cannot display: unknown format, scaling, bad pitch, bad routing.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrHardwareTimeout is returned when a vertical blank or page flip did
	// not arrive within the bounded wait.
	ErrHardwareTimeout = errors.New("hardware timeout")

	// ErrInterrupted is returned when the caller cancelled a commit before
	// it was admitted. Nothing was changed.
	ErrInterrupted = errors.New("interrupted")

	// ErrProbeDeferred is returned by New when a clock exists but is not
	// ready yet. Initialization should be retried as a whole.
	ErrProbeDeferred = errors.New("probe deferred")

	// ErrFatal is returned by New for unrecoverable initialization errors.
	ErrFatal = errors.New("fatal initialization error")

	// ErrClosed is returned for commits on a closed device.
	ErrClosed = errors.New("device closed")
)
