package kiosk

import "errors"

var (
	// ErrNotConnected is returned for operations that need an open device
	// session.
	ErrNotConnected = errors.New("device not connected")

	// ErrAlreadyRegistering is returned when an enrollment session is
	// already active. Sessions are never queued.
	ErrAlreadyRegistering = errors.New("registration already in progress")

	// ErrEmptyWorkerID is returned when an enrollment is started without a
	// worker identifier.
	ErrEmptyWorkerID = errors.New("worker id must not be empty")

	// ErrClosed is returned when the session worker is no longer running.
	ErrClosed = errors.New("session closed")
)
