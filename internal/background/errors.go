package background

import "errors"

var (
	ErrNilAction          = errors.New("background: nil task action")
	ErrQueueFull          = errors.New("background: queue full")
	ErrCapabilityDisabled = errors.New("background: task form disabled by configuration")
	ErrClosed             = errors.New("background: scheduler closed")

	// ErrWorkerCreation means the worker goroutine could not be started. Tasks are still
	// accepted but nothing drains them; integrators should treat it as fatal.
	ErrWorkerCreation = errors.New("background: worker creation failed")

	// ErrWorkerExited means the worker loop returned without a shutdown request.
	ErrWorkerExited = errors.New("background: worker loop exited")

	ErrAlreadyInitialized = errors.New("background: instance already initialized")
)
