// Package fault defines the error taxonomy shared across the service.
// Errors are plain sentinels checked with errors.Is; callers wrap them
// with fmt.Errorf("...: %w", ...) to add context without losing the class.
package fault

import "errors"

var (
	// ErrInvalidArgument marks input that fails shape or range validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a missing user, profile, thread, or message.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied marks an ownership mismatch.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrOracle marks a failed or malformed AI oracle call. Never retried
	// inside the core; surfaced to the caller as a single failure.
	ErrOracle = errors.New("oracle error")

	// ErrUnknownTool marks a model request for a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrThreadBusy marks a second concurrent turn against the same thread.
	ErrThreadBusy = errors.New("thread busy")

	// ErrPersistence marks a storage write failure. Fatal for the operation,
	// never a silent partial success.
	ErrPersistence = errors.New("persistence error")
)
