package fiber

import "errors"

var (
	// ErrClosed indicates the [Scheduler] was closed.
	ErrClosed = errors.New("fiber: scheduler closed")

	// ErrPanicked indicates the body of a fiber or thread panicked. The
	// context's local storage was still finalized.
	ErrPanicked = errors.New("fiber: body panicked")
)
