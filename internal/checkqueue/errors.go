package checkqueue

import "errors"

var (
	ErrStopped  = errors.New("check queue stopped")
	ErrNilCheck = errors.New("check queue: nil check func")

	// ErrCheckPanic wraps the value recovered from a panicking check.
	ErrCheckPanic = errors.New("check panicked")
)
