package checkpoint

import "errors"

// Domain errors shared by the manager, store, and resume detector.
var (
	// ErrDuplicateNumber means the (session, checkpoint number) pair
	// already exists. The manager retries once with a fresh number.
	ErrDuplicateNumber = errors.New("duplicate checkpoint number")

	// ErrAlreadyRestored means markRestored was called twice for the
	// same checkpoint. Restoration is not replayable.
	ErrAlreadyRestored = errors.New("checkpoint already restored")

	// ErrNotFound means no checkpoint matched the query.
	ErrNotFound = errors.New("checkpoint not found")
)
