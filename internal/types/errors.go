package types

import "errors"

// ErrNotFound is returned by storage backends when a record does not exist
// (or has been soft-deleted).
var ErrNotFound = errors.New("not found")

// ErrHasMessages is returned when deleting a conversation that still owns messages.
var ErrHasMessages = errors.New("conversation still owns messages")

// ErrLocked is returned when another process holds the merge lock.
var ErrLocked = errors.New("merge lock held by another process")
