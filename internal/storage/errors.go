package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrStatusConflict is returned when a conditional status update matched no
// row because the run already left the expected status.
var ErrStatusConflict = errors.New("storage: run status changed concurrently")
