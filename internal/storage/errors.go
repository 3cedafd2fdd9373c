package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidState is returned when a mutation would violate a state-machine
// invariant (e.g. applying a prompt update that was never approved).
var ErrInvalidState = errors.New("storage: invalid state transition")
