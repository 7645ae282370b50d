package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidArgument indicates a request the store rejected.
var ErrInvalidArgument = errors.New("repository: invalid argument")

// ErrConflict indicates an optimistic update lost the race; callers reload
// and retry.
var ErrConflict = errors.New("repository: version conflict")
