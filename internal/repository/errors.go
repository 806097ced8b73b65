package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a guarded update found the record in another state.
var ErrConflict = errors.New("repository: state conflict")

// ErrAlreadyExists indicates an insert collided with an existing id.
var ErrAlreadyExists = errors.New("repository: already exists")
