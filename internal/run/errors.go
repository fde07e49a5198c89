package run

import "errors"

// ErrNotFound is returned by stores when no session has the requested id.
var ErrNotFound = errors.New("run session not found")

// ErrConflict is returned by stores when the stored session no longer matches
// the snapshot a write was computed from: it was finished, or another writer
// appended a sample first.
var ErrConflict = errors.New("run session changed concurrently")

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func validation(msg string) error { return &ValidationError{Message: msg} }

func notFound(msg string) error { return &NotFoundError{Message: msg} }
