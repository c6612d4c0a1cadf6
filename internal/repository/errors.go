package repository

import "errors"

var (
	// ErrNotFound means the record legitimately does not exist yet
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a conditional update lost against a concurrent writer
	ErrConflict = errors.New("record changed since it was read")
	// ErrDuplicate means a unique key is already taken
	ErrDuplicate = errors.New("duplicate record")
)
