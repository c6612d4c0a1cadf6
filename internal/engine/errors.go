package engine

import (
	"errors"
	"fmt"
)

type SyncErrorKind string

const (
	// SyncUnavailable means a collaborator could not be reached; the pending
	// amount is preserved and the operation can be retried later
	SyncUnavailable SyncErrorKind = "unavailable"
	// SyncConflict means the bounded optimistic retry was exhausted
	SyncConflict SyncErrorKind = "conflict"
)

// SyncError is returned when a balance write could not be confirmed
type SyncError struct {
	Kind   SyncErrorKind
	Op     string
	UserID string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s failed for user %s (%s): %v", e.Op, e.UserID, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

var (
	ErrAlreadyReferred = errors.New("user has already been referred")
	ErrInvalidReferrer = errors.New("invalid referrer")
	ErrInvalidAmount   = errors.New("amount must not be negative")
)

func unavailable(op, userID string, err error) *SyncError {
	return &SyncError{Kind: SyncUnavailable, Op: op, UserID: userID, Err: err}
}

// IsUnavailable reports whether err is a SyncError of kind Unavailable
func IsUnavailable(err error) bool {
	var syncErr *SyncError
	return errors.As(err, &syncErr) && syncErr.Kind == SyncUnavailable
}

// IsConflict reports whether err is a SyncError of kind Conflict
func IsConflict(err error) bool {
	var syncErr *SyncError
	return errors.As(err, &syncErr) && syncErr.Kind == SyncConflict
}
