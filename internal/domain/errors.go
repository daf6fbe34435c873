package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Every error returned by the Service wraps
// exactly one of them so transports can map it with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = fmt.Errorf("activity %w", ErrNotFound)
	// ErrRegistrationNotFound is returned when a registration does not exist for the requesting user.
	ErrRegistrationNotFound = fmt.Errorf("registration %w", ErrNotFound)
	// ErrAlreadyRegistered rejects a batch entry whose activity already has a registration for the user.
	ErrAlreadyRegistered = fmt.Errorf("%w: activity already registered", ErrConflict)
	// ErrAttemptLimitReached rejects a registration once the user used every allowed attempt.
	ErrAttemptLimitReached = fmt.Errorf("%w: attempt limit reached", ErrConflict)
	// ErrUnknownStatus is returned for status literals outside the fixed set.
	ErrUnknownStatus = fmt.Errorf("%w: unknown status", ErrInvalidArgument)
)
