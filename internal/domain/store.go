package domain

import (
	"context"
	"time"
)

// Store captures persistence operations. Reads outside Update observe
// committed state only.
type Store interface {
	// Update runs fn inside one unit of work. A non-nil error from fn, or a
	// failed commit, discards every write fn made.
	Update(ctx context.Context, fn func(tx Tx) error) error

	GetActivity(ctx context.Context, activityID string) (*Activity, error)
	ListActivities(ctx context.Context) ([]Activity, error)
	// UpsertActivity writes catalog-owned fields and leaves counters untouched.
	UpsertActivity(ctx context.Context, activity Activity) error

	CountAttempts(ctx context.Context, userID, activityID string) (int, error)
	AttemptedActivityIDs(ctx context.Context, userID string) ([]string, error)
	GetRegistration(ctx context.Context, userID, registrationID string) (*Registration, error)
	ListRegistrations(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Registration, *Cursor, error)
}

// Tx is the set of operations available inside a unit of work. Lookups
// return nil without error when the row does not exist.
type Tx interface {
	// LockActivity reads the activity and holds it until the unit of work ends.
	LockActivity(ctx context.Context, activityID string) (*Activity, error)
	CountAttempts(ctx context.Context, userID, activityID string) (int, error)
	InsertRegistration(ctx context.Context, registration Registration) error
	// LockRegistration reads a registration owned by userID and holds it until the unit of work ends.
	LockRegistration(ctx context.Context, userID, registrationID string) (*Registration, error)
	UpdateRegistrationStatus(ctx context.Context, registrationID string, status Status, updatedAt time.Time) error
	DeleteRegistration(ctx context.Context, registrationID string) error

	AdjustCounters(ctx context.Context, activityID string, delta CounterDelta) error
	TallyRegistrations(ctx context.Context, activityID string) (Counters, error)
	SetCounters(ctx context.Context, activityID string, counters Counters) error

	RecordEvent(ctx context.Context, event Event) error
}

// EventKind names a registration lifecycle event.
type EventKind string

const (
	EventRegistrationCreated       EventKind = "registration.created"
	EventRegistrationStatusChanged EventKind = "registration.status_changed"
	EventRegistrationDeleted       EventKind = "registration.deleted"
)

// Event is recorded in the same unit of work as the change it describes.
type Event struct {
	Kind           EventKind
	Registration   Registration
	PreviousStatus Status
	OccurredAt     time.Time
}
