package domain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"example.com/volunteer/internal/observability"
)

// Register creates one more attempt for the user at the activity. The attempt
// count is read and the row inserted in the same unit of work, with the
// activity locked, so concurrent requests cannot exceed the cap.
func (s *Service) Register(ctx context.Context, userID, activityID string) (registration Registration, err error) {
	ctx, span := startSpan(ctx, "Service.Register", attribute.String("user.id", userID), attribute.String("activity.id", activityID))
	defer func() { endSpan(span, err) }()

	if err := requireID("user_id", userID); err != nil {
		return Registration{}, err
	}
	if err := requireID("activity_id", activityID); err != nil {
		return Registration{}, err
	}

	var maintainer *counterMaintainer
	now := time.Now().UTC()
	err = s.store.Update(ctx, func(tx Tx) error {
		maintainer = newCounterMaintainer(tx)

		activity, err := tx.LockActivity(ctx, activityID)
		if err != nil {
			return err
		}
		if activity == nil {
			return fmt.Errorf("%w: %s", ErrActivityNotFound, activityID)
		}
		attempts, err := tx.CountAttempts(ctx, userID, activityID)
		if err != nil {
			return err
		}
		if status := evaluateAttempts(attempts, activity.MaxAttempts); !status.CanRegister {
			return fmt.Errorf("%w: %d of %d attempts used", ErrAttemptLimitReached, status.Attempts, status.MaxAttempts)
		}

		registration, err = s.insertRegistration(ctx, tx, maintainer, userID, activityID, now)
		return err
	})
	if err != nil {
		observability.RecordRegistrationRejected(rejectionReason(err))
		return Registration{}, err
	}

	observability.RecordRegistrationsCreated("single", 1)
	s.invalidate(ctx, maintainer.activityIDs())
	return registration, nil
}

// RegisterBatch signs the user up for every listed activity at once. A batch
// is a fresh sign-up: an activity the user already has any registration for,
// including an earlier entry of the same batch, fails the whole batch with
// ErrAlreadyRegistered and nothing is written.
func (s *Service) RegisterBatch(ctx context.Context, userID string, activityIDs []string) (created []Registration, err error) {
	ctx, span := startSpan(ctx, "Service.RegisterBatch", attribute.String("user.id", userID), attribute.Int("batch.size", len(activityIDs)))
	defer func() { endSpan(span, err) }()

	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	if len(activityIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one activity is required", ErrInvalidArgument)
	}
	for _, id := range activityIDs {
		if err := requireID("activity_id", id); err != nil {
			return nil, err
		}
	}

	var maintainer *counterMaintainer
	now := time.Now().UTC()
	err = s.store.Update(ctx, func(tx Tx) error {
		maintainer = newCounterMaintainer(tx)
		created = make([]Registration, 0, len(activityIDs))

		activities, err := lockActivities(ctx, tx, activityIDs)
		if err != nil {
			return err
		}

		seen := make(map[string]struct{}, len(activityIDs))
		for _, id := range activityIDs {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: %s listed more than once", ErrAlreadyRegistered, id)
			}
			seen[id] = struct{}{}

			attempts, err := tx.CountAttempts(ctx, userID, id)
			if err != nil {
				return err
			}
			if attempts > 0 {
				return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
			}
			if status := evaluateAttempts(attempts, activities[id].MaxAttempts); !status.CanRegister {
				return fmt.Errorf("%w: %s", ErrAttemptLimitReached, id)
			}

			registration, err := s.insertRegistration(ctx, tx, maintainer, userID, id, now)
			if err != nil {
				return err
			}
			created = append(created, registration)
		}
		return nil
	})
	if err != nil {
		observability.RecordRegistrationRejected(rejectionReason(err))
		return nil, err
	}

	observability.RecordRegistrationsCreated("batch", len(created))
	s.invalidate(ctx, maintainer.activityIDs())
	return created, nil
}

// DeleteRegistration removes one of the user's registrations and reverses
// its counter contribution.
func (s *Service) DeleteRegistration(ctx context.Context, userID, registrationID string) (err error) {
	ctx, span := startSpan(ctx, "Service.DeleteRegistration", attribute.String("user.id", userID), attribute.String("registration.id", registrationID))
	defer func() { endSpan(span, err) }()

	if err := requireID("user_id", userID); err != nil {
		return err
	}
	if err := requireID("registration_id", registrationID); err != nil {
		return err
	}

	var maintainer *counterMaintainer
	now := time.Now().UTC()
	err = s.store.Update(ctx, func(tx Tx) error {
		maintainer = newCounterMaintainer(tx)

		current, err := tx.LockRegistration(ctx, userID, registrationID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", ErrRegistrationNotFound, registrationID)
		}
		if err := tx.DeleteRegistration(ctx, current.ID); err != nil {
			return err
		}
		if err := maintainer.apply(ctx, current.ActivityID, deletionDelta(current.Status)); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, Event{
			Kind:         EventRegistrationDeleted,
			Registration: *current,
			OccurredAt:   now,
		})
	})
	if err != nil {
		return err
	}

	observability.RecordRegistrationDeleted()
	s.invalidate(ctx, maintainer.activityIDs())
	return nil
}

func (s *Service) insertRegistration(ctx context.Context, tx Tx, maintainer *counterMaintainer, userID, activityID string, now time.Time) (Registration, error) {
	registration := Registration{
		ID:         uuid.NewString(),
		UserID:     userID,
		ActivityID: activityID,
		Status:     StatusInProgress,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.InsertRegistration(ctx, registration); err != nil {
		return Registration{}, err
	}
	if err := maintainer.apply(ctx, activityID, creationDelta()); err != nil {
		return Registration{}, err
	}
	if err := tx.RecordEvent(ctx, Event{
		Kind:         EventRegistrationCreated,
		Registration: registration,
		OccurredAt:   now,
	}); err != nil {
		return Registration{}, err
	}
	return registration, nil
}

// lockActivities locks every distinct activity in a stable order so that
// concurrent batches over overlapping activities cannot deadlock.
func lockActivities(ctx context.Context, tx Tx, activityIDs []string) (map[string]Activity, error) {
	ordered := slices.Clone(activityIDs)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	locked := make(map[string]Activity, len(ordered))
	for _, id := range ordered {
		activity, err := tx.LockActivity(ctx, id)
		if err != nil {
			return nil, err
		}
		if activity == nil {
			return nil, fmt.Errorf("%w: %s", ErrActivityNotFound, id)
		}
		locked[id] = *activity
	}
	return locked, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrAttemptLimitReached):
		return "attempt_limit"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "error"
	}
}
