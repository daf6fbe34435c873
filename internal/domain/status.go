package domain

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"example.com/volunteer/internal/observability"
)

// SetStatus moves one of the user's registrations to target. Completing a
// registration bumps the activity's completion count in the same unit of work.
func (s *Service) SetStatus(ctx context.Context, userID, registrationID string, target Status) (updated Registration, err error) {
	ctx, span := startSpan(ctx, "Service.SetStatus",
		attribute.String("user.id", userID),
		attribute.String("registration.id", registrationID),
		attribute.String("registration.target_status", target.String()),
	)
	defer func() { endSpan(span, err) }()

	if !target.Valid() {
		return Registration{}, fmt.Errorf("%w %d", ErrUnknownStatus, uint8(target))
	}
	if err := requireID("user_id", userID); err != nil {
		return Registration{}, err
	}
	if err := requireID("registration_id", registrationID); err != nil {
		return Registration{}, err
	}

	var (
		maintainer *counterMaintainer
		previous   Status
	)
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
		delta, err := Transition(current.Status, target)
		if err != nil {
			return err
		}
		if err := tx.UpdateRegistrationStatus(ctx, current.ID, target, now); err != nil {
			return err
		}
		if err := maintainer.apply(ctx, current.ActivityID, delta); err != nil {
			return err
		}

		previous = current.Status
		updated = *current
		updated.Status = target
		updated.UpdatedAt = now
		return tx.RecordEvent(ctx, Event{
			Kind:           EventRegistrationStatusChanged,
			Registration:   updated,
			PreviousStatus: previous,
			OccurredAt:     now,
		})
	})
	if err != nil {
		return Registration{}, err
	}

	observability.RecordStatusTransition(previous.String(), target.String())
	s.invalidate(ctx, maintainer.activityIDs())
	return updated, nil
}
