package domain

import (
	"context"
	"errors"
	"fmt"
	"log"

	"example.com/volunteer/internal/observability"
)

// ReconcileReport summarises a reconciliation pass.
type ReconcileReport struct {
	Checked  int
	Repaired int
}

// ReconcileCounters recomputes every activity's counters from its
// registrations and overwrites the stored values where they drifted.
// Failures on one activity do not stop the pass.
func (s *Service) ReconcileCounters(ctx context.Context) (ReconcileReport, error) {
	activities, err := s.store.ListActivities(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	var (
		report   ReconcileReport
		errs     error
		repaired []string
	)
	for _, activity := range activities {
		if err := ctx.Err(); err != nil {
			return report, errors.Join(errs, err)
		}
		fixed, err := s.reconcileActivity(ctx, activity.ID)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("reconcile %s: %w", activity.ID, err))
			continue
		}
		report.Checked++
		if fixed {
			report.Repaired++
			repaired = append(repaired, activity.ID)
		}
	}

	observability.RecordCounterRepairs(report.Repaired)
	s.invalidate(ctx, repaired)
	return report, errs
}

func (s *Service) reconcileActivity(ctx context.Context, activityID string) (bool, error) {
	var fixed bool
	err := s.store.Update(ctx, func(tx Tx) error {
		activity, err := tx.LockActivity(ctx, activityID)
		if err != nil || activity == nil {
			return err
		}
		actual, err := tx.TallyRegistrations(ctx, activityID)
		if err != nil {
			return err
		}
		if actual == activity.Counters() {
			return nil
		}
		log.Printf("counter drift (activity=%s): stored interest=%d completion=%d, actual interest=%d completion=%d",
			activityID, activity.InterestCount, activity.CompletionCount, actual.Interest, actual.Completion)
		if err := tx.SetCounters(ctx, activityID, actual); err != nil {
			return err
		}
		fixed = true
		return nil
	})
	return fixed, err
}
