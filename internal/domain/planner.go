package domain

import (
	"fmt"
	"slices"
)

// PlanRequest captures the constraints of an automatic plan.
type PlanRequest struct {
	TargetHours int
	Format      Format
	Quarter     Quarter
}

// Validate checks the request constraints.
func (r PlanRequest) Validate() error {
	if r.TargetHours <= 0 {
		return fmt.Errorf("%w: target hours must be > 0", ErrInvalidArgument)
	}
	if _, err := ParseFormat(string(r.Format)); err != nil {
		return err
	}
	if !r.Quarter.Valid() {
		return fmt.Errorf("%w: quarter %d out of range", ErrInvalidArgument, r.Quarter)
	}
	return nil
}

// PlanResult is the selection produced by Plan. Shortfall is set when the
// candidates ran out before AchievedHours reached the target.
type PlanResult struct {
	Selection     []Activity
	AchievedHours int
	Shortfall     bool
}

// Plan greedily assembles activities matching the request, shortest first,
// until their combined hours reach the target. It does not mutate snapshot
// and returns the same result for the same input.
//
// The result is not an optimal subset: it neither guarantees the closest sum
// to the target nor the fewest activities.
func Plan(snapshot []Activity, req PlanRequest) (PlanResult, error) {
	if err := req.Validate(); err != nil {
		return PlanResult{}, err
	}

	candidates := make([]Activity, 0, len(snapshot))
	for _, activity := range snapshot {
		if activity.Format == req.Format && req.Quarter.Contains(activity.MonthTag) {
			candidates = append(candidates, activity)
		}
	}

	slices.SortStableFunc(candidates, func(a, b Activity) int {
		return a.Hours - b.Hours
	})

	result := PlanResult{Selection: make([]Activity, 0, len(candidates))}
	for _, activity := range candidates {
		if result.AchievedHours >= req.TargetHours {
			break
		}
		result.Selection = append(result.Selection, activity)
		result.AchievedHours += activity.Hours
	}
	result.Shortfall = result.AchievedHours < req.TargetHours
	return result, nil
}
