package domain

import (
	"context"
	"fmt"
)

// Counters are the derived aggregates stored on an activity.
type Counters struct {
	Interest   int
	Completion int
}

// CounterDelta is a signed change to an activity's counters.
type CounterDelta struct {
	Interest   int
	Completion int
}

// IsZero reports whether the delta changes nothing.
func (d CounterDelta) IsZero() bool {
	return d.Interest == 0 && d.Completion == 0
}

// Apply returns c shifted by d.
func (c Counters) Apply(d CounterDelta) Counters {
	return Counters{Interest: c.Interest + d.Interest, Completion: c.Completion + d.Completion}
}

// creationDelta is the contribution of a new registration.
func creationDelta() CounterDelta {
	return CounterDelta{Interest: 1}
}

// deletionDelta reverses the contribution of a registration in the given status.
func deletionDelta(status Status) CounterDelta {
	delta := CounterDelta{Interest: -1}
	if status == StatusCompleted {
		delta.Completion = -1
	}
	return delta
}

// counterMaintainer applies counter deltas through the unit of work it was
// created for and remembers which activities changed so caches can be
// invalidated once the unit of work commits.
type counterMaintainer struct {
	tx      Tx
	touched map[string]struct{}
}

func newCounterMaintainer(tx Tx) *counterMaintainer {
	return &counterMaintainer{tx: tx, touched: make(map[string]struct{})}
}

func (m *counterMaintainer) apply(ctx context.Context, activityID string, delta CounterDelta) error {
	if delta.IsZero() {
		return nil
	}
	if err := m.tx.AdjustCounters(ctx, activityID, delta); err != nil {
		return fmt.Errorf("adjust counters for %s: %w", activityID, err)
	}
	m.touched[activityID] = struct{}{}
	return nil
}

func (m *counterMaintainer) activityIDs() []string {
	ids := make([]string, 0, len(m.touched))
	for id := range m.touched {
		ids = append(ids, id)
	}
	return ids
}
