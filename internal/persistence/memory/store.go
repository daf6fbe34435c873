// Package memory provides an in-process Store used by tests and local runs.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"example.com/volunteer/internal/domain"
)

type state struct {
	activities    map[string]domain.Activity
	registrations map[string]domain.Registration
	events        []domain.Event
}

func (s state) clone() state {
	return state{
		activities:    maps.Clone(s.activities),
		registrations: maps.Clone(s.registrations),
		events:        slices.Clone(s.events),
	}
}

// Store keeps every table in maps guarded by one lock. Update works on a
// copy and swaps it in on success, so a failed unit of work leaves no trace.
type Store struct {
	mu    sync.RWMutex
	state state
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{state: state{
		activities:    make(map[string]domain.Activity),
		registrations: make(map[string]domain.Registration),
	}}
}

// Update implements domain.Store.
func (s *Store) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.state.clone()
	if err := fn(&tx{state: &working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}

// Events returns a copy of every committed event in order.
func (s *Store) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.events)
}

// GetActivity implements domain.Store.
func (s *Store) GetActivity(_ context.Context, activityID string) (*domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	activity, ok := s.state.activities[activityID]
	if !ok {
		return nil, nil
	}
	return &activity, nil
}

// ListActivities implements domain.Store. Activities come back ordered by id.
func (s *Store) ListActivities(_ context.Context) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.state.activities))
	slices.SortFunc(out, func(a, b domain.Activity) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// UpsertActivity implements domain.Store.
func (s *Store) UpsertActivity(_ context.Context, activity domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.state.activities[activity.ID]; ok {
		activity.InterestCount = existing.InterestCount
		activity.CompletionCount = existing.CompletionCount
	} else {
		activity.InterestCount, activity.CompletionCount = 0, 0
	}
	if activity.UpdatedAt.IsZero() {
		activity.UpdatedAt = time.Now().UTC()
	}
	s.state.activities[activity.ID] = activity
	return nil
}

// CountAttempts implements domain.Store.
func (s *Store) CountAttempts(_ context.Context, userID, activityID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countAttempts(s.state, userID, activityID), nil
}

// AttemptedActivityIDs implements domain.Store.
func (s *Store) AttemptedActivityIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, r := range s.state.registrations {
		if r.UserID == userID {
			seen[r.ActivityID] = struct{}{}
		}
	}
	ids := slices.Collect(maps.Keys(seen))
	slices.Sort(ids)
	return ids, nil
}

// GetRegistration implements domain.Store.
func (s *Store) GetRegistration(_ context.Context, userID, registrationID string) (*domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.registrations[registrationID]
	if !ok || r.UserID != userID {
		return nil, nil
	}
	return &r, nil
}

// ListRegistrations implements domain.Store, newest first.
func (s *Store) ListRegistrations(_ context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Registration, *domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := make([]domain.Registration, 0)
	for _, r := range s.state.registrations {
		if r.UserID != userID {
			continue
		}
		if cursor != nil && !before(r, *cursor) {
			continue
		}
		owned = append(owned, r)
	}
	slices.SortFunc(owned, newestFirst)

	if len(owned) > limit {
		owned = owned[:limit]
	}
	var next *domain.Cursor
	if len(owned) == limit && limit > 0 {
		last := owned[len(owned)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return owned, next, nil
}

// before reports whether r sorts strictly after c in (created_at, id)
// descending order, i.e. belongs on a later page.
func before(r domain.Registration, c domain.Cursor) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		return r.ID < c.ID
	}
	return r.CreatedAt.Before(c.CreatedAt)
}

func newestFirst(a, b domain.Registration) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

func countAttempts(st state, userID, activityID string) int {
	n := 0
	for _, r := range st.registrations {
		if r.UserID == userID && r.ActivityID == activityID {
			n++
		}
	}
	return n
}

type tx struct {
	state *state
}

func (t *tx) LockActivity(_ context.Context, activityID string) (*domain.Activity, error) {
	activity, ok := t.state.activities[activityID]
	if !ok {
		return nil, nil
	}
	return &activity, nil
}

func (t *tx) CountAttempts(_ context.Context, userID, activityID string) (int, error) {
	return countAttempts(*t.state, userID, activityID), nil
}

func (t *tx) InsertRegistration(_ context.Context, registration domain.Registration) error {
	if _, exists := t.state.registrations[registration.ID]; exists {
		return fmt.Errorf("registration %s already exists", registration.ID)
	}
	if _, ok := t.state.activities[registration.ActivityID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrActivityNotFound, registration.ActivityID)
	}
	t.state.registrations[registration.ID] = registration
	return nil
}

func (t *tx) LockRegistration(_ context.Context, userID, registrationID string) (*domain.Registration, error) {
	r, ok := t.state.registrations[registrationID]
	if !ok || r.UserID != userID {
		return nil, nil
	}
	return &r, nil
}

func (t *tx) UpdateRegistrationStatus(_ context.Context, registrationID string, status domain.Status, updatedAt time.Time) error {
	r, ok := t.state.registrations[registrationID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRegistrationNotFound, registrationID)
	}
	r.Status = status
	r.UpdatedAt = updatedAt
	t.state.registrations[registrationID] = r
	return nil
}

func (t *tx) DeleteRegistration(_ context.Context, registrationID string) error {
	if _, ok := t.state.registrations[registrationID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrRegistrationNotFound, registrationID)
	}
	delete(t.state.registrations, registrationID)
	return nil
}

func (t *tx) AdjustCounters(_ context.Context, activityID string, delta domain.CounterDelta) error {
	activity, ok := t.state.activities[activityID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrActivityNotFound, activityID)
	}
	next := activity.Counters().Apply(delta)
	if next.Interest < 0 || next.Completion < 0 {
		return fmt.Errorf("counters of %s would go negative", activityID)
	}
	activity.InterestCount, activity.CompletionCount = next.Interest, next.Completion
	t.state.activities[activityID] = activity
	return nil
}

func (t *tx) TallyRegistrations(_ context.Context, activityID string) (domain.Counters, error) {
	var c domain.Counters
	for _, r := range t.state.registrations {
		if r.ActivityID != activityID {
			continue
		}
		c.Interest++
		if r.Status == domain.StatusCompleted {
			c.Completion++
		}
	}
	return c, nil
}

func (t *tx) SetCounters(_ context.Context, activityID string, counters domain.Counters) error {
	activity, ok := t.state.activities[activityID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrActivityNotFound, activityID)
	}
	activity.InterestCount, activity.CompletionCount = counters.Interest, counters.Completion
	t.state.activities[activityID] = activity
	return nil
}

func (t *tx) RecordEvent(_ context.Context, event domain.Event) error {
	t.state.events = append(t.state.events, event)
	return nil
}
