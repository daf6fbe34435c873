package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/volunteer/internal/domain"
)

func seedActivity(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.UpsertActivity(context.Background(), domain.Activity{
		ID: id, Hours: 3, Format: domain.FormatOnline, MaxAttempts: 2,
	}))
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedActivity(t, s, "a-1")

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.InsertRegistration(ctx, domain.Registration{
			ID: "r-1", UserID: "u-1", ActivityID: "a-1", Status: domain.StatusInProgress,
		}))
		require.NoError(t, tx.AdjustCounters(ctx, "a-1", domain.CounterDelta{Interest: 1}))
		require.NoError(t, tx.RecordEvent(ctx, domain.Event{Kind: domain.EventRegistrationCreated}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	activity, err := s.GetActivity(ctx, "a-1")
	require.NoError(t, err)
	require.Zero(t, activity.InterestCount)
	n, err := s.CountAttempts(ctx, "u-1", "a-1")
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, s.Events())
}

func TestUpsertActivityKeepsCounters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedActivity(t, s, "a-1")
	require.NoError(t, s.Update(ctx, func(tx domain.Tx) error {
		return tx.SetCounters(ctx, "a-1", domain.Counters{Interest: 4, Completion: 1})
	}))

	require.NoError(t, s.UpsertActivity(ctx, domain.Activity{
		ID: "a-1", Hours: 5, Format: domain.FormatOnSite, MaxAttempts: 3, InterestCount: 99,
	}))

	activity, err := s.GetActivity(ctx, "a-1")
	require.NoError(t, err)
	require.Equal(t, 5, activity.Hours)
	require.Equal(t, domain.Counters{Interest: 4, Completion: 1}, activity.Counters())
}

func TestAdjustCountersRejectsNegative(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedActivity(t, s, "a-1")
	err := s.Update(ctx, func(tx domain.Tx) error {
		return tx.AdjustCounters(ctx, "a-1", domain.CounterDelta{Interest: -1})
	})
	require.Error(t, err)
}

func TestListRegistrationsPagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedActivity(t, s, "a-1")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Update(ctx, func(tx domain.Tx) error {
		for i, id := range []string{"r-1", "r-2", "r-3"} {
			if err := tx.InsertRegistration(ctx, domain.Registration{
				ID: id, UserID: "u-1", ActivityID: "a-1", Status: domain.StatusInProgress,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return tx.InsertRegistration(ctx, domain.Registration{
			ID: "r-other", UserID: "u-2", ActivityID: "a-1", Status: domain.StatusInProgress, CreatedAt: base,
		})
	}))

	page, next, err := s.ListRegistrations(ctx, "u-1", nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "r-3", page[0].ID)
	require.Equal(t, "r-2", page[1].ID)
	require.NotNil(t, next)

	page, _, err = s.ListRegistrations(ctx, "u-1", next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "r-1", page[0].ID)
}

func TestGetRegistrationScopedToOwner(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedActivity(t, s, "a-1")
	require.NoError(t, s.Update(ctx, func(tx domain.Tx) error {
		return tx.InsertRegistration(ctx, domain.Registration{ID: "r-1", UserID: "u-1", ActivityID: "a-1", Status: domain.StatusInProgress})
	}))

	r, err := s.GetRegistration(ctx, "u-2", "r-1")
	require.NoError(t, err)
	require.Nil(t, r)
}
