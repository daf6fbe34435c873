package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/volunteer/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "volunteer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "volunteer.db")

	first, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}

func TestServiceFlowOverSQLite(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc := domain.NewService(store, nil)

	for _, a := range []domain.Activity{
		{ID: "a-1", Title: "Tutoring", Hours: 3, Format: domain.FormatOnline, MonthTag: 2, MaxAttempts: 2},
		{ID: "a-2", Title: "Food bank", Hours: 5, Format: domain.FormatOnSite, MaxAttempts: 1},
	} {
		require.NoError(t, svc.UpsertCatalogActivity(ctx, a))
	}

	created, err := svc.RegisterBatch(ctx, "u-1", []string{"a-1", "a-2"})
	require.NoError(t, err)
	require.Len(t, created, 2)

	_, err = svc.Register(ctx, "u-1", "a-2")
	require.ErrorIs(t, err, domain.ErrAttemptLimitReached)

	updated, err := svc.SetStatus(ctx, "u-1", created[0].ID, domain.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, updated.Status)

	activity, err := store.GetActivity(ctx, created[0].ActivityID)
	require.NoError(t, err)
	require.Equal(t, domain.Counters{Interest: 1, Completion: 1}, activity.Counters())

	page, next, err := svc.ListRegistrations(ctx, "u-1", nil, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.NotNil(t, next)
	rest, _, err := svc.ListRegistrations(ctx, "u-1", next, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.NotEqual(t, page[0].ID, rest[0].ID)

	var outboxRows int
	require.NoError(t, store.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&outboxRows))
	require.Equal(t, 3, outboxRows)
}

func TestFailedUnitOfWorkRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc := domain.NewService(store, nil)
	require.NoError(t, svc.UpsertCatalogActivity(ctx, domain.Activity{ID: "a-1", Hours: 1, Format: domain.FormatOnline, MaxAttempts: 3}))

	_, err := svc.RegisterBatch(ctx, "u-1", []string{"a-1", "missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	n, err := store.CountAttempts(ctx, "u-1", "a-1")
	require.NoError(t, err)
	require.Zero(t, n)
	activity, err := store.GetActivity(ctx, "a-1")
	require.NoError(t, err)
	require.Zero(t, activity.InterestCount)
}

func TestUpsertKeepsCounters(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc := domain.NewService(store, nil)
	require.NoError(t, svc.UpsertCatalogActivity(ctx, domain.Activity{ID: "a-1", Hours: 1, Format: domain.FormatOnline, MaxAttempts: 3}))
	_, err := svc.Register(ctx, "u-1", "a-1")
	require.NoError(t, err)

	require.NoError(t, svc.UpsertCatalogActivity(ctx, domain.Activity{ID: "a-1", Hours: 6, Format: domain.FormatOnSite, MaxAttempts: 3}))
	activity, err := store.GetActivity(ctx, "a-1")
	require.NoError(t, err)
	require.Equal(t, 6, activity.Hours)
	require.Equal(t, 1, activity.InterestCount)
}
