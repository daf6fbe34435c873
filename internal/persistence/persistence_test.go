package persistence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/volunteer/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{CreatedAt: time.Date(2024, 5, 1, 10, 30, 0, 123, time.UTC), ID: "reg-9"}
	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.Equal(t, in.ID, out.ID)
}

func TestDecodeCursorEmptyMeansFirstPage(t *testing.T) {
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)
	require.Empty(t, EncodeCursor(nil))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = DecodeCursor("bm8tc2VwYXJhdG9y") // "no-separator"
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestBuildOutboxRecordStatusChanged(t *testing.T) {
	now := time.Now().UTC()
	rec, err := BuildOutboxRecord(domain.Event{
		Kind: domain.EventRegistrationStatusChanged,
		Registration: domain.Registration{
			ID: "reg-1", UserID: "u-1", ActivityID: "a-1", Status: domain.StatusCompleted,
		},
		PreviousStatus: domain.StatusInProgress,
		OccurredAt:     now,
	})
	require.NoError(t, err)
	require.Equal(t, "registration_status_changed", rec.Topic)
	require.Equal(t, "reg-1", rec.PartitionKey)
	require.Equal(t, "registration.status_changed", rec.EventType)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Payload, &body))
	require.Equal(t, "in_progress", body["previous_status"])
	require.Equal(t, "completed", body["status"])
}

func TestBuildOutboxRecordUnknownKind(t *testing.T) {
	_, err := BuildOutboxRecord(domain.Event{Kind: "registration.unknown"})
	require.Error(t, err)
}
