package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		delta    CounterDelta
		wantErr  error
	}{
		{StatusInProgress, StatusCompleted, CounterDelta{Completion: 1}, nil},
		{StatusInProgress, StatusCancelled, CounterDelta{}, nil},
		{StatusInProgress, StatusInProgress, CounterDelta{}, ErrInvalidTransition},
		{StatusCompleted, StatusCancelled, CounterDelta{}, ErrInvalidTransition},
		{StatusCompleted, StatusInProgress, CounterDelta{}, ErrInvalidTransition},
		{StatusCancelled, StatusCompleted, CounterDelta{}, ErrInvalidTransition},
		{StatusCancelled, StatusInProgress, CounterDelta{}, ErrInvalidTransition},
		{StatusInProgress, Status(9), CounterDelta{}, ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			delta, err := Transition(tc.from, tc.to)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.delta, delta)
		})
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Completed ")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, s)

	_, err = ParseStatus("done")
	require.ErrorIs(t, err, ErrUnknownStatus)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStatusJSON(t *testing.T) {
	body, err := json.Marshal(struct {
		Status Status `json:"status"`
	}{StatusCancelled})
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"cancelled"}`, string(body))

	var in struct {
		Status Status `json:"status"`
	}
	require.Error(t, json.Unmarshal([]byte(`{"status":"paused"}`), &in))

	_, err = json.Marshal(struct{ S Status }{Status(0)})
	require.Error(t, err)
}

func TestEvaluateAttempts(t *testing.T) {
	require.True(t, evaluateAttempts(0, 1).CanRegister)
	require.False(t, evaluateAttempts(1, 1).CanRegister)
	require.Equal(t, AttemptStatus{Attempts: 2, MaxAttempts: 3, CanRegister: true}, evaluateAttempts(2, 3))
}

func TestDeletionDeltaReversesContribution(t *testing.T) {
	start := Counters{Interest: 3, Completion: 2}
	require.Equal(t, Counters{Interest: 2, Completion: 1}, start.Apply(deletionDelta(StatusCompleted)))
	require.Equal(t, Counters{Interest: 2, Completion: 2}, start.Apply(deletionDelta(StatusCancelled)))
	require.Equal(t, Counters{Interest: 4, Completion: 2}, start.Apply(creationDelta()))
}

func TestValidateDefinition(t *testing.T) {
	valid := Activity{ID: "a", Hours: 2, Format: FormatOnSite, MonthTag: 12, MaxAttempts: 1}
	require.NoError(t, valid.ValidateDefinition())

	for name, mutate := range map[string]func(*Activity){
		"missing id":  func(a *Activity) { a.ID = " " },
		"zero hours":  func(a *Activity) { a.Hours = 0 },
		"no attempts": func(a *Activity) { a.MaxAttempts = 0 },
		"bad month":   func(a *Activity) { a.MonthTag = 13 },
		"bad format":  func(a *Activity) { a.Format = "remote" },
	} {
		t.Run(name, func(t *testing.T) {
			a := valid
			mutate(&a)
			require.ErrorIs(t, a.ValidateDefinition(), ErrInvalidArgument)
		})
	}
}
