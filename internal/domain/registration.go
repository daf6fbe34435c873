package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a registration. The zero value is not a
// valid status; values only come from the constants below or ParseStatus.
type Status uint8

const (
	StatusInProgress Status = iota + 1
	StatusCompleted
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusInProgress: "in_progress",
	StatusCompleted:  "completed",
	StatusCancelled:  "cancelled",
}

// ParseStatus maps a wire literal onto the closed status set.
func ParseStatus(raw string) (Status, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for status, name := range statusNames {
		if name == value {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownStatus, raw)
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is one of the three known states.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Registration records one attempt of a user at an activity.
type Registration struct {
	ID         string
	UserID     string
	ActivityID string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Transition validates from -> to and returns the counter change it implies.
// Only in_progress may move, and only to completed or cancelled.
func Transition(from, to Status) (CounterDelta, error) {
	if !to.Valid() {
		return CounterDelta{}, fmt.Errorf("%w %d", ErrUnknownStatus, uint8(to))
	}
	if from.Terminal() {
		return CounterDelta{}, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if from != StatusInProgress || to == StatusInProgress {
		return CounterDelta{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to == StatusCompleted {
		return CounterDelta{Completion: 1}, nil
	}
	return CounterDelta{}, nil
}

// Cursor models the pagination token over a user's registrations.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}
