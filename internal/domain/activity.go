package domain

import (
	"fmt"
	"strings"
	"time"
)

// Format describes how an activity is delivered.
type Format string

const (
	FormatOnline Format = "online"
	FormatOnSite Format = "on-site"
)

// ParseFormat normalises a raw format literal.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatOnline, FormatOnSite:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", ErrInvalidArgument, raw)
	}
}

// AnyTime is the month tag of activities that can be done in any quarter.
const AnyTime = 0

// Quarter is a three month scheduling bucket, 1 through 4.
type Quarter int

// Valid reports whether q names one of the four quarters.
func (q Quarter) Valid() bool {
	return q >= 1 && q <= 4
}

// Contains reports whether an activity tagged with month falls in the quarter.
func (q Quarter) Contains(month int) bool {
	if month == AnyTime {
		return true
	}
	if month < 1 || month > 12 {
		return false
	}
	return Quarter((month-1)/3+1) == q
}

// Activity is a catalog entry together with its derived registration counters.
type Activity struct {
	ID              string
	Title           string
	Hours           int
	Format          Format
	MonthTag        int
	MaxAttempts     int
	InterestCount   int
	CompletionCount int
	UpdatedAt       time.Time
}

// Counters returns the derived aggregates of the activity.
func (a Activity) Counters() Counters {
	return Counters{Interest: a.InterestCount, Completion: a.CompletionCount}
}

// ValidateDefinition checks the catalog-owned fields of an activity.
func (a Activity) ValidateDefinition() error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return fmt.Errorf("%w: activity id is required", ErrInvalidArgument)
	case a.Hours <= 0:
		return fmt.Errorf("%w: hours must be > 0", ErrInvalidArgument)
	case a.MaxAttempts < 1:
		return fmt.Errorf("%w: max_attempts must be >= 1", ErrInvalidArgument)
	case a.MonthTag < AnyTime || a.MonthTag > 12:
		return fmt.Errorf("%w: month tag %d out of range", ErrInvalidArgument, a.MonthTag)
	}
	if _, err := ParseFormat(string(a.Format)); err != nil {
		return err
	}
	return nil
}
