package api

import (
	"time"

	"example.com/volunteer/internal/domain"
)

// CreateRegistrationsRequest is the payload for POST /v1/registrations.
type CreateRegistrationsRequest struct {
	ActivityIDs []string `json:"activity_ids" validate:"required,min=1,max=50,dive,notblank"`
}

// UpdateStatusRequest is the payload for PATCH /v1/registrations/{id}.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=in_progress completed cancelled"`
}

// PlanRequest is the payload for POST /v1/plans.
type PlanRequest struct {
	TargetHours int    `json:"target_hours" validate:"required,gt=0"`
	Format      string `json:"format" validate:"required,oneof=online on-site"`
	Quarter     int    `json:"quarter" validate:"required,min=1,max=4"`
}

// ActivityView exposes a catalog entry with its counters.
type ActivityView struct {
	ActivityID      string    `json:"activity_id"`
	Title           string    `json:"title"`
	Hours           int       `json:"hours"`
	Format          string    `json:"format"`
	MonthTag        int       `json:"month_tag"`
	MaxAttempts     int       `json:"max_attempts"`
	InterestCount   int       `json:"interest_count"`
	CompletionCount int       `json:"completion_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AttemptView is the response of the attempt check.
type AttemptView struct {
	Attempts    int  `json:"attempts"`
	MaxAttempts int  `json:"max_attempts"`
	CanRegister bool `json:"can_register"`
}

// RegistrationView exposes a registration.
type RegistrationView struct {
	RegistrationID string        `json:"registration_id"`
	UserID         string        `json:"user_id"`
	ActivityID     string        `json:"activity_id"`
	Status         domain.Status `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// CreateRegistrationsResponse lists the registrations a batch created.
type CreateRegistrationsResponse struct {
	Created []RegistrationView `json:"created"`
}

// ListRegistrationsResponse packages list results.
type ListRegistrationsResponse struct {
	Items      []RegistrationView `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// PlanResponse is the planner outcome.
type PlanResponse struct {
	Selection     []ActivityView `json:"selection"`
	AchievedHours int            `json:"achieved_hours"`
	Shortfall     bool           `json:"shortfall"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Type   string            `json:"type"`
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields,omitempty"`
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:      a.ID,
		Title:           a.Title,
		Hours:           a.Hours,
		Format:          string(a.Format),
		MonthTag:        a.MonthTag,
		MaxAttempts:     a.MaxAttempts,
		InterestCount:   a.InterestCount,
		CompletionCount: a.CompletionCount,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toRegistrationView(r domain.Registration) RegistrationView {
	return RegistrationView{
		RegistrationID: r.ID,
		UserID:         r.UserID,
		ActivityID:     r.ActivityID,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toRegistrationViews(regs []domain.Registration) []RegistrationView {
	out := make([]RegistrationView, 0, len(regs))
	for _, r := range regs {
		out = append(out, toRegistrationView(r))
	}
	return out
}
