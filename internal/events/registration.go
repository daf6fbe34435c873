package events

import "time"

// RegistrationCreated is emitted when a user signs up for an activity.
type RegistrationCreated struct {
	RegistrationID string    `json:"registration_id"`
	UserID         string    `json:"user_id"`
	ActivityID     string    `json:"activity_id"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// RegistrationStatusChanged tracks lifecycle moves (completed, cancelled).
type RegistrationStatusChanged struct {
	RegistrationID string    `json:"registration_id"`
	UserID         string    `json:"user_id"`
	ActivityID     string    `json:"activity_id"`
	PreviousStatus string    `json:"previous_status"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// RegistrationDeleted is emitted when a user removes a registration.
type RegistrationDeleted struct {
	RegistrationID string    `json:"registration_id"`
	UserID         string    `json:"user_id"`
	ActivityID     string    `json:"activity_id"`
	Status         string    `json:"status"`
	DeletedAt      time.Time `json:"deleted_at"`
}
