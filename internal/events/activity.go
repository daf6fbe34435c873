// Package events defines the payloads exchanged with other services over Kafka.
package events

import "time"

// Event type names, also used as the event_type Kafka header.
const (
	TypeRegistrationCreated       = "registration.created"
	TypeRegistrationStatusChanged = "registration.status_changed"
	TypeRegistrationDeleted       = "registration.deleted"
	TypeCatalogActivityUpserted   = "catalog.activity_upserted"
)

// CatalogActivityUpserted is published by the catalog owner whenever an
// activity definition is created or edited.
type CatalogActivityUpserted struct {
	ActivityID  string    `json:"activity_id"`
	Title       string    `json:"title"`
	Hours       int       `json:"hours"`
	Format      string    `json:"format"`
	MonthTag    int       `json:"month_tag"`
	MaxAttempts int       `json:"max_attempts"`
	UpdatedAt   time.Time `json:"updated_at"`
}
