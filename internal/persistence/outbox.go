package persistence

import (
	"encoding/json"
	"fmt"

	"example.com/volunteer/internal/domain"
	"example.com/volunteer/internal/events"
)

// AggregateRegistration is the aggregate_type of every registration event.
const AggregateRegistration = "registration"

// OutboxRecord is a domain event routed and serialised for the outbox table.
type OutboxRecord struct {
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       []byte
	DedupeKey     string
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.Registration) string
}

var eventCatalog = map[domain.EventKind]EventMetadata{
	domain.EventRegistrationCreated: {
		Topic:         "registration_events",
		SchemaSubject: "registration_events-value",
		PartitionKeyFn: func(r domain.Registration) string {
			return r.UserID
		},
	},
	domain.EventRegistrationStatusChanged: {
		Topic:         "registration_status_changed",
		SchemaSubject: "registration_status_changed-value",
		PartitionKeyFn: func(r domain.Registration) string {
			return r.ID
		},
	},
	domain.EventRegistrationDeleted: {
		Topic:         "registration_events",
		SchemaSubject: "registration_deleted-value",
		PartitionKeyFn: func(r domain.Registration) string {
			return r.UserID
		},
	},
}

// BuildOutboxRecord routes and encodes event.
func BuildOutboxRecord(event domain.Event) (OutboxRecord, error) {
	meta, ok := eventCatalog[event.Kind]
	if !ok {
		return OutboxRecord{}, fmt.Errorf("unknown event type: %s", event.Kind)
	}

	reg := event.Registration
	var payload any
	switch event.Kind {
	case domain.EventRegistrationCreated:
		payload = events.RegistrationCreated{
			RegistrationID: reg.ID,
			UserID:         reg.UserID,
			ActivityID:     reg.ActivityID,
			Status:         reg.Status.String(),
			CreatedAt:      reg.CreatedAt,
		}
	case domain.EventRegistrationStatusChanged:
		payload = events.RegistrationStatusChanged{
			RegistrationID: reg.ID,
			UserID:         reg.UserID,
			ActivityID:     reg.ActivityID,
			PreviousStatus: event.PreviousStatus.String(),
			Status:         reg.Status.String(),
			OccurredAt:     event.OccurredAt,
		}
	case domain.EventRegistrationDeleted:
		payload = events.RegistrationDeleted{
			RegistrationID: reg.ID,
			UserID:         reg.UserID,
			ActivityID:     reg.ActivityID,
			Status:         reg.Status.String(),
			DeletedAt:      event.OccurredAt,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxRecord{}, err
	}
	return OutboxRecord{
		AggregateID:   reg.ID,
		EventType:     string(event.Kind),
		Topic:         meta.Topic,
		SchemaSubject: meta.SchemaSubject,
		PartitionKey:  meta.PartitionKeyFn(reg),
		Payload:       body,
		DedupeKey:     fmt.Sprintf("%s:%s:%d", reg.ID, event.Kind, event.OccurredAt.UnixNano()),
	}, nil
}
