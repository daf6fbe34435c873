package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"example.com/volunteer/internal/domain"
	"example.com/volunteer/internal/events"
)

// CatalogUpserter stores activity definitions owned by the catalog service.
type CatalogUpserter interface {
	UpsertCatalogActivity(ctx context.Context, activity domain.Activity) error
}

// CatalogHandler applies catalog.activity_upserted events to the local
// activity table. Counters are never taken from the event.
type CatalogHandler struct {
	upserter CatalogUpserter
	logger   *log.Logger
}

// NewCatalogHandler constructs a CatalogHandler.
func NewCatalogHandler(upserter CatalogUpserter, logger *log.Logger) *CatalogHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[catalog] ", log.LstdFlags)
	}
	return &CatalogHandler{upserter: upserter, logger: logger}
}

// Handle decodes and applies one message. Payloads that can never be applied
// are logged and acknowledged; store failures are returned so the offset
// stays uncommitted.
func (h *CatalogHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeCatalogActivityUpserted {
		recordSkipped(msg, "unknown_event_type")
		return nil
	}

	var payload events.CatalogActivityUpserted
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		h.logger.Printf("dropping undecodable catalog event (offset=%d): %v", msg.Offset, err)
		recordSkipped(msg, "malformed_payload")
		return nil
	}

	err := h.upserter.UpsertCatalogActivity(ctx, domain.Activity{
		ID:          payload.ActivityID,
		Title:       payload.Title,
		Hours:       payload.Hours,
		Format:      domain.Format(payload.Format),
		MonthTag:    payload.MonthTag,
		MaxAttempts: payload.MaxAttempts,
		UpdatedAt:   payload.UpdatedAt,
	})
	if errors.Is(err, domain.ErrInvalidArgument) {
		h.logger.Printf("dropping invalid catalog activity %q: %v", payload.ActivityID, err)
		recordSkipped(msg, "invalid_definition")
		return nil
	}
	return err
}
