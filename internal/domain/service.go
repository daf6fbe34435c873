// Package domain defines the registration and planning rules of the volunteer service.
package domain

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/volunteer/internal/cache"
	"example.com/volunteer/internal/observability"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var tracer = otel.Tracer("example.com/volunteer/internal/domain")

// Service orchestrates registration workflows over a Store.
type Service struct {
	store Store
	cache cache.Invalidator
}

// NewService constructs a Service.
func NewService(store Store, invalidator cache.Invalidator) *Service {
	if invalidator == nil {
		invalidator = cache.NoopInvalidator{}
	}
	return &Service{store: store, cache: invalidator}
}

// GetActivity fetches a catalog entry with its counters.
func (s *Service) GetActivity(ctx context.Context, activityID string) (*Activity, error) {
	if err := requireID("activity_id", activityID); err != nil {
		return nil, err
	}
	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

// UpsertCatalogActivity stores a catalog definition pushed by the catalog owner.
func (s *Service) UpsertCatalogActivity(ctx context.Context, activity Activity) error {
	if err := activity.ValidateDefinition(); err != nil {
		return err
	}
	activity.Format, _ = ParseFormat(string(activity.Format))
	if err := s.store.UpsertActivity(ctx, activity); err != nil {
		return fmt.Errorf("upsert activity %s: %w", activity.ID, err)
	}
	s.invalidate(ctx, []string{activity.ID})
	return nil
}

// CheckAttempt reports how many attempts the user made at the activity and
// whether another registration is allowed. It never writes.
func (s *Service) CheckAttempt(ctx context.Context, userID, activityID string) (status AttemptStatus, err error) {
	ctx, span := startSpan(ctx, "Service.CheckAttempt", attribute.String("user.id", userID), attribute.String("activity.id", activityID))
	defer func() { endSpan(span, err) }()

	if err := requireID("user_id", userID); err != nil {
		return AttemptStatus{}, err
	}
	activity, err := s.GetActivity(ctx, activityID)
	if err != nil {
		return AttemptStatus{}, err
	}
	attempts, err := s.store.CountAttempts(ctx, userID, activityID)
	if err != nil {
		return AttemptStatus{}, err
	}
	return evaluateAttempts(attempts, activity.MaxAttempts), nil
}

// GetRegistration fetches one of the user's registrations.
func (s *Service) GetRegistration(ctx context.Context, userID, registrationID string) (*Registration, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	if err := requireID("registration_id", registrationID); err != nil {
		return nil, err
	}
	registration, err := s.store.GetRegistration(ctx, userID, registrationID)
	if err != nil {
		return nil, err
	}
	if registration == nil {
		return nil, ErrRegistrationNotFound
	}
	return registration, nil
}

// ListRegistrations pages through the user's registrations, newest first.
func (s *Service) ListRegistrations(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Registration, *Cursor, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.store.ListRegistrations(ctx, userID, cursor, limit)
}

// PlanForUser plans over the current catalog, leaving out every activity the
// user already attempted.
func (s *Service) PlanForUser(ctx context.Context, userID string, req PlanRequest) (result PlanResult, err error) {
	ctx, span := startSpan(ctx, "Service.PlanForUser", attribute.String("user.id", userID), attribute.Int("plan.target_hours", req.TargetHours))
	defer func() { endSpan(span, err) }()

	if err := requireID("user_id", userID); err != nil {
		return PlanResult{}, err
	}
	if err := req.Validate(); err != nil {
		return PlanResult{}, err
	}

	catalog, err := s.store.ListActivities(ctx)
	if err != nil {
		return PlanResult{}, err
	}
	attempted, err := s.store.AttemptedActivityIDs(ctx, userID)
	if err != nil {
		return PlanResult{}, err
	}
	skip := make(map[string]struct{}, len(attempted))
	for _, id := range attempted {
		skip[id] = struct{}{}
	}
	snapshot := make([]Activity, 0, len(catalog))
	for _, activity := range catalog {
		if _, ok := skip[activity.ID]; !ok {
			snapshot = append(snapshot, activity)
		}
	}

	result, err = Plan(snapshot, req)
	if err != nil {
		return PlanResult{}, err
	}
	observability.RecordPlan(result.AchievedHours, result.Shortfall)
	span.SetAttributes(attribute.Int("plan.achieved_hours", result.AchievedHours), attribute.Bool("plan.shortfall", result.Shortfall))
	return result, nil
}

// invalidate notifies the catalog cache about committed counter changes.
// The write already succeeded, so failures are only logged.
func (s *Service) invalidate(ctx context.Context, activityIDs []string) {
	for _, id := range activityIDs {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			log.Printf("cache invalidation failed (activity=%s): %v", id, err)
		}
	}
}

func requireID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgument, field)
	}
	return nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
