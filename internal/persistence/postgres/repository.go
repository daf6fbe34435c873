// Package postgres implements the domain Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/volunteer/internal/domain"
	"example.com/volunteer/internal/persistence"
)

const activityColumns = `activity_id, title, hours, format, month_tag, max_attempts, interest_count, completion_count, updated_at`

const registrationColumns = `registration_id, user_id, activity_id, status, created_at, updated_at`

// Repository provides Postgres-backed persistence for activities, registrations and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Update runs fn inside a database transaction. Row locks taken through
// the Tx are held until commit or rollback.
func (r *Repository) Update(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = fn(&repoTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetActivity retrieves an activity by ID.
func (r *Repository) GetActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1`, activityID)
	return scanActivity(row)
}

// ListActivities returns the full catalog ordered by id.
func (r *Repository) ListActivities(ctx context.Context) ([]domain.Activity, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+activityColumns+` FROM activities ORDER BY activity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *activity)
	}
	return results, rows.Err()
}

// UpsertActivity writes catalog-owned columns. Counters are only set on insert.
func (r *Repository) UpsertActivity(ctx context.Context, activity domain.Activity) error {
	updatedAt := activity.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	const stmt = `INSERT INTO activities (activity_id, title, hours, format, month_tag, max_attempts, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (activity_id) DO UPDATE SET
            title = EXCLUDED.title,
            hours = EXCLUDED.hours,
            format = EXCLUDED.format,
            month_tag = EXCLUDED.month_tag,
            max_attempts = EXCLUDED.max_attempts,
            updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, stmt,
		activity.ID,
		activity.Title,
		activity.Hours,
		string(activity.Format),
		activity.MonthTag,
		activity.MaxAttempts,
		updatedAt,
	)
	return err
}

// CountAttempts counts every registration of the user at the activity.
func (r *Repository) CountAttempts(ctx context.Context, userID, activityID string) (int, error) {
	return countAttempts(ctx, r.pool, userID, activityID)
}

// AttemptedActivityIDs lists activities the user has any registration for.
func (r *Repository) AttemptedActivityIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT activity_id FROM registrations WHERE user_id=$1 ORDER BY activity_id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// GetRegistration retrieves a registration owned by userID.
func (r *Repository) GetRegistration(ctx context.Context, userID, registrationID string) (*domain.Registration, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE user_id=$1 AND registration_id=$2`, userID, registrationID)
	return scanRegistration(row)
}

// ListRegistrations returns the user's registrations, newest first.
func (r *Repository) ListRegistrations(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Registration, *domain.Cursor, error) {
	args := []any{userID, limit}
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (created_at, registration_id) < ($3, $4)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}

	query += ` ORDER BY created_at DESC, registration_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Registration, 0, limit)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

type repoTx struct {
	tx pgx.Tx
}

func (t *repoTx) LockActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1 FOR UPDATE`, activityID)
	return scanActivity(row)
}

func (t *repoTx) CountAttempts(ctx context.Context, userID, activityID string) (int, error) {
	return countAttempts(ctx, t.tx, userID, activityID)
}

func (t *repoTx) InsertRegistration(ctx context.Context, reg domain.Registration) error {
	const stmt = `INSERT INTO registrations (` + registrationColumns + `) VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := t.tx.Exec(ctx, stmt,
		reg.ID,
		reg.UserID,
		reg.ActivityID,
		reg.Status.String(),
		reg.CreatedAt,
		reg.UpdatedAt,
	)
	return err
}

func (t *repoTx) LockRegistration(ctx context.Context, userID, registrationID string) (*domain.Registration, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE user_id=$1 AND registration_id=$2 FOR UPDATE`, userID, registrationID)
	return scanRegistration(row)
}

func (t *repoTx) UpdateRegistrationStatus(ctx context.Context, registrationID string, status domain.Status, updatedAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE registrations SET status=$2, updated_at=$3 WHERE registration_id=$1`, registrationID, status.String(), updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRegistrationNotFound, registrationID)
	}
	return nil
}

func (t *repoTx) DeleteRegistration(ctx context.Context, registrationID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM registrations WHERE registration_id=$1`, registrationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRegistrationNotFound, registrationID)
	}
	return nil
}

func (t *repoTx) AdjustCounters(ctx context.Context, activityID string, delta domain.CounterDelta) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE activities SET interest_count = interest_count + $2, completion_count = completion_count + $3 WHERE activity_id=$1`,
		activityID, delta.Interest, delta.Completion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrActivityNotFound, activityID)
	}
	return nil
}

func (t *repoTx) TallyRegistrations(ctx context.Context, activityID string) (domain.Counters, error) {
	var c domain.Counters
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'completed') FROM registrations WHERE activity_id=$1`,
		activityID,
	).Scan(&c.Interest, &c.Completion)
	return c, err
}

func (t *repoTx) SetCounters(ctx context.Context, activityID string, counters domain.Counters) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE activities SET interest_count=$2, completion_count=$3 WHERE activity_id=$1`,
		activityID, counters.Interest, counters.Completion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrActivityNotFound, activityID)
	}
	return nil
}

func (t *repoTx) RecordEvent(ctx context.Context, event domain.Event) error {
	rec, err := persistence.BuildOutboxRecord(event)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = t.tx.Exec(ctx, stmt,
		persistence.AggregateRegistration,
		rec.AggregateID,
		rec.EventType,
		rec.Topic,
		rec.SchemaSubject,
		rec.PartitionKey,
		rec.Payload,
		rec.DedupeKey,
	)
	return err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func countAttempts(ctx context.Context, q querier, userID, activityID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM registrations WHERE user_id=$1 AND activity_id=$2`, userID, activityID).Scan(&n)
	return n, err
}

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var (
		a      domain.Activity
		format string
	)
	if err := row.Scan(&a.ID, &a.Title, &a.Hours, &format, &a.MonthTag, &a.MaxAttempts, &a.InterestCount, &a.CompletionCount, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Format = domain.Format(format)
	return &a, nil
}

func scanRegistration(row pgx.Row) (*domain.Registration, error) {
	var (
		reg    domain.Registration
		status string
	)
	if err := row.Scan(&reg.ID, &reg.UserID, &reg.ActivityID, &status, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	parsed, err := domain.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("registration %s: %w", reg.ID, err)
	}
	reg.Status = parsed
	return &reg, nil
}
