// Package sqlite implements the domain Store over a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"example.com/volunteer/internal/domain"
	"example.com/volunteer/internal/persistence"
	"example.com/volunteer/internal/persistence/sqlite/migrations"
)

const activityColumns = `activity_id, title, hours, format, month_tag, max_attempts, interest_count, completion_count, updated_at`

const registrationColumns = `registration_id, user_id, activity_id, status, created_at, updated_at`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements domain.Store over SQLite. The pool holds one connection,
// so units of work are serialised and a locked read is simply a read.
type Store struct {
	sqlDB *sql.DB
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Open opens the database at path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path)
	if path == ":memory:" {
		dsn = path
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Update implements domain.Store.
func (s *Store) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&storeTx{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetActivity implements domain.Store.
func (s *Store) GetActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	return getActivity(ctx, s.sqlDB, activityID)
}

// ListActivities implements domain.Store.
func (s *Store) ListActivities(ctx context.Context) ([]domain.Activity, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+activityColumns+` FROM activities ORDER BY activity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpsertActivity implements domain.Store.
func (s *Store) UpsertActivity(ctx context.Context, activity domain.Activity) error {
	updatedAt := activity.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO activities (activity_id, title, hours, format, month_tag, max_attempts, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (activity_id) DO UPDATE SET
    title = excluded.title,
    hours = excluded.hours,
    format = excluded.format,
    month_tag = excluded.month_tag,
    max_attempts = excluded.max_attempts,
    updated_at = excluded.updated_at`,
		activity.ID, activity.Title, activity.Hours, string(activity.Format), activity.MonthTag, activity.MaxAttempts, toMillis(updatedAt),
	)
	return err
}

// CountAttempts implements domain.Store.
func (s *Store) CountAttempts(ctx context.Context, userID, activityID string) (int, error) {
	return countAttempts(ctx, s.sqlDB, userID, activityID)
}

// AttemptedActivityIDs implements domain.Store.
func (s *Store) AttemptedActivityIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT activity_id FROM registrations WHERE user_id = ? ORDER BY activity_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetRegistration implements domain.Store.
func (s *Store) GetRegistration(ctx context.Context, userID, registrationID string) (*domain.Registration, error) {
	return getRegistration(ctx, s.sqlDB, userID, registrationID)
}

// ListRegistrations implements domain.Store, newest first.
func (s *Store) ListRegistrations(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Registration, *domain.Cursor, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE user_id = ?`
	args := []any{userID}
	if cursor != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND registration_id < ?))`
		ms := toMillis(cursor.CreatedAt)
		args = append(args, ms, ms, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, registration_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
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

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

type storeTx struct {
	q *sql.Tx
}

func (t *storeTx) LockActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	return getActivity(ctx, t.q, activityID)
}

func (t *storeTx) CountAttempts(ctx context.Context, userID, activityID string) (int, error) {
	return countAttempts(ctx, t.q, userID, activityID)
}

func (t *storeTx) InsertRegistration(ctx context.Context, reg domain.Registration) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO registrations (`+registrationColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		reg.ID, reg.UserID, reg.ActivityID, reg.Status.String(), toMillis(reg.CreatedAt), toMillis(reg.UpdatedAt),
	)
	return err
}

func (t *storeTx) LockRegistration(ctx context.Context, userID, registrationID string) (*domain.Registration, error) {
	return getRegistration(ctx, t.q, userID, registrationID)
}

func (t *storeTx) UpdateRegistrationStatus(ctx context.Context, registrationID string, status domain.Status, updatedAt time.Time) error {
	res, err := t.q.ExecContext(ctx, `UPDATE registrations SET status = ?, updated_at = ? WHERE registration_id = ?`,
		status.String(), toMillis(updatedAt), registrationID)
	return requireRow(res, err, domain.ErrRegistrationNotFound, registrationID)
}

func (t *storeTx) DeleteRegistration(ctx context.Context, registrationID string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM registrations WHERE registration_id = ?`, registrationID)
	return requireRow(res, err, domain.ErrRegistrationNotFound, registrationID)
}

func (t *storeTx) AdjustCounters(ctx context.Context, activityID string, delta domain.CounterDelta) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE activities SET interest_count = interest_count + ?, completion_count = completion_count + ? WHERE activity_id = ?`,
		delta.Interest, delta.Completion, activityID)
	return requireRow(res, err, domain.ErrActivityNotFound, activityID)
}

func (t *storeTx) TallyRegistrations(ctx context.Context, activityID string) (domain.Counters, error) {
	var c domain.Counters
	err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) FROM registrations WHERE activity_id = ?`,
		activityID,
	).Scan(&c.Interest, &c.Completion)
	return c, err
}

func (t *storeTx) SetCounters(ctx context.Context, activityID string, counters domain.Counters) error {
	res, err := t.q.ExecContext(ctx, `UPDATE activities SET interest_count = ?, completion_count = ? WHERE activity_id = ?`,
		counters.Interest, counters.Completion, activityID)
	return requireRow(res, err, domain.ErrActivityNotFound, activityID)
}

func (t *storeTx) RecordEvent(ctx context.Context, event domain.Event) error {
	rec, err := persistence.BuildOutboxRecord(event)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		persistence.AggregateRegistration, rec.AggregateID, rec.EventType, rec.Topic, rec.SchemaSubject, rec.PartitionKey, rec.Payload, rec.DedupeKey, toMillis(event.OccurredAt),
	)
	return err
}

func requireRow(res sql.Result, err error, notFound error, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}

func countAttempts(ctx context.Context, q queryer, userID, activityID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations WHERE user_id = ? AND activity_id = ?`, userID, activityID).Scan(&n)
	return n, err
}

func getActivity(ctx context.Context, q queryer, activityID string) (*domain.Activity, error) {
	a, err := scanActivity(q.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id = ?`, activityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func getRegistration(ctx context.Context, q queryer, userID, registrationID string) (*domain.Registration, error) {
	reg, err := scanRegistration(q.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE user_id = ? AND registration_id = ?`, userID, registrationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return reg, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (*domain.Activity, error) {
	var (
		a         domain.Activity
		format    string
		updatedAt int64
	)
	if err := row.Scan(&a.ID, &a.Title, &a.Hours, &format, &a.MonthTag, &a.MaxAttempts, &a.InterestCount, &a.CompletionCount, &updatedAt); err != nil {
		return nil, err
	}
	a.Format = domain.Format(format)
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}

func scanRegistration(row scanner) (*domain.Registration, error) {
	var (
		reg                  domain.Registration
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&reg.ID, &reg.UserID, &reg.ActivityID, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	parsed, err := domain.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("registration %s: %w", reg.ID, err)
	}
	reg.Status = parsed
	reg.CreatedAt = fromMillis(createdAt)
	reg.UpdatedAt = fromMillis(updatedAt)
	return &reg, nil
}
