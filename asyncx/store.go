package asyncx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store abstracts persistence for job lifecycle records.
// Implementations must be safe for concurrent use.
type Store interface {
	Insert(ctx context.Context, rec JobRecord) error
	Claim(ctx context.Context, id string, attempt, maxAttempts int, at time.Time) (bool, error)
	Complete(ctx context.Context, id string, resultJSON *string, at time.Time) error
	Fail(ctx context.Context, id string, attempt, maxAttempts int, errMsg string, at time.Time) (State, error)
	Abandon(ctx context.Context, id string, errMsg string, at time.Time) error
	Requeue(ctx context.Context, id string, at time.Time) error
	GetByID(ctx context.Context, id string) (*JobRecord, error)
	List(ctx context.Context, f ListFilter) ([]JobRecord, error)
	Stats(ctx context.Context, topic string) (*Stats, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// ListFilter narrows List results. Empty fields match everything.
type ListFilter struct {
	Topic string
	State State
	Limit int
}

// SQLStore is the reference implementation backed by a relational DB
// (Postgres in production, SQLite in development and tests).
// Table schema is provided by the migrations package.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const jobColumns = `id, topic, payload_json, state, attempts, max_attempts, last_error, result_json,
	created_at, updated_at, started_at, finished_at`

// Insert records a queued job. Inserting an id that already exists is a no-op
// so that periodic and adopted tasks can be recorded more than once.
func (s *SQLStore) Insert(ctx context.Context, rec JobRecord) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	if rec.State == "" {
		rec.State = StateQueued
	}
	if rec.MaxAttempts <= 0 {
		rec.MaxAttempts = DefaultMaxAttempts
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (id, topic, payload_json, state, attempts, max_attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Topic, rec.PayloadJSON, string(rec.State), rec.Attempts, rec.MaxAttempts, rec.LastError, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert job %s: %w", rec.ID, err)
	}
	return nil
}

// Claim moves a queued (or orphaned active) job to active for the given
// attempt. It returns false when the job already reached a terminal state.
func (s *SQLStore) Claim(ctx context.Context, id string, attempt, maxAttempts int, at time.Time) (bool, error) {
	if s.db == nil {
		return false, errors.New("nil db")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs
		SET state = $2, attempts = $3, max_attempts = $4, started_at = $5, finished_at = NULL, updated_at = $5
		WHERE id = $1 AND state IN ($6, $7)`,
		id, string(StateActive), attempt, maxAttempts, at.UTC(), string(StateQueued), string(StateActive))
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) Complete(ctx context.Context, id string, resultJSON *string, at time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	_, err := s.db.ExecContext(ctx, `UPDATE jobs
		SET state = $2, result_json = $3, finished_at = $4, updated_at = $4
		WHERE id = $1`,
		id, string(StateCompleted), resultJSON, at.UTC())
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. The job returns to queued while attempts
// remain and becomes failed once attempt reaches maxAttempts.
func (s *SQLStore) Fail(ctx context.Context, id string, attempt, maxAttempts int, errMsg string, at time.Time) (State, error) {
	if s.db == nil {
		return "", errors.New("nil db")
	}
	next := StateQueued
	var finished *time.Time
	if attempt >= maxAttempts {
		next = StateFailed
		t := at.UTC()
		finished = &t
	}
	_, err := s.db.ExecContext(ctx, `UPDATE jobs
		SET state = $2, attempts = $3, max_attempts = $4, last_error = $5, finished_at = $6, updated_at = $7
		WHERE id = $1`,
		id, string(next), attempt, maxAttempts, truncateError(errMsg), finished, at.UTC())
	if err != nil {
		return "", fmt.Errorf("fail job %s: %w", id, err)
	}
	return next, nil
}

// Abandon marks a job failed without consuming an attempt. It is used when the
// job could not be handed to the queue backend at all.
func (s *SQLStore) Abandon(ctx context.Context, id string, errMsg string, at time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	_, err := s.db.ExecContext(ctx, `UPDATE jobs
		SET state = $2, last_error = $3, finished_at = $4, updated_at = $4
		WHERE id = $1`,
		id, string(StateFailed), truncateError(errMsg), at.UTC())
	if err != nil {
		return fmt.Errorf("abandon job %s: %w", id, err)
	}
	return nil
}

// Requeue resets a failed job so it can run again from its first attempt.
func (s *SQLStore) Requeue(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs
		SET state = $2, attempts = 0, started_at = NULL, finished_at = NULL, updated_at = $3
		WHERE id = $1 AND state = $4`,
		id, string(StateQueued), at.UTC(), string(StateFailed))
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrNotRequeueable
	}
	return nil
}

func (s *SQLStore) GetByID(ctx context.Context, id string) (*JobRecord, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLStore) List(ctx context.Context, f ListFilter) ([]JobRecord, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	var (
		where []string
		args  []any
	)
	if f.Topic != "" {
		args = append(args, f.Topic)
		where = append(where, fmt.Sprintf("topic = $%d", len(args)))
	}
	if f.State != "" {
		args = append(args, string(f.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Stats(ctx context.Context, topic string) (*Stats, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	q := `SELECT state, COUNT(*) FROM jobs`
	var args []any
	if topic != "" {
		q += ` WHERE topic = $1`
		args = append(args, topic)
	}
	q += ` GROUP BY state`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()
	stats := &Stats{}
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("job stats: %w", err)
		}
		switch State(state) {
		case StateQueued:
			stats.Queued = n
		case StateActive:
			stats.Active = n
		case StateCompleted:
			stats.Completed = n
		case StateFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

// Purge deletes completed records finished before the cutoff. Failed
// records are kept for manual inspection.
func (s *SQLStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	if s.db == nil {
		return 0, errors.New("nil db")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE state = $1 AND finished_at < $2`,
		string(StateCompleted), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*JobRecord, error) {
	rec := JobRecord{}
	var state string
	var lastError, resultJSON sql.NullString
	var updatedAt, startedAt, finishedAt sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Topic, &rec.PayloadJSON, &state, &rec.Attempts, &rec.MaxAttempts,
		&lastError, &resultJSON, &rec.CreatedAt, &updatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	rec.State = State(state)
	if lastError.Valid {
		v := lastError.String
		rec.LastError = &v
	}
	if resultJSON.Valid {
		v := resultJSON.String
		rec.ResultJSON = &v
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		rec.UpdatedAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}
