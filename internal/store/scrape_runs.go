package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ScrapeRunStatus string

const (
	ScrapeRunRunning   ScrapeRunStatus = "RUNNING"
	ScrapeRunCompleted ScrapeRunStatus = "COMPLETED"
	ScrapeRunFailed    ScrapeRunStatus = "FAILED"
)

type ScrapeRun struct {
	ID               string            `json:"id"`
	JobID            string            `json:"job_id,omitempty"`
	Status           ScrapeRunStatus   `json:"status"`
	ArticlesUpserted int               `json:"articles_upserted"`
	SourcesOK        int               `json:"sources_ok"`
	SourcesFailed    int               `json:"sources_failed"`
	Errors           map[string]string `json:"errors,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       *time.Time        `json:"finished_at,omitempty"`
}

type ScrapeRuns struct {
	db  *sql.DB
	now func() time.Time
}

func NewScrapeRuns(db *sql.DB) *ScrapeRuns {
	return &ScrapeRuns{db: db, now: utcNow}
}

// Start opens a RUNNING run for the given job.
func (s *ScrapeRuns) Start(ctx context.Context, jobID string) (*ScrapeRun, error) {
	run := &ScrapeRun{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Status:    ScrapeRunRunning,
		StartedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO scrape_runs (id, job_id, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.JobID, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("start scrape run: %w", err)
	}
	return run, nil
}

// Finish records the final status and counters of run.
func (s *ScrapeRuns) Finish(ctx context.Context, run *ScrapeRun) error {
	var errorsJSON *string
	if len(run.Errors) > 0 {
		b, err := json.Marshal(run.Errors)
		if err != nil {
			return fmt.Errorf("encode scrape errors: %w", err)
		}
		v := string(b)
		errorsJSON = &v
	}
	finished := s.now()
	run.FinishedAt = &finished
	_, err := s.db.ExecContext(ctx, `UPDATE scrape_runs
		SET status = $2, articles_upserted = $3, sources_ok = $4, sources_failed = $5, errors_json = $6, finished_at = $7
		WHERE id = $1`,
		run.ID, string(run.Status), run.ArticlesUpserted, run.SourcesOK, run.SourcesFailed, errorsJSON, finished)
	if err != nil {
		return fmt.Errorf("finish scrape run %s: %w", run.ID, err)
	}
	return nil
}

func (s *ScrapeRuns) Get(ctx context.Context, id string) (*ScrapeRun, error) {
	var (
		run        ScrapeRun
		status     string
		errorsJSON sql.NullString
		finished   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, job_id, status, articles_upserted, sources_ok, sources_failed,
		errors_json, started_at, finished_at FROM scrape_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.JobID, &status, &run.ArticlesUpserted, &run.SourcesOK, &run.SourcesFailed,
			&errorsJSON, &run.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scrape run %s: %w", id, err)
	}
	run.Status = ScrapeRunStatus(status)
	run.FinishedAt = nullTime(finished)
	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &run.Errors); err != nil {
			return nil, fmt.Errorf("decode scrape errors %s: %w", id, err)
		}
	}
	return &run, nil
}
