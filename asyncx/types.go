package asyncx

import (
	"encoding/json"
	"errors"
	"time"
)

// State represents a job's lifecycle state recorded in the database.
// Valid values: queued, active, completed, failed.
// Kept as string for readability in SQL.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// DefaultMaxAttempts applies when neither the job nor its topic sets one.
const DefaultMaxAttempts = 3

const maxErrorLen = 500

var (
	// ErrQueueUnavailable is returned when the queue backend or the record
	// store cannot be reached. Callers treat it as retriable.
	ErrQueueUnavailable = errors.New("asyncx: queue unavailable")
	// ErrJobNotFound is returned for unknown or purged job ids.
	ErrJobNotFound = errors.New("asyncx: job not found")
	// ErrNotRequeueable is returned by Requeue for jobs that are not FAILED.
	ErrNotRequeueable = errors.New("asyncx: job is not in failed state")
)

// JobRecord is the persisted representation of a job lifecycle.
type JobRecord struct {
	ID          string // asynq task ID
	Topic       string // asynq queue and task type
	PayloadJSON string
	State       State
	Attempts    int
	MaxAttempts int
	LastError   *string
	ResultJSON  *string
	CreatedAt   time.Time
	UpdatedAt   *time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// JobStatus is the read model returned to status pollers.
type JobStatus struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	State       State           `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

func (r *JobRecord) status() JobStatus {
	st := JobStatus{
		ID:          r.ID,
		Topic:       r.Topic,
		State:       r.State,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if r.LastError != nil {
		st.LastError = *r.LastError
	}
	if r.ResultJSON != nil && *r.ResultJSON != "" {
		st.Result = json.RawMessage(*r.ResultJSON)
	}
	return st
}

// Stats counts job records per state.
type Stats struct {
	Queued    int64 `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// EnqueueOptions is the per-job execution policy. Zero values fall back to
// the topic configuration.
type EnqueueOptions struct {
	MaxAttempts int
	Delay       time.Duration
}

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
