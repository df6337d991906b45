package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "PENDING"
	AppointmentConfirmed AppointmentStatus = "CONFIRMED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
	AppointmentCompleted AppointmentStatus = "COMPLETED"
)

type Appointment struct {
	ID          string            `json:"id"`
	PatientID   string            `json:"patient_id"`
	TherapistID string            `json:"therapist_id"`
	Title       string            `json:"title"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	Status      AppointmentStatus `json:"status"`
	MeetLink    *string           `json:"meet_link,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type Appointments struct {
	db  *sql.DB
	now func() time.Time
}

func NewAppointments(db *sql.DB) *Appointments {
	return &Appointments{db: db, now: utcNow}
}

const appointmentColumns = `id, patient_id, therapist_id, title, scheduled_at, status, meet_link, created_at, updated_at`

// Create inserts a new appointment. Missing id, status and timestamps are filled in.
func (s *Appointments) Create(ctx context.Context, a *Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = AppointmentPending
	}
	now := s.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.PatientID, a.TherapistID, a.Title, a.ScheduledAt.UTC(), string(a.Status), a.MeetLink,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

func (s *Appointments) Get(ctx context.Context, id string) (*Appointment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return a, nil
}

// SetMeetLink stores link only if the appointment has none yet. It reports
// whether this call wrote the link.
func (s *Appointments) SetMeetLink(ctx context.Context, id, link string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE appointments SET meet_link = $2, updated_at = $3
		WHERE id = $1 AND meet_link IS NULL`, id, link, s.now())
	if err != nil {
		return false, fmt.Errorf("set meet link %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set meet link %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *Appointments) SetStatus(ctx context.Context, id string, status AppointmentStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE appointments SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), s.now())
	if err != nil {
		return fmt.Errorf("set appointment status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMissingMeetLink returns active appointments created before the cutoff
// that still have no meeting link.
func (s *Appointments) ListMissingMeetLink(ctx context.Context, createdBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+appointmentColumns+` FROM appointments
		WHERE meet_link IS NULL AND status IN ($1, $2) AND created_at < $3
		ORDER BY created_at ASC LIMIT $4`,
		string(AppointmentPending), string(AppointmentConfirmed), createdBefore.UTC(), clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, fmt.Errorf("list appointments missing link: %w", err)
	}
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("list appointments missing link: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAppointment(row scanner) (*Appointment, error) {
	var (
		a      Appointment
		status string
		link   sql.NullString
	)
	if err := row.Scan(&a.ID, &a.PatientID, &a.TherapistID, &a.Title, &a.ScheduledAt, &status, &link,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = AppointmentStatus(status)
	a.MeetLink = nullString(link)
	return &a, nil
}
