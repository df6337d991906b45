package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
	PaymentError   PaymentStatus = "ERROR"
)

// Settled reports whether the provider gave a final answer.
func (s PaymentStatus) Settled() bool {
	return s == PaymentSuccess || s == PaymentFailed
}

type Payment struct {
	ID            string        `json:"id"`
	AppointmentID string        `json:"appointment_id"`
	TxRef         string        `json:"tx_ref"`
	AmountCents   int64         `json:"amount_cents"`
	Currency      string        `json:"currency"`
	Status        PaymentStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Payments struct {
	db  *sql.DB
	now func() time.Time
}

func NewPayments(db *sql.DB) *Payments {
	return &Payments{db: db, now: utcNow}
}

const paymentColumns = `id, appointment_id, tx_ref, amount_cents, currency, status, created_at, updated_at`

func (s *Payments) Create(ctx context.Context, p *Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.TxRef == "" {
		p.TxRef = "yb-" + uuid.NewString()
	}
	if p.Currency == "" {
		p.Currency = "ETB"
	}
	if p.Status == "" {
		p.Status = PaymentPending
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.AppointmentID, p.TxRef, p.AmountCents, p.Currency, string(p.Status), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (s *Payments) GetByTxRef(ctx context.Context, txRef string) (*Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tx_ref = $1`, txRef)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", txRef, err)
	}
	return p, nil
}

// SetStatus updates the payment status unless it is already settled, so a
// terminal status is written exactly once. It reports whether a row changed.
func (s *Payments) SetStatus(ctx context.Context, txRef string, status PaymentStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE payments SET status = $2, updated_at = $3
		WHERE tx_ref = $1 AND status NOT IN ($4, $5)`,
		txRef, string(status), s.now(), string(PaymentSuccess), string(PaymentFailed))
	if err != nil {
		return false, fmt.Errorf("set payment status %s: %w", txRef, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set payment status %s: %w", txRef, err)
	}
	return n == 1, nil
}

// ListUnsettled returns PENDING and ERROR payments last touched before the cutoff.
func (s *Payments) ListUnsettled(ctx context.Context, updatedBefore time.Time, limit int) ([]Payment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE status IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at ASC LIMIT $4`,
		string(PaymentPending), string(PaymentError), updatedBefore.UTC(), clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, fmt.Errorf("list unsettled payments: %w", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("list unsettled payments: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPayment(row scanner) (*Payment, error) {
	var (
		p      Payment
		status string
	)
	if err := row.Scan(&p.ID, &p.AppointmentID, &p.TxRef, &p.AmountCents, &p.Currency, &status,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = PaymentStatus(status)
	return &p, nil
}
