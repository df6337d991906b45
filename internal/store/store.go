// Package store persists the business records that job handlers read and
// mutate: appointments, payments, articles and scrape runs. Every mutation a
// handler performs is conditional so that redelivered jobs stay idempotent.
package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store groups the record repositories sharing one connection pool.
type Store struct {
	Appointments *Appointments
	Payments     *Payments
	Articles     *Articles
	ScrapeRuns   *ScrapeRuns
}

func New(db *sql.DB) *Store {
	return &Store{
		Appointments: NewAppointments(db),
		Payments:     NewPayments(db),
		Articles:     NewArticles(db),
		ScrapeRuns:   NewScrapeRuns(db),
	}
}

func utcNow() time.Time { return time.Now().UTC() }

type scanner interface {
	Scan(dest ...any) error
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
