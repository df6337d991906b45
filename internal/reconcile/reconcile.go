// Package reconcile repairs business records whose follow-up job was lost,
// for example because the queue was unreachable when the record was created.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/store"
)

type AppointmentLister interface {
	ListMissingMeetLink(ctx context.Context, createdBefore time.Time, limit int) ([]store.Appointment, error)
}

type PaymentLister interface {
	ListUnsettled(ctx context.Context, updatedBefore time.Time, limit int) ([]store.Payment, error)
}

type Producer interface {
	EnqueueMeetingLinkJob(ctx context.Context, appointmentID, title string) (string, error)
	EnqueueVerifyPaymentJob(ctx context.Context, txRef string) (string, error)
}

// Purger deletes old completed job records.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	MeetLinkAge     time.Duration
	PaymentAge      time.Duration
	BatchSize       int
	RecordRetention time.Duration
}

type Reconciler struct {
	appointments AppointmentLister
	payments     PaymentLister
	producer     Producer
	records      Purger
	cfg          Config
	log          *zap.Logger
	now          func() time.Time
}

func New(appointments AppointmentLister, payments PaymentLister, producer Producer, records Purger, cfg Config, log *zap.Logger) *Reconciler {
	if cfg.MeetLinkAge <= 0 {
		cfg.MeetLinkAge = 10 * time.Minute
	}
	if cfg.PaymentAge <= 0 {
		cfg.PaymentAge = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RecordRetention <= 0 {
		cfg.RecordRetention = 30 * 24 * time.Hour
	}
	return &Reconciler{
		appointments: appointments,
		payments:     payments,
		producer:     producer,
		records:      records,
		cfg:          cfg,
		log:          log.Named("reconcile"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// MeetLinks re-enqueues link generation for appointments that still have no
// link after MeetLinkAge. It stops at the first queue error.
func (r *Reconciler) MeetLinks(ctx context.Context) (int, error) {
	apts, err := r.appointments.ListMissingMeetLink(ctx, r.now().Add(-r.cfg.MeetLinkAge), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range apts {
		if _, err := r.producer.EnqueueMeetingLinkJob(ctx, a.ID, a.Title); err != nil {
			return n, fmt.Errorf("re-enqueue meeting link for %s: %w", a.ID, err)
		}
		n++
	}
	if n > 0 {
		r.log.Info("re-enqueued meeting link jobs", zap.Int("count", n))
	}
	return n, nil
}

// Payments re-enqueues verification for PENDING and ERROR payments that have
// not changed for PaymentAge.
func (r *Reconciler) Payments(ctx context.Context) (int, error) {
	pays, err := r.payments.ListUnsettled(ctx, r.now().Add(-r.cfg.PaymentAge), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pays {
		if _, err := r.producer.EnqueueVerifyPaymentJob(ctx, p.TxRef); err != nil {
			return n, fmt.Errorf("re-enqueue verification for %s: %w", p.TxRef, err)
		}
		n++
	}
	if n > 0 {
		r.log.Info("re-enqueued payment verification jobs", zap.Int("count", n))
	}
	return n, nil
}

// PurgeJobs removes completed job records older than RecordRetention.
func (r *Reconciler) PurgeJobs(ctx context.Context) (int64, error) {
	n, err := r.records.Purge(ctx, r.now().Add(-r.cfg.RecordRetention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("purged job records", zap.Int64("count", n))
	}
	return n, nil
}

// Run performs both repairs. A queue outage aborts the pass; the next
// scheduled pass picks the records up again.
func (r *Reconciler) Run(ctx context.Context) error {
	_, merr := r.MeetLinks(ctx)
	if errors.Is(merr, asyncx.ErrQueueUnavailable) {
		return merr
	}
	_, perr := r.Payments(ctx)
	return errors.Join(merr, perr)
}

// Schedule registers the repair and purge passes on c.
func (r *Reconciler) Schedule(c *cron.Cron, spec, purgeSpec string) error {
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := r.Run(ctx); err != nil {
			r.log.Warn("reconciliation pass failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule reconciliation %q: %w", spec, err)
	}
	if _, err := c.AddFunc(purgeSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := r.PurgeJobs(ctx); err != nil {
			r.log.Warn("job record purge failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule purge %q: %w", purgeSpec, err)
	}
	return nil
}

// NewCron returns a UTC cron runner that logs through log and survives panics.
func NewCron(log *zap.Logger) *cron.Cron {
	logger := cron.PrintfLogger(zap.NewStdLog(log.Named("cron")))
	return cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}
