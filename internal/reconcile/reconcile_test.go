package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/store"
	"github.com/mohans/yebragi/internal/testutil"
)

type fakeProducer struct {
	mu       sync.Mutex
	meetings []string
	payments []string
	err      error
}

func (p *fakeProducer) EnqueueMeetingLinkJob(_ context.Context, id, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.meetings = append(p.meetings, id)
	return "job-" + id, nil
}

func (p *fakeProducer) EnqueueVerifyPaymentJob(_ context.Context, txRef string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.payments = append(p.payments, txRef)
	return "job-" + txRef, nil
}

func seed(t *testing.T) (*store.Store, *asyncx.SQLStore) {
	t.Helper()
	db := testutil.NewSQLite(t)
	s := store.New(db)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, s.Appointments.Create(ctx, &store.Appointment{ID: "apt-stale", PatientID: "p", TherapistID: "t", CreatedAt: old, ScheduledAt: old}))
	require.NoError(t, s.Appointments.Create(ctx, &store.Appointment{ID: "apt-new", PatientID: "p", TherapistID: "t", ScheduledAt: old}))
	require.NoError(t, s.Payments.Create(ctx, &store.Payment{AppointmentID: "apt-stale", TxRef: "tx-pending", AmountCents: 1}))
	require.NoError(t, s.Payments.Create(ctx, &store.Payment{AppointmentID: "apt-stale", TxRef: "tx-done", AmountCents: 1, Status: store.PaymentSuccess}))
	return s, asyncx.NewSQLStore(db)
}

func TestReconciler_Run(t *testing.T) {
	s, records := seed(t)
	p := &fakeProducer{}
	r := New(s.Appointments, s.Payments, p, records, Config{MeetLinkAge: 10 * time.Minute, PaymentAge: time.Nanosecond}, zap.NewNop())

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"apt-stale"}, p.meetings)
	assert.Equal(t, []string{"tx-pending"}, p.payments)
}

func TestReconciler_QueueUnavailableAborts(t *testing.T) {
	s, records := seed(t)
	p := &fakeProducer{err: fmt.Errorf("%w: redis down", asyncx.ErrQueueUnavailable)}
	r := New(s.Appointments, s.Payments, p, records, Config{PaymentAge: time.Nanosecond}, zap.NewNop())

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, asyncx.ErrQueueUnavailable)
	assert.Empty(t, p.payments)
}

func TestReconciler_PurgeJobs(t *testing.T) {
	s, records := seed(t)
	ctx := context.Background()
	require.NoError(t, records.Insert(ctx, asyncx.JobRecord{ID: "old", Topic: "scrape-articles", PayloadJSON: "{}"}))
	require.NoError(t, records.Complete(ctx, "old", nil, time.Now().UTC().Add(-48*time.Hour)))

	r := New(s.Appointments, s.Payments, &fakeProducer{}, records, Config{RecordRetention: 24 * time.Hour}, zap.NewNop())
	n, err := r.PurgeJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReconciler_Schedule(t *testing.T) {
	s, records := seed(t)
	r := New(s.Appointments, s.Payments, &fakeProducer{}, records, Config{}, zap.NewNop())
	c := NewCron(zap.NewNop())

	require.NoError(t, r.Schedule(c, "@every 5m", "@daily"))
	assert.Len(t, c.Entries(), 2)
	assert.Error(t, r.Schedule(NewCron(zap.NewNop()), "not a spec", "@daily"))
}
