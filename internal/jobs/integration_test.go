package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/payment"
	"github.com/mohans/yebragi/internal/store"
	"github.com/mohans/yebragi/internal/testutil"
)

type pipeline struct {
	*fixture
	client   *asyncx.Client
	producer *Producer
}

func startPipeline(t *testing.T, configure ...func(*fixture)) *pipeline {
	t.Helper()
	f := newFixture(t)
	db := testutil.NewSQLite(t)
	f.store = store.New(db)
	f.handlers.d.Appointments = f.store.Appointments
	f.handlers.d.Payments = f.store.Payments
	f.handlers.d.Articles = f.store.Articles
	f.handlers.d.ScrapeRuns = f.store.ScrapeRuns
	for _, fn := range configure {
		fn(f)
	}

	mr := testutil.StartMiniRedis(t)
	redis := testutil.RedisOpt(mr)
	topics, err := NewTopics(Policy{MaxAttempts: 3, BackoffBase: 10 * time.Millisecond, BackoffMax: 50 * time.Millisecond})
	require.NoError(t, err)
	records := asyncx.NewSQLStore(db)

	processor := asyncx.NewProcessor(redis, records, topics, asyncx.ProcessorConfig{
		Concurrency:          4,
		ShutdownTimeout:      time.Second,
		PollInterval:         50 * time.Millisecond,
		DelayedCheckInterval: 50 * time.Millisecond,
		Logger:               zap.NewNop(),
	})
	require.NoError(t, processor.Start(NewServeMux(f.handlers)))
	t.Cleanup(processor.Shutdown)

	client := asyncx.NewClient(redis, records, topics, asyncx.ClientOptions{Logger: zap.NewNop()})
	t.Cleanup(func() { client.Close() })

	return &pipeline{fixture: f, client: client, producer: NewProducer(client, zap.NewNop())}
}

func (p *pipeline) waitCompleted(t *testing.T, id string) *asyncx.JobStatus {
	t.Helper()
	var st *asyncx.JobStatus
	err := testutil.PollUntil(10*time.Second, func() (bool, error) {
		s, err := p.client.Status(context.Background(), id)
		if err != nil {
			return false, err
		}
		st = s
		return s.State == asyncx.StateCompleted, nil
	})
	require.NoError(t, err, "job %s last status %+v", id, st)
	return st
}

func TestPipeline_MeetingLink(t *testing.T) {
	p := startPipeline(t)
	p.createAppointment(t, "apt-1", "")
	ctx := context.Background()

	id, err := p.producer.EnqueueMeetingLinkJob(ctx, "apt-1", "")
	require.NoError(t, err)
	st := p.waitCompleted(t, id)
	assert.JSONEq(t, `{"meet_link":"https://meet.mock/apt-1"}`, string(st.Result))

	apt, err := p.store.Appointments.Get(ctx, "apt-1")
	require.NoError(t, err)
	require.NotNil(t, apt.MeetLink)
	assert.Equal(t, "https://meet.mock/apt-1", *apt.MeetLink)

	// A second job for the same appointment keeps the first link.
	id, err = p.producer.EnqueueMeetingLinkJob(ctx, "apt-1", "")
	require.NoError(t, err)
	p.waitCompleted(t, id)
	assert.Equal(t, 1, p.meet.count())
}

func TestPipeline_MeetingLinkForDeletedAppointment(t *testing.T) {
	p := startPipeline(t)

	id, err := p.producer.EnqueueMeetingLinkJob(context.Background(), "apt-deleted", "")
	require.NoError(t, err)
	st := p.waitCompleted(t, id)
	assert.Equal(t, 1, st.Attempts)
	assert.Contains(t, string(st.Result), "skipped")
}

func TestPipeline_OTPEmailSentOnce(t *testing.T) {
	p := startPipeline(t)

	id, err := p.producer.EnqueueOTPEmailJob(context.Background(), "user@example.com", "123456")
	require.NoError(t, err)
	p.waitCompleted(t, id)

	msgs := p.mail.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user@example.com", msgs[0].To)
	assert.Contains(t, msgs[0].Text, "123456")
}

func TestPipeline_PaymentRedelivery(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()
	require.NoError(t, p.store.Payments.Create(ctx, &store.Payment{AppointmentID: "apt-1", TxRef: "tx-42", AmountCents: 75000}))

	first, err := p.producer.EnqueueVerifyPaymentJob(ctx, "tx-42")
	require.NoError(t, err)
	p.waitCompleted(t, first)
	second, err := p.producer.EnqueueVerifyPaymentJob(ctx, "tx-42")
	require.NoError(t, err)
	p.waitCompleted(t, second)

	pay, err := p.store.Payments.GetByTxRef(ctx, "tx-42")
	require.NoError(t, err)
	assert.Equal(t, store.PaymentSuccess, pay.Status)
	assert.Equal(t, 1, p.verifier.Calls())
}

type flakyVerifier struct {
	mu    sync.Mutex
	calls int
}

func (v *flakyVerifier) Verify(context.Context, string) (payment.VerifyResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.calls == 1 {
		return payment.VerifyResult{Status: "pending"}, nil
	}
	return payment.VerifyResult{Status: "success"}, nil
}

func TestPipeline_TransientFailureIsRetried(t *testing.T) {
	p := startPipeline(t, func(f *fixture) { f.handlers.d.Verifier = &flakyVerifier{} })
	ctx := context.Background()
	require.NoError(t, p.store.Payments.Create(ctx, &store.Payment{AppointmentID: "apt-1", TxRef: "tx-7", AmountCents: 100}))

	id, err := p.producer.EnqueueVerifyPaymentJob(ctx, "tx-7")
	require.NoError(t, err)

	st := p.waitCompleted(t, id)
	assert.Equal(t, 2, st.Attempts)
	assert.Contains(t, st.LastError, "still pending")
	pay, err := p.store.Payments.GetByTxRef(ctx, "tx-7")
	require.NoError(t, err)
	assert.Equal(t, store.PaymentSuccess, pay.Status)
}
