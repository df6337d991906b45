package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
)

type enqueueCall struct {
	topic   string
	payload any
}

type fakeQueue struct {
	calls []enqueueCall
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, topic string, payload any, _ asyncx.EnqueueOptions) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.calls = append(q.calls, enqueueCall{topic: topic, payload: payload})
	return fmt.Sprintf("job-%d", len(q.calls)), nil
}

func TestProducer_Enqueue(t *testing.T) {
	q := &fakeQueue{}
	p := NewProducer(q, zap.NewNop())
	ctx := context.Background()

	id, err := p.EnqueueMeetingLinkJob(ctx, " apt-1 ", "Intake")
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	_, err = p.EnqueueOTPEmailJob(ctx, "a@b.et", "123456")
	require.NoError(t, err)
	_, err = p.EnqueueVerifyPaymentJob(ctx, "tx-1")
	require.NoError(t, err)
	_, err = p.EnqueueScrapeJob(ctx)
	require.NoError(t, err)

	require.Len(t, q.calls, 4)
	assert.Equal(t, TopicMeetingLink, q.calls[0].topic)
	assert.Equal(t, MeetingLinkPayload{AppointmentID: "apt-1", Title: "Intake"}, q.calls[0].payload)
	assert.Equal(t, TopicOTPEmail, q.calls[1].topic)
	assert.Equal(t, OTPEmailPayload{Email: "a@b.et", OTP: "123456"}, q.calls[1].payload)
	assert.Equal(t, TopicVerifyPayment, q.calls[2].topic)
	assert.Equal(t, TopicScrapeArticles, q.calls[3].topic)
}

func TestProducer_InvalidInput(t *testing.T) {
	q := &fakeQueue{}
	p := NewProducer(q, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() (string, error)
	}{
		{"empty appointment", func() (string, error) { return p.EnqueueMeetingLinkJob(ctx, "  ", "") }},
		{"empty email", func() (string, error) { return p.EnqueueOTPEmailJob(ctx, "", "123456") }},
		{"empty otp", func() (string, error) { return p.EnqueueOTPEmailJob(ctx, "a@b.et", "") }},
		{"empty tx ref", func() (string, error) { return p.EnqueueVerifyPaymentJob(ctx, "") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fn()
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Empty(t, q.calls)
}

func TestProducer_QueueUnavailable(t *testing.T) {
	q := &fakeQueue{err: fmt.Errorf("%w: dial tcp: connection refused", asyncx.ErrQueueUnavailable)}
	p := NewProducer(q, zap.NewNop())

	_, err := p.EnqueueMeetingLinkJob(context.Background(), "apt-1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, asyncx.ErrQueueUnavailable))
	assert.False(t, errors.Is(err, ErrInvalidInput))
}
