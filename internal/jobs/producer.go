package jobs

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
)

// Enqueuer hands a job to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, topic string, payload any, opts asyncx.EnqueueOptions) (string, error)
}

// Producer enqueues jobs on business events. It returns as soon as the job
// is durable; errors wrap asyncx.ErrQueueUnavailable or ErrInvalidInput.
type Producer struct {
	queue Enqueuer
	log   *zap.Logger
}

func NewProducer(queue Enqueuer, log *zap.Logger) *Producer {
	return &Producer{queue: queue, log: log.Named("jobs.producer")}
}

func (p *Producer) EnqueueMeetingLinkJob(ctx context.Context, appointmentID, title string) (string, error) {
	return p.enqueue(ctx, TopicMeetingLink, MeetingLinkPayload{AppointmentID: strings.TrimSpace(appointmentID), Title: title})
}

// EnqueueOTPEmailJob sends code to email. The code is generated by the
// caller and stored before enqueueing so the emailed code is the one checked.
func (p *Producer) EnqueueOTPEmailJob(ctx context.Context, email, code string) (string, error) {
	return p.enqueue(ctx, TopicOTPEmail, OTPEmailPayload{Email: strings.TrimSpace(email), OTP: code})
}

func (p *Producer) EnqueueVerifyPaymentJob(ctx context.Context, txRef string) (string, error) {
	return p.enqueue(ctx, TopicVerifyPayment, VerifyPaymentPayload{TxRef: strings.TrimSpace(txRef)})
}

func (p *Producer) EnqueueScrapeJob(ctx context.Context, sources ...string) (string, error) {
	return p.enqueue(ctx, TopicScrapeArticles, ScrapePayload{Sources: sources})
}

func (p *Producer) enqueue(ctx context.Context, topic string, payload validator) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}
	id, err := p.queue.Enqueue(ctx, topic, payload, asyncx.EnqueueOptions{})
	if err != nil {
		p.log.Warn("enqueue failed", zap.String("topic", topic), zap.Error(err))
		return "", err
	}
	p.log.Info("job enqueued", zap.String("topic", topic), zap.String("job_id", id))
	return id, nil
}
