// Package jobs defines the background job topics of the booking platform:
// their payloads, the producer used by request handlers and the worker-side
// handlers that perform the slow external calls.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/otp"
)

const (
	TopicMeetingLink    = "generate-meeting-link"
	TopicOTPEmail       = "send-otp-email"
	TopicVerifyPayment  = "verify-payment"
	TopicScrapeArticles = "scrape-articles"
)

// ErrInvalidInput is returned by the producer for payloads that can never
// be processed. Nothing is enqueued.
var ErrInvalidInput = errors.New("jobs: invalid input")

type MeetingLinkPayload struct {
	AppointmentID string `json:"appointment_id"`
	Title         string `json:"title,omitempty"`
}

func (p MeetingLinkPayload) Validate() error {
	if strings.TrimSpace(p.AppointmentID) == "" {
		return fmt.Errorf("%w: appointment id is required", ErrInvalidInput)
	}
	return nil
}

type OTPEmailPayload struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (p OTPEmailPayload) Validate() error {
	if !strings.Contains(p.Email, "@") {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !otp.ValidCode(p.OTP) {
		return fmt.Errorf("%w: otp must be six digits", ErrInvalidInput)
	}
	return nil
}

type VerifyPaymentPayload struct {
	TxRef string `json:"tx_ref"`
}

func (p VerifyPaymentPayload) Validate() error {
	if strings.TrimSpace(p.TxRef) == "" {
		return fmt.Errorf("%w: tx_ref is required", ErrInvalidInput)
	}
	return nil
}

// ScrapePayload restricts the run to the named sources; empty means all.
type ScrapePayload struct {
	Sources []string `json:"sources,omitempty"`
}

func (p ScrapePayload) Validate() error {
	for _, key := range p.Sources {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: empty source key", ErrInvalidInput)
		}
	}
	return nil
}

type validator interface {
	Validate() error
}

// decode unmarshals and validates a task payload. Malformed payloads are
// permanent failures.
func decode(t *asynq.Task, v validator) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return asyncx.Permanent(fmt.Errorf("decode %s payload: %w", t.Type(), err))
	}
	if err := v.Validate(); err != nil {
		return asyncx.Permanent(err)
	}
	return nil
}

// Policy is the retry policy shared by all topics.
type Policy struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	ScrapeConcurrency int
	// MeetLinkPace spaces out calls to the conferencing provider.
	MeetLinkPace time.Duration
}

// NewTopics registers the four job topics with their execution policy.
func NewTopics(p Policy) (*asyncx.Topics, error) {
	return asyncx.NewTopics(
		asyncx.TopicConfig{
			Name:        TopicMeetingLink,
			MaxAttempts: p.MaxAttempts,
			Backoff:     asyncx.BackoffExponential,
			BackoffBase: p.BackoffBase,
			BackoffMax:  p.BackoffMax,
			Pace:        p.MeetLinkPace,
			Timeout:     30 * time.Second,
			Priority:    3,
		},
		asyncx.TopicConfig{
			Name:        TopicOTPEmail,
			MaxAttempts: p.MaxAttempts,
			Backoff:     asyncx.BackoffExponential,
			BackoffBase: p.BackoffBase,
			BackoffMax:  p.BackoffMax,
			Timeout:     30 * time.Second,
			// A user is waiting for this one.
			Priority: 6,
		},
		asyncx.TopicConfig{
			Name:        TopicVerifyPayment,
			MaxAttempts: p.MaxAttempts,
			Backoff:     asyncx.BackoffExponential,
			BackoffBase: p.BackoffBase,
			BackoffMax:  p.BackoffMax,
			Timeout:     45 * time.Second,
			Priority:    3,
		},
		asyncx.TopicConfig{
			Name:        TopicScrapeArticles,
			MaxAttempts: p.MaxAttempts,
			Backoff:     asyncx.BackoffFixed,
			BackoffBase: p.BackoffMax,
			Concurrency: p.ScrapeConcurrency,
			Timeout:     15 * time.Minute,
			Priority:    1,
		},
	)
}
