// Package payment verifies transactions with the payment provider.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Outcome is the provider's answer reduced to what the system acts on.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeFailed
	OutcomePending
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomePending:
		return "pending"
	default:
		return "unknown"
	}
}

// MapStatus maps a provider transaction status to an Outcome.
func MapStatus(status string) Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "successful", "completed":
		return OutcomeSuccess
	case "failed", "cancelled", "canceled", "reversed", "refunded":
		return OutcomeFailed
	case "pending", "processing":
		return OutcomePending
	default:
		return OutcomeUnknown
	}
}

type VerifyResult struct {
	Status  string
	Message string
}

// Verifier asks the provider for the current status of a transaction.
type Verifier interface {
	Verify(ctx context.Context, txRef string) (VerifyResult, error)
}

// Chapa verifies transactions against the Chapa API.
type Chapa struct {
	client *resty.Client
	log    *zap.Logger
}

type chapaVerifyResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    *struct {
		Status string `json:"status"`
		TxRef  string `json:"tx_ref"`
	} `json:"data"`
}

func NewChapa(baseURL, secretKey string, timeout time.Duration, log *zap.Logger) *Chapa {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(secretKey).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Chapa{client: client, log: log.Named("payment.chapa")}
}

func (c *Chapa) Verify(ctx context.Context, txRef string) (VerifyResult, error) {
	var out chapaVerifyResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("txRef", txRef).
		SetResult(&out).
		SetError(&out).
		Get("/v1/transaction/verify/{txRef}")
	if err != nil {
		return VerifyResult{}, fmt.Errorf("chapa verify %s: %w", txRef, err)
	}
	if resp.IsError() {
		return VerifyResult{}, fmt.Errorf("chapa verify %s: status %d: %s", txRef, resp.StatusCode(), out.Message)
	}
	if out.Data == nil {
		return VerifyResult{}, fmt.Errorf("chapa verify %s: response has no data", txRef)
	}
	c.log.Debug("transaction verified", zap.String("tx_ref", txRef), zap.String("status", out.Data.Status))
	return VerifyResult{Status: out.Data.Status, Message: out.Message}, nil
}

// MockVerifier answers every verification with a fixed status.
type MockVerifier struct {
	mu     sync.Mutex
	status string
	err    error
	calls  int
}

func NewMockVerifier(status string) *MockVerifier {
	if status == "" {
		status = "success"
	}
	return &MockVerifier{status: status}
}

func (m *MockVerifier) Verify(ctx context.Context, txRef string) (VerifyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return VerifyResult{}, m.err
	}
	return VerifyResult{Status: m.status, Message: "mock"}, nil
}

// Set changes the answer of subsequent calls.
func (m *MockVerifier) Set(status string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status, m.err = status, err
}

// Calls returns how many times Verify was called.
func (m *MockVerifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ErrBadSignature is returned for webhook payloads that fail authentication.
var ErrBadSignature = errors.New("payment: invalid webhook signature")

// CheckWebhookSignature validates the hex HMAC-SHA256 of body under secret.
func CheckWebhookSignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || !hmac.Equal(want, got) {
		return ErrBadSignature
	}
	return nil
}

// SignWebhook returns the signature CheckWebhookSignature expects.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
