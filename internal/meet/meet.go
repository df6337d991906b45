// Package meet creates video-meeting links for appointments.
package meet

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultMockBaseURL is the link prefix used by MockProvider.
const DefaultMockBaseURL = "https://meet.mock"

// Provider creates a meeting link for an appointment.
type Provider interface {
	CreateLink(ctx context.Context, appointmentID, title string) (string, error)
}

// MockProvider returns deterministic links of the form <base>/<appointmentID>.
type MockProvider struct {
	baseURL string
}

func NewMockProvider(baseURL string) *MockProvider {
	if baseURL == "" {
		baseURL = DefaultMockBaseURL
	}
	return &MockProvider{baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *MockProvider) CreateLink(_ context.Context, appointmentID, _ string) (string, error) {
	if appointmentID == "" {
		return "", errors.New("meet: empty appointment id")
	}
	return p.baseURL + "/" + url.PathEscape(appointmentID), nil
}

// HTTPProvider calls a conferencing API that creates a meeting and returns
// its join URL. The appointment id is sent as request id so the API can
// deduplicate repeated calls.
type HTTPProvider struct {
	client *resty.Client
	log    *zap.Logger
}

type createMeetingRequest struct {
	RequestID string `json:"request_id"`
	Title     string `json:"title"`
}

type createMeetingResponse struct {
	JoinURL string `json:"join_url"`
}

func NewHTTPProvider(apiURL, apiKey string, timeout time.Duration, log *zap.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPProvider{client: client, log: log.Named("meet.http")}
}

func (p *HTTPProvider) CreateLink(ctx context.Context, appointmentID, title string) (string, error) {
	if title == "" {
		title = "Psychotherapy Session"
	}
	var out createMeetingResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(createMeetingRequest{RequestID: appointmentID, Title: title}).
		SetResult(&out).
		Post("/meetings")
	if err != nil {
		return "", fmt.Errorf("meet: create meeting: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("meet: create meeting: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if out.JoinURL == "" {
		return "", errors.New("meet: response has no join_url")
	}
	p.log.Debug("meeting created", zap.String("appointment_id", appointmentID))
	return out.JoinURL, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
