package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ActionCallTimeout bounds one action-provider request.
const ActionCallTimeout = 30 * time.Second

// Provider executes side effects against the external action service. Each
// method returns the provider's confirmation message on success.
type Provider interface {
	CreateDraft(ctx context.Context, accountID string, to []string, subject, body string) (string, error)
	SendEmail(ctx context.Context, accountID string, to []string, subject, body string) (string, error)
	CreateCalendarEvent(ctx context.Context, accountID, title string, start, end time.Time) (string, error)
}

// HTTPProvider talks to the action provider's JSON-over-HTTP endpoints.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates an action-provider client for the given base URL.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: ActionCallTimeout},
	}
}

type emailRequest struct {
	AccountID string   `json:"accountId"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
}

type calendarEventRequest struct {
	AccountID string `json:"accountId"`
	Title     string `json:"title"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type providerResponse struct {
	Message string `json:"message"`
}

// CreateDraft creates an email draft in the user's mailbox.
func (p *HTTPProvider) CreateDraft(ctx context.Context, accountID string, to []string, subject, body string) (string, error) {
	return p.post(ctx, "/api/google/gmail/create-draft", emailRequest{
		AccountID: accountID, To: to, Subject: subject, Body: body,
	})
}

// SendEmail sends an email immediately.
func (p *HTTPProvider) SendEmail(ctx context.Context, accountID string, to []string, subject, body string) (string, error) {
	return p.post(ctx, "/api/google/gmail/send-email", emailRequest{
		AccountID: accountID, To: to, Subject: subject, Body: body,
	})
}

// CreateCalendarEvent creates a calendar event between start and end.
func (p *HTTPProvider) CreateCalendarEvent(ctx context.Context, accountID, title string, start, end time.Time) (string, error) {
	return p.post(ctx, "/api/google/calendar/create-event", calendarEventRequest{
		AccountID: accountID,
		Title:     title,
		StartTime: start.Format(time.RFC3339),
		EndTime:   end.Format(time.RFC3339),
	})
}

func (p *HTTPProvider) post(ctx context.Context, path string, payload any) (string, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Error("HTTPProvider.post: request failed", "path", path, "error", err)
		return "", fmt.Errorf("action provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("HTTPProvider.post: provider rejected request", "path", path, "status", resp.StatusCode)
		return "", fmt.Errorf("action provider returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed providerResponse
	if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message, nil
	}
	return "", nil
}
