// Package auth talks to the external auth provider for email OTP
// verification.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conciergelabs/concierge/internal/models"
)

// AuthCallTimeout bounds one auth-provider request.
const AuthCallTimeout = 10 * time.Second

// Provider sends and verifies email OTP codes.
type Provider interface {
	// SendEmailOTP emails a one-time code to the address.
	SendEmailOTP(ctx context.Context, email string) error

	// VerifyEmailOTP checks a code. It returns false with a nil error when
	// the code is simply wrong; errors mean the provider itself failed.
	VerifyEmailOTP(ctx context.Context, email, code string) (bool, error)
}

// Opts holds configuration for the auth client.
type Opts struct {
	BaseURL string
	APIKey  string
}

// Option configures the auth client.
type Option func(*Opts)

// WithBaseURL sets the auth provider base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(url, "/") }
}

// WithAPIKey sets the auth provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// Client is an HTTP client for a GoTrue-style auth API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Provider = (*Client)(nil)

// NewClient creates an auth client. Base URL and API key are required.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("auth base URL not set")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("auth API key not set")
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: AuthCallTimeout},
	}, nil
}

// SendEmailOTP emails a one-time code to the address.
func (c *Client) SendEmailOTP(ctx context.Context, email string) error {
	status, body, err := c.post(ctx, "/auth/v1/otp", map[string]any{
		"email":       email,
		"create_user": true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrExternalUnavailable, err)
	}
	if status < 200 || status >= 300 {
		slog.Warn("Client.SendEmailOTP: provider rejected request", "status", status)
		return fmt.Errorf("%w: otp send returned %d: %s", models.ErrExternalUnavailable, status, body)
	}
	slog.Info("Client.SendEmailOTP: code sent", "email", email)
	return nil
}

// VerifyEmailOTP checks a code against the provider. A 4xx response means
// the code is wrong or expired, not that the provider is down.
func (c *Client) VerifyEmailOTP(ctx context.Context, email, code string) (bool, error) {
	status, body, err := c.post(ctx, "/auth/v1/verify", map[string]any{
		"type":  "email",
		"email": email,
		"token": code,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrExternalUnavailable, err)
	}
	switch {
	case status >= 200 && status < 300:
		return true, nil
	case status >= 400 && status < 500:
		slog.Debug("Client.VerifyEmailOTP: code rejected", "email", email, "status", status)
		return false, nil
	default:
		return false, fmt.Errorf("%w: otp verify returned %d: %s", models.ErrExternalUnavailable, status, body)
	}
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, string, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), nil
}
