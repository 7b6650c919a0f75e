package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BridgeCallTimeout bounds one bridge API request.
const BridgeCallTimeout = 30 * time.Second

// bridgeSendMethod selects the bridge's delivery mechanism.
const bridgeSendMethod = "private-api"

// BridgeOpts holds configuration for the iMessage bridge client.
type BridgeOpts struct {
	ServerURL string
	Password  string
}

// BridgeOption configures the bridge client.
type BridgeOption func(*BridgeOpts)

// WithBridgeServerURL sets the bridge server base URL.
func WithBridgeServerURL(u string) BridgeOption {
	return func(o *BridgeOpts) { o.ServerURL = strings.TrimRight(u, "/") }
}

// WithBridgePassword sets the bridge server password.
func WithBridgePassword(p string) BridgeOption {
	return func(o *BridgeOpts) { o.Password = p }
}

// BridgeClient delivers replies through the iMessage bridge REST API. The
// bridge authenticates with a password query parameter and requires a unique
// temp GUID per outbound message.
type BridgeClient struct {
	serverURL string
	password  string
	client    *http.Client
}

var _ Transport = (*BridgeClient)(nil)

// NewBridgeClient creates a bridge transport. Server URL and password are
// required.
func NewBridgeClient(opts ...BridgeOption) (*BridgeClient, error) {
	var cfg BridgeOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("bridge server URL not set")
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("bridge server password not set")
	}
	return &BridgeClient{
		serverURL: cfg.ServerURL,
		password:  cfg.Password,
		client:    &http.Client{Timeout: BridgeCallTimeout},
	}, nil
}

// ValidateAndCanonicalizeRecipient accepts a full bridge chat route or a
// bare phone number, which it wraps into a direct-message route.
func (b *BridgeClient) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if strings.Contains(recipient, ";") {
		return recipient, nil
	}
	if _, err := canonicalPhone(recipient); err != nil {
		return "", err
	}
	return "iMessage;-;" + recipient, nil
}

type bridgeTextRequest struct {
	ChatGUID string `json:"chatGuid"`
	TempGUID string `json:"tempGuid"`
	Message  string `json:"message"`
	Method   string `json:"method"`
}

// SendText sends one message to a bridge chat route.
func (b *BridgeClient) SendText(ctx context.Context, chatRoute string, text string) error {
	route, err := b.ValidateAndCanonicalizeRecipient(chatRoute)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(bridgeTextRequest{
		ChatGUID: route,
		TempGUID: uuid.NewString(),
		Message:  text,
		Method:   bridgeSendMethod,
	})
	if err != nil {
		return fmt.Errorf("failed to encode bridge request: %w", err)
	}

	endpoint := b.serverURL + "/api/v1/message/text?password=" + url.QueryEscape(b.password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		slog.Error("BridgeClient.SendText: request failed", "route", route, "error", err)
		return fmt.Errorf("bridge unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("BridgeClient.SendText: bridge rejected message", "route", route, "status", resp.StatusCode)
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, string(body))
	}
	slog.Debug("BridgeClient.SendText: message sent", "route", route, "text_length", len(text))
	return nil
}

// Ping checks bridge connectivity.
func (b *BridgeClient) Ping(ctx context.Context) bool {
	endpoint := b.serverURL + "/api/v1/ping?password=" + url.QueryEscape(b.password)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
