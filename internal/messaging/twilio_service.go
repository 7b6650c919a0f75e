package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioOpts holds configuration for the Twilio SMS transport.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioOption configures the Twilio transport.
type TwilioOption func(*TwilioOpts)

// WithTwilioAccountSID sets the Twilio account SID.
func WithTwilioAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithTwilioAuthToken sets the Twilio auth token.
func WithTwilioAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithTwilioFromNumber sets the sending phone number.
func WithTwilioFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromNumber = from }
}

// TwilioTransport delivers replies as SMS through the Twilio API.
type TwilioTransport struct {
	client *twilio.RestClient
	from   string
}

var _ Transport = (*TwilioTransport)(nil)

// NewTwilioTransport creates a Twilio SMS transport. Credentials fall back
// to the TWILIO_* environment variables when not supplied via options.
func NewTwilioTransport(opts ...TwilioOption) (*TwilioTransport, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("Twilio account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("Twilio from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioTransport{client: client, from: cfg.FromNumber}, nil
}

// ValidateAndCanonicalizeRecipient reduces a recipient to E.164-ish digits.
func (t *TwilioTransport) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	digits, err := canonicalPhone(routePhone(recipient))
	if err != nil {
		return "", err
	}
	return "+" + digits, nil
}

// SendText sends one SMS to the phone addressed by the chat route.
func (t *TwilioTransport) SendText(ctx context.Context, chatRoute string, text string) error {
	to, err := t.ValidateAndCanonicalizeRecipient(chatRoute)
	if err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(text)

	if _, err := t.client.Api.CreateMessage(params); err != nil {
		slog.Error("TwilioTransport.SendText: send failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("TwilioTransport.SendText: message sent", "to", to)
	return nil
}
