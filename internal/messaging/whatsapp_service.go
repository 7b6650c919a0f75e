package messaging

import (
	"context"
	"log/slog"

	"github.com/conciergelabs/concierge/internal/whatsapp"
)

// WhatsAppTransport delivers replies over WhatsApp via a whatsmeow client.
type WhatsAppTransport struct {
	client whatsapp.Sender
}

var _ Transport = (*WhatsAppTransport)(nil)

// NewWhatsAppTransport wraps a WhatsApp sender as a reply transport.
func NewWhatsAppTransport(client whatsapp.Sender) *WhatsAppTransport {
	return &WhatsAppTransport{client: client}
}

// ValidateAndCanonicalizeRecipient reduces a recipient to bare digits, the
// form whatsmeow JIDs are built from.
func (w *WhatsAppTransport) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(routePhone(recipient))
}

// SendText sends one WhatsApp message to the phone addressed by the route.
func (w *WhatsAppTransport) SendText(ctx context.Context, chatRoute string, text string) error {
	to, err := w.ValidateAndCanonicalizeRecipient(chatRoute)
	if err != nil {
		return err
	}
	if err := w.client.SendText(ctx, to, text); err != nil {
		slog.Error("WhatsAppTransport.SendText: send failed", "to", to, "error", err)
		return err
	}
	return nil
}
