// Package messaging routes inbound events to the right handler and delivers
// replies over a pluggable transport.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrServiceStopped is returned by a transport that has been shut down.
var ErrServiceStopped = errors.New("messaging service stopped")

// Transport delivers reply text to a chat route. Implementations validate
// their own recipient formats.
type Transport interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier for this transport.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends one reply to a chat route.
	SendText(ctx context.Context, chatRoute string, text string) error
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// routePhone extracts the addressable phone from a chat route. Bridge routes
// look like "iMessage;-;+15551234567"; anything without separators is taken
// as a bare address.
func routePhone(chatRoute string) string {
	if i := strings.LastIndex(chatRoute, ";"); i >= 0 {
		return chatRoute[i+1:]
	}
	return chatRoute
}

// canonicalPhone strips formatting down to digits, requiring at least 6.
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	digits := nonDigits.ReplaceAllString(recipient, "")
	if digits == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(digits) < 6 {
		return "", errors.New("invalid phone number: too short")
	}
	return digits, nil
}
