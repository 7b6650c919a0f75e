// Package models defines the core data structures for Concierge.
//
// It includes the inbound webhook payload shapes, the normalized event type
// shared across modules, and the sentinel errors of the service-wide failure
// taxonomy.
package models

import (
	"errors"
	"time"
)

// EventTypeNewMessage is the only webhook event type that reaches the router.
// Other event types (typing indicators, read receipts) are recorded for
// idempotency and acknowledged without processing.
const EventTypeNewMessage = "new-message"

// Validation constants for input validation
const (
	// MaxMessageTextLength defines the maximum accepted length of an inbound message body
	MaxMessageTextLength = 8192
	// MaxReplyTextLength defines the maximum length of a single outbound reply
	MaxReplyTextLength = 4096
)

// Error variables for the service-wide failure taxonomy.
var (
	// ErrInvalidPayload indicates a malformed or empty webhook body, rejected at the boundary.
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrUnauthorized indicates a shared-secret mismatch, rejected before body parsing.
	ErrUnauthorized = errors.New("invalid or missing shared secret")
	// ErrStateConflict indicates an onboarding conditional update was contradicted
	// by concurrent state that does not match the desired post-condition.
	ErrStateConflict = errors.New("onboarding state conflict")
	// ErrExternalUnavailable indicates a downstream timeout or 5xx.
	ErrExternalUnavailable = errors.New("external service unavailable")
	// ErrUserNotFound indicates a phone lookup exhausted its retries.
	ErrUserNotFound = errors.New("user not found")
)

// Handle identifies the remote party of a chat message.
type Handle struct {
	Address string `json:"address"`
	Country string `json:"country,omitempty"`
}

// Chat carries the routing information needed to reply into a conversation.
type Chat struct {
	GUID           string `json:"guid"`
	ChatIdentifier string `json:"chatIdentifier,omitempty"`
	Style          int    `json:"style,omitempty"`
}

// ChatMessage is the nested message object of a bridge webhook delivery.
// Most fields are optional: read receipts and typing events omit the GUID
// and text entirely.
type ChatMessage struct {
	GUID       string  `json:"guid,omitempty"`
	Text       string  `json:"text,omitempty"`
	Handle     *Handle `json:"handle,omitempty"`
	Chats      []Chat  `json:"chats,omitempty"`
	ChatGUID   string  `json:"chatGuid,omitempty"`
	IsFromMe   bool    `json:"isFromMe,omitempty"`
	DateSent   int64   `json:"dateSent,omitempty"`
	IsAutoSend bool    `json:"isAutoReply,omitempty"`
}

// WebhookPayload is the complete JSON body of a bridge webhook delivery.
type WebhookPayload struct {
	Type string      `json:"type"`
	Data ChatMessage `json:"data"`
}

// InboundEvent is one webhook delivery, normalized for routing. It is
// immutable once constructed.
type InboundEvent struct {
	EventID       string    `json:"event_id"`       // content hash of the raw payload bytes
	EventType     string    `json:"event_type"`     // e.g. "new-message"
	SenderAddress string    `json:"sender_address"` // phone/handle string, may be empty
	ChatRoute     string    `json:"chat_route"`     // opaque routing token for replies
	Text          string    `json:"text"`
	IsFromSelf    bool      `json:"is_from_self"`
	ReceivedAt    time.Time `json:"received_at"`
}

// NewInboundEvent normalizes a parsed webhook payload into an InboundEvent.
// The sender address comes from the message handle; the chat route prefers
// the first chat's identifier and falls back to a route constructed from the
// sender's phone number, mirroring the bridge server's chat GUID format.
func NewInboundEvent(eventID string, p WebhookPayload, receivedAt time.Time) InboundEvent {
	ev := InboundEvent{
		EventID:    eventID,
		EventType:  p.Type,
		Text:       p.Data.Text,
		IsFromSelf: p.Data.IsFromMe,
		ReceivedAt: receivedAt,
	}
	if p.Data.Handle != nil {
		ev.SenderAddress = p.Data.Handle.Address
	}
	ev.ChatRoute = extractChatRoute(p.Data, ev.SenderAddress)
	return ev
}

// extractChatRoute picks the reply route for a message. Bridge chat GUIDs of
// the form "iMessage;-;+15551234567" are used as-is; anything else is rebuilt
// from the sender's phone so replies land in the one-on-one chat.
func extractChatRoute(m ChatMessage, sender string) string {
	var route string
	if len(m.Chats) > 0 {
		route = m.Chats[0].ChatIdentifier
		if route == "" {
			route = m.Chats[0].GUID
		}
	}
	if route == "" {
		route = m.ChatGUID
	}
	if isBridgeRoute(route) {
		return route
	}
	if sender != "" {
		return "iMessage;-;" + sender
	}
	return route
}

func isBridgeRoute(route string) bool {
	for _, sep := range []string{";-;", ";+;"} {
		if containsSep(route, sep) {
			return true
		}
	}
	return false
}

func containsSep(s, sep string) bool {
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			return true
		}
	}
	return false
}

// Reply is one outbound message queued for the transport.
type Reply struct {
	ChatRoute string `json:"chat_route"`
	Text      string `json:"text"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusDuplicate indicates a webhook delivery was already processed.
	APIStatusDuplicate APIStatus = "duplicate"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	EventID string      `json:"event_id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Accepted creates a successful API response for a processed webhook event.
func Accepted(eventID, message string) APIResponse {
	return APIResponse{Status: string(APIStatusOK), EventID: eventID, Message: message}
}

// Duplicate creates an API response acknowledging a replayed webhook event.
func Duplicate(eventID string) APIResponse {
	return APIResponse{Status: string(APIStatusDuplicate), EventID: eventID, Message: "event already processed"}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
