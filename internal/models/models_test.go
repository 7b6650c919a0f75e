package models

import (
	"testing"
	"time"
)

func TestNewInboundEventUsesBridgeRoute(t *testing.T) {
	p := WebhookPayload{
		Type: EventTypeNewMessage,
		Data: ChatMessage{
			GUID:   "msg-1",
			Text:   "hello",
			Handle: &Handle{Address: "+15551234567"},
			Chats:  []Chat{{GUID: "iMessage;-;+15551234567"}},
		},
	}
	ev := NewInboundEvent("abc", p, time.Unix(100, 0))
	if ev.ChatRoute != "iMessage;-;+15551234567" {
		t.Errorf("expected bridge route preserved, got %q", ev.ChatRoute)
	}
	if ev.SenderAddress != "+15551234567" {
		t.Errorf("unexpected sender: %q", ev.SenderAddress)
	}
}

func TestNewInboundEventConstructsRouteFromPhone(t *testing.T) {
	p := WebhookPayload{
		Type: EventTypeNewMessage,
		Data: ChatMessage{
			Text:   "hi",
			Handle: &Handle{Address: "+15550001111"},
			Chats:  []Chat{{GUID: "some-opaque-guid"}},
		},
	}
	ev := NewInboundEvent("abc", p, time.Now())
	if ev.ChatRoute != "iMessage;-;+15550001111" {
		t.Errorf("expected constructed route, got %q", ev.ChatRoute)
	}
}

func TestNewInboundEventNoHandle(t *testing.T) {
	p := WebhookPayload{Type: "read-receipt", Data: ChatMessage{ChatGUID: "chat-9"}}
	ev := NewInboundEvent("abc", p, time.Now())
	if ev.SenderAddress != "" {
		t.Errorf("expected empty sender, got %q", ev.SenderAddress)
	}
	if ev.ChatRoute != "chat-9" {
		t.Errorf("expected chatGuid fallback, got %q", ev.ChatRoute)
	}
}

func TestIsValidOnboardingState(t *testing.T) {
	valid := []OnboardingState{StateNotStarted, StateAwaitingEmail, StateAwaitingEmailOTP, StateAwaitingIntegrations, StateCompleted}
	for _, s := range valid {
		if !IsValidOnboardingState(s) {
			t.Errorf("state %q should be valid", s)
		}
	}
	if IsValidOnboardingState("pending") {
		t.Error("unknown state should be invalid")
	}
}
