package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewBridgeClientRequiresConfig(t *testing.T) {
	if _, err := NewBridgeClient(WithBridgePassword("pw")); err == nil {
		t.Error("expected error without server URL")
	}
	if _, err := NewBridgeClient(WithBridgeServerURL("http://localhost")); err == nil {
		t.Error("expected error without password")
	}
}

func TestBridgeSendText(t *testing.T) {
	var gotPath, gotPassword string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPassword = r.URL.Query().Get("password")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBridgeClient(WithBridgeServerURL(srv.URL), WithBridgePassword("secret"))
	if err != nil {
		t.Fatalf("NewBridgeClient failed: %v", err)
	}
	if err := b.SendText(context.Background(), "iMessage;-;+15551234567", "hello"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	if gotPath != "/api/v1/message/text" {
		t.Errorf("path = %q", gotPath)
	}
	if gotPassword != "secret" {
		t.Errorf("password = %q", gotPassword)
	}
	if gotPayload["chatGuid"] != "iMessage;-;+15551234567" {
		t.Errorf("chatGuid = %v", gotPayload["chatGuid"])
	}
	if gotPayload["message"] != "hello" {
		t.Errorf("message = %v", gotPayload["message"])
	}
	if gotPayload["method"] != bridgeSendMethod {
		t.Errorf("method = %v", gotPayload["method"])
	}
	if tg, _ := gotPayload["tempGuid"].(string); len(tg) != 36 {
		t.Errorf("tempGuid = %q, want a UUID", tg)
	}
}

func TestBridgeSendTextUniqueTempGuids(t *testing.T) {
	var guids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		guids = append(guids, payload["tempGuid"].(string))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, _ := NewBridgeClient(WithBridgeServerURL(srv.URL), WithBridgePassword("pw"))
	for i := 0; i < 3; i++ {
		if err := b.SendText(context.Background(), "+15551234567", "hi"); err != nil {
			t.Fatalf("SendText failed: %v", err)
		}
	}
	seen := map[string]bool{}
	for _, g := range guids {
		if seen[g] {
			t.Fatalf("tempGuid %q reused", g)
		}
		seen[g] = true
	}
}

func TestBridgeSendTextRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chat not found", http.StatusNotFound)
	}))
	defer srv.Close()

	b, _ := NewBridgeClient(WithBridgeServerURL(srv.URL), WithBridgePassword("pw"))
	err := b.SendText(context.Background(), "iMessage;-;+15551234567", "hello")
	if err == nil {
		t.Fatal("expected error for bridge rejection")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error should embed bridge body: %v", err)
	}
}

func TestBridgeValidateRecipient(t *testing.T) {
	b, _ := NewBridgeClient(WithBridgeServerURL("http://localhost"), WithBridgePassword("pw"))

	got, err := b.ValidateAndCanonicalizeRecipient("iMessage;-;+15551234567")
	if err != nil || got != "iMessage;-;+15551234567" {
		t.Errorf("route passthrough = %q, %v", got, err)
	}
	got, err = b.ValidateAndCanonicalizeRecipient("+15551234567")
	if err != nil || got != "iMessage;-;+15551234567" {
		t.Errorf("bare phone = %q, %v", got, err)
	}
	if _, err := b.ValidateAndCanonicalizeRecipient(""); err == nil {
		t.Error("expected error for empty recipient")
	}
	if _, err := b.ValidateAndCanonicalizeRecipient("123"); err == nil {
		t.Error("expected error for too-short phone")
	}
}
