package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/conciergelabs/concierge/internal/models"
)

type fakeRouter struct {
	mu     sync.Mutex
	events []models.InboundEvent
	err    error
}

func (f *fakeRouter) Route(ctx context.Context, evt models.InboundEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return f.err
}

func (f *fakeRouter) routed() []models.InboundEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.InboundEvent(nil), f.events...)
}

type fakeEventRepo struct {
	mu        sync.Mutex
	recorded  map[string]bool
	processed []string
	recordErr error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{recorded: make(map[string]bool)}
}

func (f *fakeEventRepo) RecordEvent(eventID, eventType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return false, f.recordErr
	}
	if f.recorded[eventID] {
		return false, nil
	}
	f.recorded[eventID] = true
	return true, nil
}

func (f *fakeEventRepo) MarkProcessed(eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, eventID)
	return nil
}

func postWebhook(t *testing.T, s *Server, body []byte, secret string) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if secret != "" {
		req.Header.Set(SharedSecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var resp models.APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, resp
}

func messageBody(t *testing.T, text string) []byte {
	t.Helper()
	payload := models.WebhookPayload{
		Type: models.EventTypeNewMessage,
		Data: models.ChatMessage{
			GUID:   "msg-guid",
			Text:   text,
			Handle: &models.Handle{Address: "+15551234567"},
			Chats:  []models.Chat{{GUID: "iMessage;-;+15551234567"}},
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func TestHealthz(t *testing.T) {
	s := NewServer(newFakeEventRepo(), &fakeRouter{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestWebhookAcceptsAndProcessesEvent(t *testing.T) {
	events := newFakeEventRepo()
	router := &fakeRouter{}
	s := NewServer(events, router)

	rec, resp := postWebhook(t, s, messageBody(t, "hello"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if resp.Status != string(models.APIStatusOK) || resp.EventID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	s.wg.Wait()
	routed := router.routed()
	if len(routed) != 1 {
		t.Fatalf("expected 1 routed event, got %d", len(routed))
	}
	evt := routed[0]
	if evt.EventID != resp.EventID {
		t.Errorf("routed event id %q does not match response %q", evt.EventID, resp.EventID)
	}
	if evt.Text != "hello" || evt.SenderAddress != "+15551234567" {
		t.Errorf("unexpected event: %+v", evt)
	}
	if len(events.processed) != 1 || events.processed[0] != resp.EventID {
		t.Errorf("expected event marked processed, got %v", events.processed)
	}
}

func TestWebhookDuplicateDeliveryNotReprocessed(t *testing.T) {
	events := newFakeEventRepo()
	router := &fakeRouter{}
	s := NewServer(events, router)

	body := messageBody(t, "once")
	_, first := postWebhook(t, s, body, "")
	s.wg.Wait()

	rec, second := postWebhook(t, s, body, "")
	s.wg.Wait()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rec.Code)
	}
	if second.Status != string(models.APIStatusDuplicate) {
		t.Errorf("expected duplicate status, got %q", second.Status)
	}
	if second.EventID != first.EventID {
		t.Errorf("replay event id %q differs from original %q", second.EventID, first.EventID)
	}
	if got := len(router.routed()); got != 1 {
		t.Errorf("expected exactly 1 routed event, got %d", got)
	}
}

func TestWebhookSharedSecretRequired(t *testing.T) {
	events := newFakeEventRepo()
	router := &fakeRouter{}
	s := NewServer(events, router, WithSharedSecret("hunter2"))

	rec, resp := postWebhook(t, s, messageBody(t, "hi"), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", rec.Code)
	}
	if resp.Status != string(models.APIStatusError) {
		t.Errorf("expected error status, got %q", resp.Status)
	}
	if len(events.recorded) != 0 {
		t.Errorf("unauthorized delivery must not be recorded")
	}

	rec, _ = postWebhook(t, s, messageBody(t, "hi"), "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong secret, got %d", rec.Code)
	}

	rec, _ = postWebhook(t, s, messageBody(t, "hi"), "hunter2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct secret, got %d", rec.Code)
	}
	s.wg.Wait()
}

func TestWebhookRejectsEmptyAndMalformedBodies(t *testing.T) {
	events := newFakeEventRepo()
	router := &fakeRouter{}
	s := NewServer(events, router)

	rec, _ := postWebhook(t, s, nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}

	rec, _ = postWebhook(t, s, []byte("{not json"), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
	if len(events.recorded) != 0 {
		t.Errorf("malformed deliveries must not be recorded")
	}
	if len(router.routed()) != 0 {
		t.Errorf("malformed deliveries must not be routed")
	}
}

func TestWebhookRecordErrorReturns500(t *testing.T) {
	events := newFakeEventRepo()
	events.recordErr = errors.New("ledger down")
	s := NewServer(events, &fakeRouter{})

	rec, _ := postWebhook(t, s, messageBody(t, "hi"), "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestWebhookRouterFailureStillAcknowledged(t *testing.T) {
	events := newFakeEventRepo()
	router := &fakeRouter{err: errors.New("transport down")}
	s := NewServer(events, router)

	rec, _ := postWebhook(t, s, messageBody(t, "hi"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 even when routing fails, got %d", rec.Code)
	}
	s.wg.Wait()
	if len(events.processed) != 0 {
		t.Errorf("failed event must not be marked processed")
	}
}
