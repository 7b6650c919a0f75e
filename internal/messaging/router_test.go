package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/conciergelabs/concierge/internal/directory"
	"github.com/conciergelabs/concierge/internal/models"
	"github.com/conciergelabs/concierge/internal/store"
)

type sentMessage struct {
	route string
	text  string
}

type fakeTransport struct {
	sent    []sentMessage
	failAt  int // 1-based index of the send that fails; 0 disables
	sendErr error
}

func (f *fakeTransport) ValidateAndCanonicalizeRecipient(r string) (string, error) {
	return r, nil
}

func (f *fakeTransport) SendText(_ context.Context, route, text string) error {
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{route: route, text: text})
	return nil
}

type fakeOnboarder struct {
	replies []string
	err     error
	calls   int
}

func (f *fakeOnboarder) Handle(_ context.Context, _ *directory.UserIdentity, _ string) ([]string, error) {
	f.calls++
	return f.replies, f.err
}

type fakeConversationalist struct {
	replies []string
	err     error
	calls   int
}

func (f *fakeConversationalist) Converse(_ context.Context, _ *directory.UserIdentity, _ string) ([]string, error) {
	f.calls++
	return f.replies, f.err
}

func newEvent(text string) models.InboundEvent {
	return models.InboundEvent{
		EventID:       "evt-1",
		EventType:     models.EventTypeNewMessage,
		SenderAddress: "+15551234567",
		ChatRoute:     "iMessage;-;+15551234567",
		Text:          text,
		ReceivedAt:    time.Now(),
	}
}

func TestRouteSkipsSelfAndForeignEvents(t *testing.T) {
	dir := store.NewInMemoryStore()
	tr := &fakeTransport{}
	ob := &fakeOnboarder{}
	conv := &fakeConversationalist{}
	r := NewRouter(dir, tr, ob, conv)

	evt := newEvent("hi")
	evt.IsFromSelf = true
	if err := r.Route(context.Background(), evt); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	evt = newEvent("hi")
	evt.EventType = "updated-message"
	if err := r.Route(context.Background(), evt); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	evt = newEvent("hi")
	evt.SenderAddress = ""
	if err := r.Route(context.Background(), evt); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if ob.calls+conv.calls != 0 || len(tr.sent) != 0 {
		t.Errorf("nothing should have been handled or sent: ob=%d conv=%d sent=%d", ob.calls, conv.calls, len(tr.sent))
	}
}

func TestRouteFirstContactCreatesIdentity(t *testing.T) {
	dir := store.NewInMemoryStore()
	tr := &fakeTransport{}
	ob := &fakeOnboarder{replies: []string{"welcome"}}
	r := NewRouter(dir, tr, ob, &fakeConversationalist{})

	if err := r.Route(context.Background(), newEvent("hello")); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	u, err := dir.FindByPhone(context.Background(), "+15551234567")
	if err != nil || u == nil {
		t.Fatalf("identity not created: %v, %v", u, err)
	}
	if ob.calls != 1 {
		t.Errorf("onboarder calls = %d", ob.calls)
	}
	if len(tr.sent) != 1 || tr.sent[0].text != "welcome" {
		t.Errorf("sent = %v", tr.sent)
	}
}

func TestRouteFirstContactStoresEmail(t *testing.T) {
	dir := store.NewInMemoryStore()
	r := NewRouter(dir, &fakeTransport{}, &fakeOnboarder{replies: []string{"ok"}}, &fakeConversationalist{})

	if err := r.Route(context.Background(), newEvent("hi, my email is bob@example.com")); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	u, _ := dir.FindByPhone(context.Background(), "+15551234567")
	if u == nil || u.Email != "bob@example.com" {
		t.Errorf("identity = %+v, want email stored on create", u)
	}
}

func TestRouteVerifiedUserGoesToConversation(t *testing.T) {
	dir := store.NewInMemoryStore()
	u, _ := dir.CreateWithEmail(context.Background(), "+15551234567", "bob@example.com", "")
	if _, err := dir.ConditionalUpdate(context.Background(), u.ID,
		nil,
		directory.Fields{
			directory.FieldEmailVerified:       true,
			directory.FieldOnboardingCompleted: true,
			directory.FieldOnboardingState:     string(models.StateCompleted),
		}); err != nil {
		t.Fatalf("setup update failed: %v", err)
	}

	tr := &fakeTransport{}
	ob := &fakeOnboarder{}
	conv := &fakeConversationalist{replies: []string{"first", "second"}}
	r := NewRouter(dir, tr, ob, conv)

	if err := r.Route(context.Background(), newEvent("what's on my calendar")); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if conv.calls != 1 || ob.calls != 0 {
		t.Errorf("conv=%d ob=%d", conv.calls, ob.calls)
	}
	if len(tr.sent) != 2 || tr.sent[0].text != "first" || tr.sent[1].text != "second" {
		t.Errorf("sent = %v, want both replies in order", tr.sent)
	}
}

func TestRouteHandlerErrorSendsApology(t *testing.T) {
	dir := store.NewInMemoryStore()
	tr := &fakeTransport{}
	ob := &fakeOnboarder{err: errors.New("state conflict")}
	r := NewRouter(dir, tr, ob, &fakeConversationalist{})

	if err := r.Route(context.Background(), newEvent("hi")); err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if len(tr.sent) != 1 || !strings.Contains(tr.sent[0].text, "Sorry") {
		t.Errorf("sent = %v, want an apology", tr.sent)
	}
}

func TestRouteTransportFailureStopsMidway(t *testing.T) {
	dir := store.NewInMemoryStore()
	tr := &fakeTransport{failAt: 2, sendErr: errors.New("bridge down")}
	ob := &fakeOnboarder{replies: []string{"one", "two", "three"}}
	r := NewRouter(dir, tr, ob, &fakeConversationalist{})

	err := r.Route(context.Background(), newEvent("hi"))
	if err == nil {
		t.Fatal("expected transport failure to fail the attempt")
	}
	// The first reply went out and stays out; nothing after the failure.
	if len(tr.sent) != 1 || tr.sent[0].text != "one" {
		t.Errorf("sent = %v", tr.sent)
	}
}
