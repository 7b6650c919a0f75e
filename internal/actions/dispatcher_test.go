package actions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeProvider records calls and returns a canned message or error.
type fakeProvider struct {
	msg   string
	err   error
	calls []string
	start time.Time
	end   time.Time
}

func (f *fakeProvider) CreateDraft(_ context.Context, _ string, to []string, subject, body string) (string, error) {
	f.calls = append(f.calls, "draft")
	return f.msg, f.err
}

func (f *fakeProvider) SendEmail(_ context.Context, _ string, to []string, subject, body string) (string, error) {
	f.calls = append(f.calls, "send")
	return f.msg, f.err
}

func (f *fakeProvider) CreateCalendarEvent(_ context.Context, _, title string, start, end time.Time) (string, error) {
	f.calls = append(f.calls, "event")
	f.start, f.end = start, end
	return f.msg, f.err
}

func newTestDispatcher(p Provider, now time.Time) *Dispatcher {
	d := NewDispatcher(p)
	d.now = func() time.Time { return now }
	return d
}

func call(function string, params string) *FunctionCall {
	return &FunctionCall{Function: function, Params: json.RawMessage(params)}
}

func TestDispatchDraftEmail(t *testing.T) {
	p := &fakeProvider{}
	d := newTestDispatcher(p, resolveNow)
	out := d.Dispatch(context.Background(), "acct-1",
		call(FunctionDraftEmail, `{"to":["a@b.com"],"subject":"S","body":"B"}`))
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if !strings.Contains(out.Summary, "a@b.com") || !strings.Contains(out.Summary, "S") {
		t.Errorf("summary missing recipients/subject: %q", out.Summary)
	}
	if len(p.calls) != 1 || p.calls[0] != "draft" {
		t.Errorf("provider calls = %v", p.calls)
	}
}

func TestDispatchRejectsUnknownParamField(t *testing.T) {
	p := &fakeProvider{}
	d := newTestDispatcher(p, resolveNow)
	out := d.Dispatch(context.Background(), "acct-1",
		call(FunctionSendEmail, `{"to":["a@b.com"],"subject":"S","body":"B","cc_all":true}`))
	if out.Success {
		t.Fatal("expected unknown param field to fail the call")
	}
	if len(p.calls) != 0 {
		t.Errorf("provider should not have been called, got %v", p.calls)
	}
}

func TestDispatchValidatesParams(t *testing.T) {
	p := &fakeProvider{}
	d := newTestDispatcher(p, resolveNow)
	out := d.Dispatch(context.Background(), "acct-1",
		call(FunctionSendEmail, `{"to":["not-an-email"],"subject":"S","body":"B"}`))
	if out.Success {
		t.Fatal("expected invalid recipient to fail validation")
	}
	out = d.Dispatch(context.Background(), "acct-1",
		call(FunctionDraftEmail, `{"to":[],"subject":"S","body":"B"}`))
	if out.Success {
		t.Fatal("expected empty recipient list to fail validation")
	}
}

func TestDispatchCalendarEventResolvesTimes(t *testing.T) {
	p := &fakeProvider{}
	d := newTestDispatcher(p, resolveNow)
	out := d.Dispatch(context.Background(), "acct-1",
		call(FunctionCreateCalendarEvent, `{"title":"Team Meeting","start_time":"tomorrow at 2pm","duration":"30 minutes"}`))
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	wantStart := time.Date(2025, time.March, 11, 14, 0, 0, 0, time.UTC)
	if !p.start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", p.start, wantStart)
	}
	if got := p.end.Sub(p.start); got != 30*time.Minute {
		t.Errorf("event length = %v, want 30m", got)
	}
	if !strings.Contains(out.Summary, "Team Meeting") {
		t.Errorf("summary missing title: %q", out.Summary)
	}
}

func TestDispatchSurfacesProviderError(t *testing.T) {
	p := &fakeProvider{err: errors.New("no account linked")}
	d := newTestDispatcher(p, resolveNow)
	out := d.Dispatch(context.Background(), "acct-1",
		call(FunctionSendEmail, `{"to":["a@b.com"],"subject":"S","body":"B"}`))
	if out.Success {
		t.Fatal("expected provider error to fail the call")
	}
	if !strings.Contains(out.Summary, "no account linked") {
		t.Errorf("summary should embed provider error text: %q", out.Summary)
	}
}

func TestDispatchPrefersProviderMessage(t *testing.T) {
	p := &fakeProvider{msg: "Email sent to a@b.com with subject 'S'"}
	d := newTestDispatcher(p, resolveNow)
	out := d.Dispatch(context.Background(), "acct-1",
		call(FunctionSendEmail, `{"to":["a@b.com"],"subject":"S","body":"B"}`))
	if out.Summary != p.msg {
		t.Errorf("summary = %q, want provider message", out.Summary)
	}
}
