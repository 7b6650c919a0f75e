package actions

import (
	"testing"
	"time"
)

var resolveNow = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

func TestResolveEventTimeTomorrowAfternoon(t *testing.T) {
	start, dur := ResolveEventTime("tomorrow at 3pm", "", resolveNow)
	want := time.Date(2025, time.March, 11, 15, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if dur != DefaultEventDuration {
		t.Errorf("duration = %v, want %v", dur, DefaultEventDuration)
	}
}

func TestResolveEventTimeToday24Hour(t *testing.T) {
	start, _ := ResolveEventTime("today 14:30", "", resolveNow)
	want := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
}

func TestResolveEventTimeBareClock(t *testing.T) {
	start, _ := ResolveEventTime("2pm", "", resolveNow)
	want := time.Date(2025, time.March, 10, 14, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
}

func TestResolveEventTimeDefaultClock(t *testing.T) {
	start, _ := ResolveEventTime("tomorrow", "", resolveNow)
	want := time.Date(2025, time.March, 11, 14, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("start = %v, want 2:00 PM default %v", start, want)
	}
}

func TestResolveEventTimeNoonEdgeCases(t *testing.T) {
	start, _ := ResolveEventTime("today at 12pm", "", resolveNow)
	if start.Hour() != 12 {
		t.Errorf("12pm resolved to hour %d, want 12", start.Hour())
	}
	start, _ = ResolveEventTime("today at 12am", "", resolveNow)
	if start.Hour() != 0 {
		t.Errorf("12am resolved to hour %d, want 0", start.Hour())
	}
}

func TestResolveEventTimeFallback(t *testing.T) {
	start, dur := ResolveEventTime("whenever works", "", resolveNow)
	want := resolveNow.Add(time.Hour)
	if !start.Equal(want) {
		t.Errorf("start = %v, want now+1h %v", start, want)
	}
	if dur != time.Hour {
		t.Errorf("duration = %v, want 1h", dur)
	}
}

func TestResolveEventTimeDurations(t *testing.T) {
	cases := []struct {
		expr string
		want time.Duration
	}{
		{"30 minutes", 30 * time.Minute},
		{"1 minute", time.Minute},
		{"2 hours", 2 * time.Hour},
		{"1 hour", time.Hour},
		{"", DefaultEventDuration},
		{"a while", DefaultEventDuration},
	}
	for _, c := range cases {
		if _, dur := ResolveEventTime("today", c.expr, resolveNow); dur != c.want {
			t.Errorf("ResolveEventTime duration %q = %v, want %v", c.expr, dur, c.want)
		}
	}
}
