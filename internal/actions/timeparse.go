package actions

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when an event expression omits a piece of the schedule.
const (
	DefaultEventHour     = 14 // 2:00 PM local
	DefaultEventDuration = 60 * time.Minute
	fallbackEventLead    = time.Hour
)

var (
	clockAmPmPattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clock24hPattern  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	durationPattern  = regexp.MustCompile(`(?i)\b(\d+)\s*(minute|hour)s?\b`)
)

// ResolveEventTime turns natural-language start and duration expressions into
// an absolute start instant and a duration, relative to now. Recognized
// pieces: "today"/"tomorrow" date anchors, a trailing H[:MM](am|pm) or
// 24-hour H:MM clock token, and "<n> minute(s)"/"<n> hour(s)" durations.
// An expression with neither anchor nor clock token falls back to one hour
// starting one hour from now; scheduling never hard-fails on phrasing.
func ResolveEventTime(startExpr, durationExpr string, now time.Time) (time.Time, time.Duration) {
	dur := resolveDuration(durationExpr)

	expr := strings.ToLower(strings.TrimSpace(startExpr))
	anchor, hasAnchor := resolveAnchor(expr, now)
	hour, minute, hasClock := resolveClock(expr)

	if !hasAnchor && !hasClock {
		return now.Add(fallbackEventLead), DefaultEventDuration
	}
	if !hasClock {
		hour, minute = DefaultEventHour, 0
	}
	start := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), hour, minute, 0, 0, now.Location())
	return start, dur
}

func resolveAnchor(expr string, now time.Time) (time.Time, bool) {
	switch {
	case strings.Contains(expr, "tomorrow"):
		return now.AddDate(0, 0, 1), true
	case strings.Contains(expr, "today"):
		return now, true
	default:
		return now, false
	}
}

// resolveClock finds the last clock token in the expression, preferring an
// am/pm form over a bare 24-hour one.
func resolveClock(expr string) (hour, minute int, ok bool) {
	if ms := clockAmPmPattern.FindAllStringSubmatch(expr, -1); len(ms) > 0 {
		m := ms[len(ms)-1]
		h, _ := strconv.Atoi(m[1])
		min := 0
		if m[2] != "" {
			min, _ = strconv.Atoi(m[2])
		}
		if h >= 1 && h <= 12 && min >= 0 && min <= 59 {
			if strings.EqualFold(m[3], "pm") && h != 12 {
				h += 12
			}
			if strings.EqualFold(m[3], "am") && h == 12 {
				h = 0
			}
			return h, min, true
		}
	}
	if ms := clock24hPattern.FindAllStringSubmatch(expr, -1); len(ms) > 0 {
		m := ms[len(ms)-1]
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if h >= 0 && h <= 23 && min >= 0 && min <= 59 {
			return h, min, true
		}
	}
	return 0, 0, false
}

func resolveDuration(expr string) time.Duration {
	m := durationPattern.FindStringSubmatch(strings.ToLower(expr))
	if m == nil {
		return DefaultEventDuration
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultEventDuration
	}
	if strings.HasPrefix(m[2], "hour") {
		return time.Duration(n) * time.Hour
	}
	return time.Duration(n) * time.Minute
}
