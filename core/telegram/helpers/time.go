package helpers

import (
	"strings"
	"time"
)

var flexibleDateLayouts = []string{
	"2006-01-02 15:04",
	"2006-1-2 15:04",
	"2006-01-02",
	"2006-1-2",
	"02.01.2006 15:04",
	"2.1.2006 15:04",
	"02.01.2006",
	"2.1.2006",
}

// ParseFlexibleDate tries several common date formats used in Telegram flows.
// It returns the parsed time in the local timezone and true on success.
func ParseFlexibleDate(input string) (time.Time, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range flexibleDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseFlexibleDateAt extends ParseFlexibleDate with a bare "15:04", resolved to the
// next occurrence of that wall-clock time after now.
func ParseFlexibleDateAt(input string, now time.Time) (time.Time, bool) {
	if t, ok := ParseFlexibleDate(input); ok {
		return t, true
	}
	clock, err := time.ParseInLocation("15:04", strings.TrimSpace(input), now.Location())
	if err != nil {
		return time.Time{}, false
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, true
}
