// Package timeutil converts between the backend wire format and local calendar time.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

const (
	// WireLayout is the UTC layout the therapy backend reads and writes.
	WireLayout = "2006-01-02T15:04:05.000Z"
	// ReminderLayout is the zone-less layout of reminder recurrence timestamps.
	// The zone travels separately as the body's timeZoneId.
	ReminderLayout = "2006-01-02T15:04:05.000"
)

var zonelessLayouts = []string{
	ReminderLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// ParseWire parses a backend timestamp and returns it in loc.
// Timestamps without an offset are taken as wall-clock time in loc.
func ParseWire(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatWire renders t in the backend wire format.
func FormatWire(t time.Time) string {
	return t.UTC().Format(WireLayout)
}

// FormatReminderLocal renders t as wall-clock time in loc without an offset.
func FormatReminderLocal(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(ReminderLayout)
}

// ParseReminderLocal is the inverse of FormatReminderLocal. Values that do
// carry an offset are accepted too.
func ParseReminderLocal(s string, loc *time.Location) (time.Time, error) {
	return ParseWire(s, loc)
}

// WeekdayCode returns the two-letter RFC 5545 code for the day of t.
func WeekdayCode(t time.Time) string {
	return weekdayCodes[t.Weekday()]
}

// WeekdayCodeOf returns the RFC 5545 code for a time.Weekday.
func WeekdayCodeOf(d time.Weekday) string {
	return weekdayCodes[d]
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// MinutesBetween returns whole minutes from `from` to `to`, truncated toward zero.
func MinutesBetween(from, to time.Time) int {
	return int(to.Sub(from) / time.Minute)
}

// Clock returns the current time. Components take one so tests can pin "now".
type Clock func() time.Time

// SystemClock returns time.Now.
func SystemClock() Clock {
	return time.Now
}

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
