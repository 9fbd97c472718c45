package lifecycle

import (
	"fmt"
	"sort"
	"time"

	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/rrule"
	"github.com/hray3182/DoseLine/internal/timeutil"
)

// Slot is one daily dose time of a therapy.
type Slot struct {
	Recurrence rrule.Recurrence
	First      time.Time
	Last       time.Time
}

// Slots groups a therapy's intakes by local time-of-day. Each group recurs
// on the weekdays its intakes fall on, starting at the first occurrence not
// before now and ending with the therapy. Groups with no occurrence left
// before the end are dropped. The second return value is the latest intake
// of the whole therapy.
func Slots(t models.Therapy, now time.Time, loc *time.Location) ([]Slot, time.Time, error) {
	type group struct {
		days  []string
		seen  map[string]bool
		first time.Time
		last  time.Time
	}
	groups := make(map[int]*group)
	var last time.Time

	for _, in := range t.Intakes {
		at, err := in.Programmed(loc)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("intake %s: %w", in.ID, err)
		}
		key := at.Hour()*60 + at.Minute()
		g, ok := groups[key]
		if !ok {
			g = &group{seen: make(map[string]bool), first: at, last: at}
			groups[key] = g
		}
		if code := timeutil.WeekdayCode(at); !g.seen[code] {
			g.seen[code] = true
			g.days = append(g.days, code)
		}
		if at.Before(g.first) {
			g.first = at
		}
		if at.After(g.last) {
			g.last = at
		}
		if at.After(last) {
			last = at
		}
	}

	end, endErr := t.End(loc)

	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	slots := make([]Slot, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		slotEnd := g.last
		if endErr == nil && end.After(slotEnd) {
			slotEnd = end
		}
		start := firstFrom(g.first, now.In(loc))
		rec := rrule.NewRecurrence(g.days, start, slotEnd)
		next, err := rec.Next(start.Add(-time.Second), loc)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("slot %02d:%02d: %w", rec.Hour, rec.Minute, err)
		}
		if next.IsZero() {
			continue
		}
		slots = append(slots, Slot{
			Recurrence: rec,
			First:      g.first,
			Last:       g.last,
		})
	}
	return slots, last, nil
}

// Schedulable reports whether the therapy still has a dose time that a
// registration at now would cover.
func Schedulable(t models.Therapy, now time.Time, loc *time.Location) bool {
	slots, _, err := Slots(t, now, loc)
	return err == nil && len(slots) > 0
}

// firstFrom moves a past slot start to the next wall-clock occurrence of
// the same time-of-day after now.
func firstFrom(first, now time.Time) time.Time {
	if !first.Before(now) {
		return first
	}
	loc := now.Location()
	next := time.Date(now.Year(), now.Month(), now.Day(), first.Hour(), first.Minute(), 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// confirmationRecurrence shifts rec by offset, moving weekdays along when
// the shift crosses midnight.
func confirmationRecurrence(rec rrule.Recurrence, offset time.Duration) rrule.Recurrence {
	start := rec.Start.Add(offset)
	end := rec.End
	if !end.IsZero() {
		end = end.Add(offset)
	}
	days := rec.Weekdays
	if shift := dayShift(rec.Start, start); shift != 0 {
		days = shiftWeekdays(rec.Weekdays, shift)
	}
	return rrule.NewRecurrence(days, start, end)
}

func dayShift(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

var weekdayIndex = map[string]time.Weekday{
	"SU": time.Sunday, "MO": time.Monday, "TU": time.Tuesday, "WE": time.Wednesday,
	"TH": time.Thursday, "FR": time.Friday, "SA": time.Saturday,
}

func shiftWeekdays(days []string, shift int) []string {
	out := make([]string, 0, len(days))
	for _, d := range days {
		wd, ok := weekdayIndex[d]
		if !ok {
			continue
		}
		n := (int(wd) + shift) % 7
		if n < 0 {
			n += 7
		}
		out = append(out, timeutil.WeekdayCodeOf(time.Weekday(n)))
	}
	return out
}
