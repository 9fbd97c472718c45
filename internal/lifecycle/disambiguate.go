package lifecycle

import (
	"time"

	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/rrule"
	"github.com/hray3182/DoseLine/internal/timeutil"
)

// Selection is the outcome of narrowing a therapy's reminder records to the
// one a confirmation refers to. Matched is false when nothing matched by
// weekday and hour and Record is only the first candidate.
type Selection struct {
	Record  models.ReminderRecord
	Matched bool
}

// Disambiguate picks the record whose alert recurs today at slotHour.
// live maps reminder tokens to their parsed recurrence; candidates without
// a live alert recurrence never match.
func Disambiguate(candidates []models.ReminderRecord, live map[string]rrule.Recurrence, now time.Time, slotHour int, loc *time.Location) Selection {
	switch len(candidates) {
	case 0:
		return Selection{}
	case 1:
		return Selection{Record: candidates[0], Matched: true}
	}

	today := timeutil.WeekdayCode(now.In(loc))
	var onToday []models.ReminderRecord
	for _, c := range candidates {
		if rec, ok := live[c.AlertToken]; ok && rec.OnWeekday(today) {
			onToday = append(onToday, c)
		}
	}
	if len(onToday) == 1 {
		return Selection{Record: onToday[0], Matched: true}
	}

	for _, c := range onToday {
		if live[c.AlertToken].Hour == slotHour {
			return Selection{Record: c, Matched: true}
		}
	}
	return Selection{Record: candidates[0], Matched: false}
}
