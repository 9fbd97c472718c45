package rrule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Recurrence is the structured form of a reminder's recurrence: one
// time-of-day repeated on a set of weekdays between Start and End.
type Recurrence struct {
	Weekdays []string // RFC 5545 codes, MO..SU order
	Hour     int
	Minute   int
	Start    time.Time
	End      time.Time
}

var weekdayOrder = map[string]int{
	"MO": 0, "TU": 1, "WE": 2, "TH": 3, "FR": 4, "SA": 5, "SU": 6,
}

var dayCodes = [...]string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

var codeToWeekday = map[string]rrule.Weekday{
	"MO": rrule.MO,
	"TU": rrule.TU,
	"WE": rrule.WE,
	"TH": rrule.TH,
	"FR": rrule.FR,
	"SA": rrule.SA,
	"SU": rrule.SU,
}

// ParseRule parses a single RRULE string into rrule-go options.
func ParseRule(ruleStr string) (*rrule.ROption, error) {
	ruleStr = strings.TrimPrefix(strings.TrimSpace(ruleStr), "RRULE:")
	ruleStr = strings.TrimSuffix(ruleStr, ";")

	opt, err := rrule.StrToROption(ruleStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE %q: %w", ruleStr, err)
	}
	return opt, nil
}

// ParseRules folds a reminder's recurrence rules into one Recurrence.
// BYDAY is unioned across rules; BYHOUR and BYMINUTE come from the first
// rule that carries them. Start and End are left for the caller.
func ParseRules(rules []string) (Recurrence, error) {
	var rec Recurrence
	if len(rules) == 0 {
		return rec, fmt.Errorf("no recurrence rules")
	}

	seen := make(map[string]bool)
	hourSet, minuteSet := false, false
	for _, r := range rules {
		opt, err := ParseRule(r)
		if err != nil {
			return rec, err
		}
		for _, wd := range opt.Byweekday {
			code := dayCodes[wd.Day()]
			if !seen[code] {
				seen[code] = true
				rec.Weekdays = append(rec.Weekdays, code)
			}
		}
		if !hourSet && len(opt.Byhour) > 0 {
			rec.Hour = opt.Byhour[0]
			hourSet = true
		}
		if !minuteSet && len(opt.Byminute) > 0 {
			rec.Minute = opt.Byminute[0]
			minuteSet = true
		}
	}
	if !hourSet {
		return rec, fmt.Errorf("recurrence has no BYHOUR")
	}
	sortWeekdays(rec.Weekdays)
	return rec, nil
}

// NewRecurrence builds a weekly recurrence firing at the time-of-day of start.
func NewRecurrence(weekdays []string, start, end time.Time) Recurrence {
	days := make([]string, 0, len(weekdays))
	seen := make(map[string]bool)
	for _, d := range weekdays {
		d = strings.ToUpper(d)
		if _, ok := weekdayOrder[d]; ok && !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sortWeekdays(days)
	return Recurrence{
		Weekdays: days,
		Hour:     start.Hour(),
		Minute:   start.Minute(),
		Start:    start,
		End:      end,
	}
}

// Rule serializes the recurrence as a single RRULE string.
func (r Recurrence) Rule() string {
	parts := []string{"FREQ=WEEKLY"}
	if len(r.Weekdays) > 0 {
		parts = append(parts, "BYDAY="+strings.Join(r.Weekdays, ","))
	}
	parts = append(parts,
		fmt.Sprintf("BYHOUR=%02d", r.Hour),
		fmt.Sprintf("BYMINUTE=%02d", r.Minute),
		"BYSECOND=00",
	)
	return strings.Join(parts, ";")
}

// Rules returns the recurrence in the list form reminder bodies carry.
func (r Recurrence) Rules() []string {
	return []string{r.Rule()}
}

// OnWeekday reports whether the recurrence fires on the given day code.
func (r Recurrence) OnWeekday(code string) bool {
	for _, d := range r.Weekdays {
		if d == code {
			return true
		}
	}
	return false
}

// Next returns the first occurrence strictly after `after`, or the zero
// time when the recurrence has ended.
func (r Recurrence) Next(after time.Time, loc *time.Location) (time.Time, error) {
	start := r.Start.In(loc)
	opt := rrule.ROption{
		Freq:     rrule.WEEKLY,
		Interval: 1,
		Dtstart:  time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc),
		Byhour:   []int{r.Hour},
		Byminute: []int{r.Minute},
		Bysecond: []int{0},
	}
	for _, d := range r.Weekdays {
		opt.Byweekday = append(opt.Byweekday, codeToWeekday[d])
	}
	if !r.End.IsZero() {
		opt.Until = r.End.In(loc)
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to build recurrence: %w", err)
	}
	if after.Before(start) {
		after = start.Add(-time.Second)
	}
	return rule.After(after, false), nil
}

func sortWeekdays(days []string) {
	sort.Slice(days, func(i, j int) bool {
		return weekdayOrder[days[i]] < weekdayOrder[days[j]]
	})
}
