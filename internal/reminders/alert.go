package reminders

import (
	"fmt"
	"time"

	"github.com/hray3182/DoseLine/internal/rrule"
	"github.com/hray3182/DoseLine/internal/timeutil"
)

const (
	TriggerScheduledAbsolute = "SCHEDULED_ABSOLUTE"
	PushEnabled              = "ENABLED"
)

// Alert is a reminder as the service accepts and returns it.
type Alert struct {
	AlertToken       string           `json:"alertToken,omitempty"`
	RequestTime      string           `json:"requestTime,omitempty"`
	Status           string           `json:"status,omitempty"`
	Trigger          Trigger          `json:"trigger"`
	AlertInfo        AlertInfo        `json:"alertInfo"`
	PushNotification PushNotification `json:"pushNotification"`
}

type Trigger struct {
	Type          string          `json:"type"`
	ScheduledTime string          `json:"scheduledTime,omitempty"`
	TimeZoneID    string          `json:"timeZoneId,omitempty"`
	Recurrence    *RecurrenceSpec `json:"recurrence,omitempty"`
}

// RecurrenceSpec carries zone-less local timestamps; the zone is the
// trigger's TimeZoneID.
type RecurrenceSpec struct {
	StartDateTime   string   `json:"startDateTime,omitempty"`
	EndDateTime     string   `json:"endDateTime,omitempty"`
	RecurrenceRules []string `json:"recurrenceRules"`
}

type AlertInfo struct {
	SpokenInfo SpokenInfo `json:"spokenInfo"`
}

type SpokenInfo struct {
	Content []SpokenText `json:"content"`
}

type SpokenText struct {
	Locale string `json:"locale"`
	Text   string `json:"text"`
}

type PushNotification struct {
	Status string `json:"status"`
}

// NewAlert builds a recurring reminder that speaks text at every
// occurrence of rec.
func NewAlert(rec rrule.Recurrence, text, locale string, loc *time.Location) Alert {
	spec := &RecurrenceSpec{
		StartDateTime:   timeutil.FormatReminderLocal(rec.Start, loc),
		RecurrenceRules: rec.Rules(),
	}
	if !rec.End.IsZero() {
		spec.EndDateTime = timeutil.FormatReminderLocal(rec.End, loc)
	}
	return Alert{
		Trigger: Trigger{
			Type:       TriggerScheduledAbsolute,
			TimeZoneID: loc.String(),
			Recurrence: spec,
		},
		AlertInfo: AlertInfo{
			SpokenInfo: SpokenInfo{Content: []SpokenText{{Locale: locale, Text: text}}},
		},
		PushNotification: PushNotification{Status: PushEnabled},
	}
}

// Location resolves the alert's time zone, falling back to def.
func (a Alert) Location(def *time.Location) *time.Location {
	if a.Trigger.TimeZoneID == "" {
		return def
	}
	loc, err := time.LoadLocation(a.Trigger.TimeZoneID)
	if err != nil {
		return def
	}
	return loc
}

// Recurrence parses the alert's trigger into the structured form.
func (a Alert) Recurrence(def *time.Location) (rrule.Recurrence, error) {
	spec := a.Trigger.Recurrence
	if spec == nil {
		return rrule.Recurrence{}, fmt.Errorf("reminder %s is not recurring", a.AlertToken)
	}
	rec, err := rrule.ParseRules(spec.RecurrenceRules)
	if err != nil {
		return rrule.Recurrence{}, fmt.Errorf("reminder %s: %w", a.AlertToken, err)
	}

	loc := a.Location(def)
	if spec.StartDateTime != "" {
		if rec.Start, err = timeutil.ParseReminderLocal(spec.StartDateTime, loc); err != nil {
			return rrule.Recurrence{}, fmt.Errorf("reminder %s start: %w", a.AlertToken, err)
		}
	}
	if spec.EndDateTime != "" {
		if rec.End, err = timeutil.ParseReminderLocal(spec.EndDateTime, loc); err != nil {
			return rrule.Recurrence{}, fmt.Errorf("reminder %s end: %w", a.AlertToken, err)
		}
	}
	return rec, nil
}

// WithStart returns a copy of the alert, ready to be created again, whose
// recurrence starts at t. End time, rules and spoken text are kept as they are.
func (a Alert) WithStart(t time.Time, def *time.Location) Alert {
	out := a
	out.AlertToken = ""
	out.Status = ""
	out.RequestTime = ""
	if a.Trigger.Recurrence != nil {
		spec := *a.Trigger.Recurrence
		spec.RecurrenceRules = append([]string(nil), a.Trigger.Recurrence.RecurrenceRules...)
		spec.StartDateTime = timeutil.FormatReminderLocal(t, a.Location(def))
		out.Trigger.Recurrence = &spec
	}
	out.AlertInfo.SpokenInfo.Content = append([]SpokenText(nil), a.AlertInfo.SpokenInfo.Content...)
	return out
}

// Text returns the first spoken text of the alert.
func (a Alert) Text() string {
	if len(a.AlertInfo.SpokenInfo.Content) == 0 {
		return ""
	}
	return a.AlertInfo.SpokenInfo.Content[0].Text
}
