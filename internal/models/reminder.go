package models

import "time"

// ReminderRecord indexes the pair of external reminders that serve one
// time-of-day slot of a therapy.
type ReminderRecord struct {
	TherapyID         string    `json:"therapy_id"`
	AlertToken        string    `json:"alertToken"`
	ConfirmationToken string    `json:"confirmationToken"`
	LastIntakeTime    time.Time `json:"last_intake_time"`
}

// Complete reports whether both reminders of the pair are live.
func (r ReminderRecord) Complete() bool {
	return r.AlertToken != "" && r.ConfirmationToken != ""
}

// RecordsFor returns the records of one therapy.
func RecordsFor(records []ReminderRecord, therapyID string) []ReminderRecord {
	var out []ReminderRecord
	for _, r := range records {
		if r.TherapyID == therapyID {
			out = append(out, r)
		}
	}
	return out
}

// WithoutTherapy returns the records that do not belong to therapyID.
func WithoutTherapy(records []ReminderRecord, therapyID string) []ReminderRecord {
	out := make([]ReminderRecord, 0, len(records))
	for _, r := range records {
		if r.TherapyID != therapyID {
			out = append(out, r)
		}
	}
	return out
}

// HasCompleteRecord reports whether therapyID has at least one live pair.
func HasCompleteRecord(records []ReminderRecord, therapyID string) bool {
	for _, r := range records {
		if r.TherapyID == therapyID && r.Complete() {
			return true
		}
	}
	return false
}

// ReplaceRecord swaps the record matching old's alert or confirmation token
// for updated, returning a new slice. When no record matches, updated is
// appended.
func ReplaceRecord(records []ReminderRecord, old, updated ReminderRecord) []ReminderRecord {
	out := make([]ReminderRecord, 0, len(records)+1)
	replaced := false
	for _, r := range records {
		if !replaced && r.TherapyID == old.TherapyID &&
			r.AlertToken == old.AlertToken && r.ConfirmationToken == old.ConfirmationToken {
			out = append(out, updated)
			replaced = true
			continue
		}
		out = append(out, r)
	}
	if !replaced {
		out = append(out, updated)
	}
	return out
}

// DialogueCounters are the zero-based cursors of the setup and confirmation
// walks.
type DialogueCounters struct {
	NewTherapies     int `json:"count_new_therapies"`
	UpdatedTherapies int `json:"count_updated_therapies"`
	Intakes          int `json:"count_intakes"`
}
