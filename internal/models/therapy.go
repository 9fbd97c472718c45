package models

import (
	"strings"
	"time"

	"github.com/hray3182/DoseLine/internal/timeutil"
)

// EditFlag is the backend-side sync marker of a therapy.
type EditFlag string

const (
	EditNew      EditFlag = "new"
	EditUpdated  EditFlag = "updated"
	EditSaved    EditFlag = "saved"
	EditToDelete EditFlag = "todelete"
	EditDeleted  EditFlag = "deleted"
)

// IntakeStatus is the lifecycle state of one scheduled dose.
type IntakeStatus string

const (
	IntakeProgrammed IntakeStatus = "programmed"
	IntakeTaken      IntakeStatus = "taken"
	IntakeMissed     IntakeStatus = "missed"
)

// Therapy is a prescribed medication course as returned by the backend.
type Therapy struct {
	ID        string   `json:"_id"`
	DrugName  string   `json:"drug"`
	Posology  string   `json:"posology"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	State     bool     `json:"state"` // false = stopped
	EditFlag  EditFlag `json:"edit"`
	Intakes   []Intake `json:"intakes"`
}

// Intake is one scheduled dose occurrence of a therapy.
type Intake struct {
	ID             string       `json:"_id"`
	TherapyID      string       `json:"therapy_id"`
	Drug           string       `json:"drug"`
	Posology       string       `json:"posology"`
	ProgrammedDate string       `json:"programmed_date"`
	MaxDelay       int          `json:"max_delay"` // minutes
	Status         IntakeStatus `json:"status"`
}

// SpokenName strips the packaging suffix the backend appends after a dash
// ("Tachipirina-500mg cpr" -> "Tachipirina").
func SpokenName(drug string) string {
	name, _, _ := strings.Cut(drug, "-")
	return strings.TrimSpace(name)
}

// Name returns the therapy's drug name as it should be spoken.
func (t Therapy) Name() string {
	return SpokenName(t.DrugName)
}

// Name returns the intake's drug name as it should be spoken.
func (i Intake) Name() string {
	return SpokenName(i.Drug)
}

// End parses the therapy's end date in loc.
func (t Therapy) End(loc *time.Location) (time.Time, error) {
	return timeutil.ParseWire(t.EndDate, loc)
}

// EndsAfter reports whether the therapy ends strictly after now. Therapies
// with an unparseable end date are treated as ended.
func (t Therapy) EndsAfter(now time.Time, loc *time.Location) bool {
	end, err := t.End(loc)
	if err != nil {
		return false
	}
	return end.After(now)
}

// Programmed parses the intake's scheduled time in loc.
func (i Intake) Programmed(loc *time.Location) (time.Time, error) {
	return timeutil.ParseWire(i.ProgrammedDate, loc)
}

// WithIntakeStatus returns a copy of the therapy with the given intake's
// status replaced. The receiver is not modified.
func (t Therapy) WithIntakeStatus(intakeID string, status IntakeStatus) (Therapy, bool) {
	out := t
	out.Intakes = make([]Intake, len(t.Intakes))
	copy(out.Intakes, t.Intakes)
	for i := range out.Intakes {
		if out.Intakes[i].ID == intakeID {
			out.Intakes[i].Status = status
			return out, true
		}
	}
	return out, false
}

// WithEditFlag returns a copy of the therapy carrying the new flag.
func (t Therapy) WithEditFlag(flag EditFlag) Therapy {
	out := t
	out.EditFlag = flag
	return out
}

// ReplaceTherapy returns a copy of list with the therapy sharing updated's
// ID swapped for updated.
func ReplaceTherapy(list []Therapy, updated Therapy) ([]Therapy, bool) {
	out := make([]Therapy, len(list))
	copy(out, list)
	for i := range out {
		if out[i].ID == updated.ID {
			out[i] = updated
			return out, true
		}
	}
	return out, false
}

// FindTherapy returns the therapy with the given ID.
func FindTherapy(list []Therapy, id string) (Therapy, bool) {
	for _, t := range list {
		if t.ID == id {
			return t, true
		}
	}
	return Therapy{}, false
}
