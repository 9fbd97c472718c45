package session

import (
	"time"

	"github.com/hray3182/DoseLine/internal/models"
)

// Phase is the position of the session in the dose dialogue.
type Phase string

const (
	PhaseIdle              Phase = "IDLE"
	PhaseAwaitSetup        Phase = "AWAIT_THERAPY_SETUP"
	PhaseAwaitConfirmation Phase = "AWAIT_CONFIRMATION"
)

// IntervalIntake is one entry of the confirmation round: an intake due
// around now, paired with its raw programmed date.
type IntervalIntake struct {
	Intake   models.Intake `json:"intake"`
	TimeSlot string        `json:"time_slot"`
}

// LastIntake is the most recent dose the patient confirmed.
type LastIntake struct {
	Drug     string    `json:"drug"`
	Posology string    `json:"posology"`
	At       time.Time `json:"at"`
}

// State is everything the dialogue engine knows about one conversation.
//
// Between turns of a session the whole struct is stored. When a session
// ends only Persistent() survives until the next one.
type State struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`

	Phase          Phase  `json:"phase"`
	AccessToken    string `json:"access_token,omitempty"`
	UserName       string `json:"user_name,omitempty"`
	DeviceID       string `json:"device_id,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`

	AllTherapies     []models.Therapy        `json:"all_therapies,omitempty"`
	NewTherapies     []models.Therapy        `json:"new_therapies,omitempty"`
	UpdatedTherapies []models.Therapy        `json:"updated_therapies,omitempty"`
	Reminders        []models.ReminderRecord `json:"reminders,omitempty"`
	Counters         models.DialogueCounters `json:"counters"`

	IntervalIntakes []IntervalIntake `json:"interval_intakes,omitempty"`
	SignedPrefix    string           `json:"signed_prefix,omitempty"`
	LastIntake      *LastIntake      `json:"last_intake,omitempty"`
	TherapiesStale  bool             `json:"flag_therapies,omitempty"`
	SessionCounter  int              `json:"session_counter"`
	Active          bool             `json:"active,omitempty"`
}

// Authenticated reports whether the session holds an access token.
func (s *State) Authenticated() bool {
	return s.AccessToken != ""
}

// Persistent returns the subset of the state that outlives a session.
// Identity fields and the version are kept so the copy can be stored over
// the original.
func (s *State) Persistent() *State {
	out := &State{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		Version:        s.Version,
		Phase:          PhaseIdle,
		AccessToken:    s.AccessToken,
		UserName:       s.UserName,
		DeviceID:       s.DeviceID,
		NotificationID: s.NotificationID,
		Reminders:      append([]models.ReminderRecord(nil), s.Reminders...),
		SessionCounter: s.SessionCounter,
	}
	if s.LastIntake != nil {
		li := *s.LastIntake
		out.LastIntake = &li
	}
	return out
}

// ResetSetup clears the setup walk.
func (s *State) ResetSetup() {
	s.Counters.NewTherapies = 0
	s.Counters.UpdatedTherapies = 0
	if s.Phase == PhaseAwaitSetup {
		s.Phase = PhaseIdle
	}
}

// ResetConfirmation clears the confirmation round.
func (s *State) ResetConfirmation() {
	s.Counters.Intakes = 0
	s.IntervalIntakes = nil
	s.SignedPrefix = ""
	if s.Phase == PhaseAwaitConfirmation {
		s.Phase = PhaseIdle
	}
}

// Wipe forgets the user's data. The session identity and the session
// counter are kept; the counter tracks sessions, not the user.
func (s *State) Wipe() {
	*s = State{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		Version:        s.Version,
		Phase:          PhaseIdle,
		SessionCounter: s.SessionCounter,
	}
}
