// Package lifecycle keeps the external reminders of a session in step with
// its therapies.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/reminders"
	"github.com/hray3182/DoseLine/internal/rrule"
	"github.com/hray3182/DoseLine/internal/timeutil"
)

// RescheduleAfter is how far out an acknowledged reminder is pushed.
const RescheduleAfter = 12 * time.Hour

// ErrNoRecord is returned when a therapy has no reminder record to act on.
var ErrNoRecord = errors.New("no reminder record for therapy")

// Kind selects one reminder of a record's pair.
type Kind string

const (
	KindAlert        Kind = "alert"
	KindConfirmation Kind = "confirmation"
)

// PartialMutationError reports a reminder pair left half-written: an alert
// without its confirmation, or a reminder deleted but not recreated.
type PartialMutationError struct {
	TherapyID   string
	Op          string
	OrphanToken string
	Err         error
}

func (e *PartialMutationError) Error() string {
	msg := fmt.Sprintf("partial reminder mutation for therapy %s during %s", e.TherapyID, e.Op)
	if e.OrphanToken != "" {
		msg += " (orphan " + e.OrphanToken + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *PartialMutationError) Unwrap() error { return e.Err }

// ReminderService is the part of the reminder client the manager needs.
type ReminderService interface {
	Create(ctx context.Context, alert reminders.Alert) (string, error)
	Delete(ctx context.Context, token string) error
	Get(ctx context.Context, token string) (*reminders.Alert, error)
	List(ctx context.Context) ([]reminders.Alert, error)
}

// TherapyPatcher persists a therapy's edit flag.
type TherapyPatcher interface {
	PatchTherapy(ctx context.Context, token, therapyID string, flag models.EditFlag) error
}

// Texts renders the spoken content of a therapy's reminders.
type Texts interface {
	AlertText(t models.Therapy) string
	ConfirmationText(t models.Therapy) string
}

type Options struct {
	Location           *time.Location
	Locale             string
	ConfirmationOffset time.Duration
	Texts              Texts
	Clock              timeutil.Clock
}

// Manager creates, retires and reschedules reminder pairs.
type Manager struct {
	svc     ReminderService
	backend TherapyPatcher
	loc     *time.Location
	locale  string
	offset  time.Duration
	texts   Texts
	now     timeutil.Clock
	logger  zerolog.Logger
}

func NewManager(svc ReminderService, backend TherapyPatcher, opts Options, logger zerolog.Logger) *Manager {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Locale == "" {
		opts.Locale = "it-IT"
	}
	if opts.ConfirmationOffset <= 0 {
		opts.ConfirmationOffset = 15 * time.Minute
	}
	if opts.Texts == nil {
		opts.Texts = defaultTexts{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.SystemClock()
	}
	return &Manager{
		svc:     svc,
		backend: backend,
		loc:     opts.Location,
		locale:  opts.Locale,
		offset:  opts.ConfirmationOffset,
		texts:   opts.Texts,
		now:     opts.Clock,
		logger:  logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Register creates an alert and a confirmation reminder for every slot of
// the therapy, alert first. It returns one record per slot. On failure the
// records of the slots completed so far are returned with the error; a slot
// whose confirmation failed is never recorded.
func (m *Manager) Register(ctx context.Context, t models.Therapy) ([]models.ReminderRecord, error) {
	slots, last, err := Slots(t, m.now(), m.loc)
	if err != nil {
		return nil, fmt.Errorf("failed to derive slots for therapy %s: %w", t.ID, err)
	}
	if len(slots) == 0 {
		m.logger.Warn().Str("therapy_id", t.ID).Msg("therapy has no intakes, nothing to register")
		return nil, nil
	}

	alertText := m.texts.AlertText(t)
	confirmText := m.texts.ConfirmationText(t)

	records := make([]models.ReminderRecord, 0, len(slots))
	for _, slot := range slots {
		alert := reminders.NewAlert(slot.Recurrence, alertText, m.locale, m.loc)
		alertToken, err := m.svc.Create(ctx, alert)
		if err != nil {
			return records, fmt.Errorf("failed to create alert for therapy %s: %w", t.ID, err)
		}

		confirm := reminders.NewAlert(confirmationRecurrence(slot.Recurrence, m.offset), confirmText, m.locale, m.loc)
		confirmToken, err := m.svc.Create(ctx, confirm)
		if err != nil {
			m.logger.Error().Err(err).
				Str("therapy_id", t.ID).
				Str("alert_token", alertToken).
				Msg("confirmation reminder failed after alert was created")
			return records, &PartialMutationError{
				TherapyID:   t.ID,
				Op:          "create confirmation",
				OrphanToken: alertToken,
				Err:         err,
			}
		}

		records = append(records, models.ReminderRecord{
			TherapyID:         t.ID,
			AlertToken:        alertToken,
			ConfirmationToken: confirmToken,
			LastIntakeTime:    last,
		})
		m.logger.Info().
			Str("therapy_id", t.ID).
			Str("alert_token", alertToken).
			Str("confirmation_token", confirmToken).
			Str("rule", slot.Recurrence.Rule()).
			Msg("reminder pair registered")
	}
	return records, nil
}

// Retire deletes every live reminder of therapyID and drops its records
// from the index. Tokens missing from the live listing are taken as already
// gone. Records whose deletion failed stay in the index with the tokens
// that were deleted cleared.
func (m *Manager) Retire(ctx context.Context, records []models.ReminderRecord, therapyID string) ([]models.ReminderRecord, error) {
	targets := models.RecordsFor(records, therapyID)
	if len(targets) == 0 {
		return records, nil
	}

	live, err := m.liveTokens(ctx)
	if err != nil {
		return records, fmt.Errorf("failed to list reminders: %w", err)
	}

	remaining := models.WithoutTherapy(records, therapyID)
	var errs []error
	for _, r := range targets {
		failed := r
		ok := true
		for _, tok := range []*string{&failed.AlertToken, &failed.ConfirmationToken} {
			if *tok == "" {
				continue
			}
			if !live[*tok] {
				*tok = ""
				continue
			}
			if err := m.svc.Delete(ctx, *tok); err != nil && !errors.Is(err, reminders.ErrNotFound) {
				errs = append(errs, fmt.Errorf("failed to delete reminder %s: %w", *tok, err))
				ok = false
				continue
			}
			*tok = ""
		}
		if !ok {
			remaining = append(remaining, failed)
		}
	}

	m.logger.Info().Str("therapy_id", therapyID).Int("records", len(targets)).Msg("reminders retired")
	return remaining, errors.Join(errs...)
}

// Reschedule moves the start of one reminder of the record's pair to
// newTime by recreating it; end time, rule and text are kept. The bool
// reports whether the reminder was moved. Nothing happens when newTime is
// past the reminder's end.
func (m *Manager) Reschedule(ctx context.Context, record models.ReminderRecord, kind Kind, newTime time.Time) (models.ReminderRecord, bool, error) {
	token := record.AlertToken
	if kind == KindConfirmation {
		token = record.ConfirmationToken
	}
	if token == "" {
		return record, false, nil
	}

	alert, err := m.svc.Get(ctx, token)
	if err != nil {
		return record, false, fmt.Errorf("failed to get %s reminder: %w", kind, err)
	}
	rec, err := alert.Recurrence(m.loc)
	if err != nil {
		return record, false, fmt.Errorf("failed to read %s recurrence: %w", kind, err)
	}
	if !rec.End.IsZero() && newTime.After(rec.End) {
		m.logger.Debug().Str("therapy_id", record.TherapyID).Str("kind", string(kind)).Msg("reschedule past recurrence end, skipped")
		return record, false, nil
	}

	moved := alert.WithStart(newTime, m.loc)
	if err := m.svc.Delete(ctx, token); err != nil && !errors.Is(err, reminders.ErrNotFound) {
		return record, false, fmt.Errorf("failed to delete %s reminder: %w", kind, err)
	}

	updated := record
	newToken, err := m.svc.Create(ctx, moved)
	if kind == KindConfirmation {
		updated.ConfirmationToken = newToken
	} else {
		updated.AlertToken = newToken
	}
	if err != nil {
		return updated, false, &PartialMutationError{
			TherapyID: record.TherapyID,
			Op:        "recreate " + string(kind),
			Err:       err,
		}
	}

	m.logger.Info().
		Str("therapy_id", record.TherapyID).
		Str("kind", string(kind)).
		Str("old_token", token).
		Str("new_token", newToken).
		Str("text", moved.Text()).
		Time("start", newTime).
		Msg("reminder rescheduled")
	return updated, true, nil
}

// Resolve narrows a therapy's records to the one a confirmation for an
// intake at slotHour refers to.
func (m *Manager) Resolve(ctx context.Context, records []models.ReminderRecord, therapyID string, slotHour int) (Selection, error) {
	candidates := models.RecordsFor(records, therapyID)
	switch len(candidates) {
	case 0:
		return Selection{}, ErrNoRecord
	case 1:
		return Selection{Record: candidates[0], Matched: true}, nil
	}

	alerts, err := m.svc.List(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("failed to list reminders: %w", err)
	}
	live := make(map[string]rrule.Recurrence, len(alerts))
	for _, a := range alerts {
		rec, err := a.Recurrence(m.loc)
		if err != nil {
			m.logger.Debug().Err(err).Str("alert_token", a.AlertToken).Msg("skipping unparseable reminder")
			continue
		}
		live[a.AlertToken] = rec
	}

	sel := Disambiguate(candidates, live, m.now(), slotHour, m.loc)
	if !sel.Matched {
		m.logger.Warn().
			Str("therapy_id", therapyID).
			Int("slot_hour", slotHour).
			Int("candidates", len(candidates)).
			Msg("no reminder matched weekday and hour")
	}
	return sel, nil
}

// Acknowledge does the reminder housekeeping for a confirmed intake: an
// early confirmation pushes the alert out, one well inside the deadline
// pushes the confirmation out too. delay and maxDelay are in minutes. The
// returned index is always consistent with what happened on the service,
// even when an error is returned alongside it.
func (m *Manager) Acknowledge(ctx context.Context, records []models.ReminderRecord, therapyID string, slotHour, delay, maxDelay int) ([]models.ReminderRecord, error) {
	early := delay < 0
	comfortable := delay < maxDelay-5
	if !early && !comfortable {
		return records, nil
	}

	sel, err := m.Resolve(ctx, records, therapyID, slotHour)
	if err != nil {
		return records, err
	}
	if !sel.Matched {
		return records, nil
	}

	target := m.now().Add(RescheduleAfter)
	current := sel.Record
	var errs []error

	if early {
		updated, _, err := m.Reschedule(ctx, current, KindAlert, target)
		if err != nil {
			errs = append(errs, err)
		}
		current = updated
	}
	if comfortable {
		updated, _, err := m.Reschedule(ctx, current, KindConfirmation, target)
		if err != nil {
			errs = append(errs, err)
		}
		current = updated
	}
	return models.ReplaceRecord(records, sel.Record, current), errors.Join(errs...)
}

// SetupResult is the outcome of applying one therapy's edit flag.
type SetupResult struct {
	Therapy    models.Therapy
	Records    []models.ReminderRecord
	Registered int
}

// ApplySetup runs the edit-flag transition of one therapy: new ones are
// registered, updated ones retired and registered again when active,
// todelete ones retired. Old reminders are always retired before new ones
// are created. The new flag is patched on the backend last.
func (m *Manager) ApplySetup(ctx context.Context, token string, t models.Therapy, records []models.ReminderRecord) (SetupResult, error) {
	res := SetupResult{Therapy: t, Records: records}

	remaining, err := m.Retire(ctx, records, t.ID)
	res.Records = remaining
	if err != nil {
		return res, fmt.Errorf("failed to retire reminders of therapy %s: %w", t.ID, err)
	}

	next := models.EditSaved
	if t.EditFlag == models.EditToDelete {
		next = models.EditDeleted
	}

	if t.EditFlag != models.EditToDelete && t.State {
		created, err := m.Register(ctx, t)
		res.Records = append(res.Records, created...)
		res.Registered = len(created)
		if err != nil {
			return res, err
		}
	}

	if t.EditFlag == next {
		return res, nil
	}
	if err := m.backend.PatchTherapy(ctx, token, t.ID, next); err != nil {
		m.logger.Error().Err(err).
			Str("therapy_id", t.ID).
			Str("edit", string(next)).
			Msg("reminders changed but edit flag not persisted")
		return res, fmt.Errorf("failed to patch therapy %s: %w", t.ID, err)
	}
	res.Therapy = t.WithEditFlag(next)
	return res, nil
}

// ClearAll deletes every reminder the service lists for the user.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	alerts, err := m.svc.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list reminders: %w", err)
	}
	deleted := 0
	var errs []error
	for _, a := range alerts {
		if err := m.svc.Delete(ctx, a.AlertToken); err != nil && !errors.Is(err, reminders.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

func (m *Manager) liveTokens(ctx context.Context) (map[string]bool, error) {
	alerts, err := m.svc.List(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		live[a.AlertToken] = true
	}
	return live, nil
}

type defaultTexts struct{}

func (defaultTexts) AlertText(t models.Therapy) string {
	if t.Posology == "" {
		return "È ora di prendere " + t.Name()
	}
	return "È ora di prendere " + t.Name() + ", " + t.Posology
}

func (defaultTexts) ConfirmationText(t models.Therapy) string {
	return "Hai preso " + t.Name() + "? Rispondi dicendo: Alexa, chiedi a ciao doc di segnarsi le medicine"
}
