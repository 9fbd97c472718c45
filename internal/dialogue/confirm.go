package dialogue

import (
	"sort"
	"time"

	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/session"
	"github.com/hray3182/DoseLine/internal/timeutil"
)

// IntervalIntakes returns the programmed intakes of active therapies due
// within each intake's max delay of now, ordered by programmed time. now is
// truncated to the minute.
func IntervalIntakes(therapies []models.Therapy, now time.Time, loc *time.Location) []session.IntervalIntake {
	now = now.Truncate(time.Minute)
	type entry struct {
		item session.IntervalIntake
		at   time.Time
	}
	var found []entry
	for _, t := range therapies {
		if !t.State || t.EditFlag == models.EditDeleted {
			continue
		}
		for _, in := range t.Intakes {
			if in.Status != models.IntakeProgrammed {
				continue
			}
			at, err := in.Programmed(loc)
			if err != nil {
				continue
			}
			window := time.Duration(in.MaxDelay) * time.Minute
			if at.Before(now.Add(-window)) || at.After(now.Add(window)) {
				continue
			}
			if in.Drug == "" {
				in.Drug = t.DrugName
			}
			if in.Posology == "" {
				in.Posology = t.Posology
			}
			if in.TherapyID == "" {
				in.TherapyID = t.ID
			}
			found = append(found, entry{
				item: session.IntervalIntake{Intake: in, TimeSlot: in.ProgrammedDate},
				at:   at,
			})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })

	out := make([]session.IntervalIntake, len(found))
	for i, f := range found {
		out[i] = f.item
	}
	return out
}

// askIntake opens a confirmation round, or repeats the current question of
// the round in progress.
func (e *Engine) askIntake(tc *turnCtx) Response {
	st := tc.st
	if st.Phase == session.PhaseAwaitConfirmation && st.Counters.Intakes < len(st.IntervalIntakes) {
		return e.askCurrentIntake(st)
	}

	if err := e.refreshTherapies(tc); err != nil {
		return e.fail(tc, err, "failed to load therapies")
	}
	if st.TherapiesStale {
		return Response{Speech: e.msg.T("THERAPIES_STALE"), Reprompt: e.msg.T("REPROMPT")}
	}

	st.ResetConfirmation()
	st.IntervalIntakes = IntervalIntakes(st.AllTherapies, tc.now, e.loc)
	if len(st.IntervalIntakes) == 0 {
		return Response{Speech: e.msg.T("NO_PENDING_INTAKE"), Reprompt: e.msg.T("REPROMPT")}
	}
	st.Phase = session.PhaseAwaitConfirmation
	tc.logger.Info().Int("intakes", len(st.IntervalIntakes)).Msg("confirmation round started")
	return e.askCurrentIntake(st)
}

func (e *Engine) askCurrentIntake(st *session.State) Response {
	cur := st.IntervalIntakes[st.Counters.Intakes]
	prefix := st.SignedPrefix
	st.SignedPrefix = ""

	at := cur.TimeSlot
	if t, err := timeutil.ParseWire(cur.TimeSlot, e.loc); err == nil {
		at = e.formatClock(t)
	}
	q := e.msg.T("ASK_INTAKE", "", cur.Intake.Name(), cur.Intake.Posology, at)
	return Response{
		Speech:       e.msg.T("ASK_INTAKE", prefix, cur.Intake.Name(), cur.Intake.Posology, at),
		Reprompt:     q,
		ExpectAnswer: true,
	}
}

// confirmIntake records a "yes" for the current intake. Reminder
// housekeeping failures are logged only; a failed intake patch aborts the
// turn without advancing.
func (e *Engine) confirmIntake(tc *turnCtx) Response {
	st := tc.st
	cur := st.IntervalIntakes[st.Counters.Intakes]
	in := cur.Intake
	logger := tc.logger.With().Str("therapy_id", in.TherapyID).Str("intake_id", in.ID).Logger()

	programmed, err := timeutil.ParseWire(cur.TimeSlot, e.loc)
	if err != nil {
		logger.Error().Err(err).Str("time_slot", cur.TimeSlot).Msg("unparseable time slot")
		programmed = tc.now
	}
	delay := timeutil.MinutesBetween(programmed, tc.now)

	records, err := e.lifecycle.Acknowledge(tc.ctx, st.Reminders, in.TherapyID, programmed.Hour(), delay, in.MaxDelay)
	st.Reminders = records
	if err != nil {
		logger.Warn().Err(err).Int("delay", delay).Msg("reminder housekeeping failed")
	}

	if err := e.backend.PatchIntake(tc.ctx, st.AccessToken, in.ID, models.IntakeTaken, delay); err != nil {
		return e.fail(tc, err, "failed to patch intake")
	}

	if t, ok := models.FindTherapy(st.AllTherapies, in.TherapyID); ok {
		if updated, ok := t.WithIntakeStatus(in.ID, models.IntakeTaken); ok {
			st.AllTherapies, _ = models.ReplaceTherapy(st.AllTherapies, updated)
		}
	}
	st.LastIntake = &session.LastIntake{Drug: in.Name(), Posology: in.Posology, At: tc.now}
	logger.Info().Int("delay", delay).Msg("intake confirmed")

	prefix := e.msg.T("TAKEN_CONFIRMATION_ANS_MSG", in.Name())
	return e.advanceIntake(st, prefix)
}

// declineIntake records a "no". The intake stays programmed.
func (e *Engine) declineIntake(tc *turnCtx) Response {
	st := tc.st
	cur := st.IntervalIntakes[st.Counters.Intakes]
	tc.logger.Info().Str("intake_id", cur.Intake.ID).Msg("intake declined")

	if st.Counters.Intakes >= len(st.IntervalIntakes)-1 {
		st.ResetConfirmation()
		return Response{Speech: e.msg.T("NO_LAST", cur.Intake.Name()), Reprompt: e.msg.T("REPROMPT")}
	}
	return e.advanceIntake(st, e.msg.T("DECLINED_PREFIX", cur.Intake.Name()))
}

func (e *Engine) advanceIntake(st *session.State, prefix string) Response {
	st.Counters.Intakes++
	if st.Counters.Intakes >= len(st.IntervalIntakes) {
		st.ResetConfirmation()
		return Response{Speech: prefix + e.msg.T("INTAKES_DONE"), Reprompt: e.msg.T("REPROMPT")}
	}
	st.SignedPrefix = prefix
	return e.askCurrentIntake(st)
}
