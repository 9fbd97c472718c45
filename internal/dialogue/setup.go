package dialogue

import (
	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/session"
)

// loadTherapies syncs the therapy window and, when something needs
// reminders changed, starts the setup walk. Otherwise it moves on to the
// confirmation round.
func (e *Engine) loadTherapies(tc *turnCtx) Response {
	st := tc.st
	res, err := e.syncer.Sync(tc.ctx, st.AccessToken, tc.now, st.Reminders)
	if err != nil {
		return e.fail(tc, err, "failed to load therapies")
	}

	st.AllTherapies = res.All
	st.NewTherapies = res.SetupQueue()
	st.UpdatedTherapies = res.RetireQueue()
	st.Counters.NewTherapies = 0
	st.Counters.UpdatedTherapies = 0
	st.TherapiesStale = false

	total := len(st.NewTherapies) + len(st.UpdatedTherapies)
	if total == 0 {
		st.Phase = session.PhaseIdle
		resp := e.askIntake(tc)
		resp.Speech = e.msg.T("THERAPIES_NONE") + " " + resp.Speech
		return resp
	}

	st.ResetConfirmation()
	st.Phase = session.PhaseAwaitSetup
	tc.logger.Info().
		Int("new", len(st.NewTherapies)).
		Int("updated", len(st.UpdatedTherapies)).
		Msg("setup walk started")
	return e.askSetup(e.msg.T("THERAPIES_PENDING", total)+" ", st)
}

// currentSetup returns the therapy the setup walk is at: new ones first,
// then updated ones.
func currentSetup(st *session.State) (models.Therapy, bool) {
	if c := st.Counters.NewTherapies; c < len(st.NewTherapies) {
		return st.NewTherapies[c], true
	}
	if c := st.Counters.UpdatedTherapies; c < len(st.UpdatedTherapies) {
		return st.UpdatedTherapies[c], true
	}
	return models.Therapy{}, false
}

func (e *Engine) askSetup(prefix string, st *session.State) Response {
	t, ok := currentSetup(st)
	if !ok {
		return Response{Speech: prefix + e.msg.T("REMINDERS_COMPLETED")}
	}
	var q string
	switch {
	case t.EditFlag == models.EditToDelete || (t.EditFlag == models.EditUpdated && !t.State):
		q = e.msg.T("SETUP_DELETE_ASK", t.Name())
	case t.EditFlag == models.EditUpdated:
		q = e.msg.T("SETUP_UPDATED_ASK", t.Name())
	default:
		q = e.msg.T("SETUP_NEW_ASK", t.Name(), t.Posology)
	}
	return Response{Speech: prefix + q, Reprompt: q, ExpectAnswer: true}
}

// setupCurrent applies the current therapy's transition and advances the
// walk. When the walk is exhausted the counters are reset and the therapy
// cache is synced again.
func (e *Engine) setupCurrent(tc *turnCtx) Response {
	st := tc.st
	t, ok := currentSetup(st)
	if !ok {
		return e.finishSetup(tc, "")
	}

	logger := tc.logger.With().Str("therapy_id", t.ID).Str("edit", string(t.EditFlag)).Logger()
	res, err := e.lifecycle.ApplySetup(tc.ctx, st.AccessToken, t, st.Reminders)
	st.Reminders = res.Records
	if err != nil {
		logger.Error().Err(err).Int("registered", res.Registered).Msg("therapy setup failed")
		return e.fail(tc, err, "therapy setup failed")
	}

	if updated, ok := models.ReplaceTherapy(st.AllTherapies, res.Therapy); ok {
		st.AllTherapies = updated
	}
	if st.Counters.NewTherapies < len(st.NewTherapies) {
		st.Counters.NewTherapies++
	} else {
		st.Counters.UpdatedTherapies++
	}
	logger.Info().Int("registered", res.Registered).Msg("therapy configured")

	done := e.msg.T("SETUP_DONE", t.Name())
	if _, more := currentSetup(st); more {
		return e.askSetup(done, st)
	}
	return e.finishSetup(tc, done)
}

func (e *Engine) finishSetup(tc *turnCtx, prefix string) Response {
	st := tc.st
	st.ResetSetup()
	st.NewTherapies = nil
	st.UpdatedTherapies = nil
	st.Phase = session.PhaseIdle

	res, err := e.syncer.Sync(tc.ctx, st.AccessToken, tc.now, st.Reminders)
	if err != nil {
		tc.logger.Warn().Err(err).Msg("resync after setup failed")
		st.AllTherapies = nil
	} else {
		st.AllTherapies = res.All
		st.TherapiesStale = res.Pending()
	}
	return Response{Speech: prefix + e.msg.T("REMINDERS_COMPLETED"), Reprompt: e.msg.T("REPROMPT")}
}

// postponeSetup abandons the walk; the therapies stay pending on the
// backend and the staleness flag brings them up again.
func (e *Engine) postponeSetup(tc *turnCtx) Response {
	st := tc.st
	st.ResetSetup()
	st.NewTherapies = nil
	st.UpdatedTherapies = nil
	st.Phase = session.PhaseIdle
	st.TherapiesStale = true
	return Response{Speech: e.msg.T("SETUP_POSTPONED"), Reprompt: e.msg.T("REPROMPT")}
}
