package dialogue

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hray3182/DoseLine/internal/auth"
	"github.com/hray3182/DoseLine/internal/backend"
	"github.com/hray3182/DoseLine/internal/messages"
	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/timeutil"
)

func (e *Engine) launch(tc *turnCtx) Response {
	st := tc.st
	if !st.Authenticated() {
		return Response{Speech: e.msg.T("WELCOME_NEW"), Reprompt: e.msg.T("ASK_SECURITY_CODE")}
	}
	speech := e.msg.T("WELCOME", st.UserName)
	if st.TherapiesStale {
		speech += " " + e.msg.T("THERAPIES_STALE")
	}
	return Response{Speech: speech, Reprompt: e.msg.T("REPROMPT")}
}

// securityCode exchanges the OTP for an access token and registers the
// device for notifications.
func (e *Engine) securityCode(tc *turnCtx) Response {
	st := tc.st
	otp := strings.TrimSpace(tc.turn.Slots[SlotOTP])
	if otp == "" {
		return e.askSecurityCode()
	}

	sess, err := e.backend.ExchangeOTP(tc.ctx, otp)
	if errors.Is(err, backend.ErrUnauthorized) {
		tc.logger.Info().Msg("security code rejected")
		return Response{Speech: e.msg.T("AUTH_FAILED"), Reprompt: e.msg.T("ASK_SECURITY_CODE")}
	}
	if err != nil {
		return e.fail(tc, err, "failed to exchange security code")
	}

	st.AccessToken = sess.AccessToken
	st.UserName = sess.UserName
	if st.UserName == "" {
		_, st.UserName = auth.Subject(sess.AccessToken)
	}
	st.AllTherapies = nil
	tc.logger.Info().Msg("session authenticated")

	if st.DeviceID != "" && st.NotificationID == "" {
		id, err := e.backend.RegisterDevice(tc.ctx, st.AccessToken, st.DeviceID)
		if err != nil {
			tc.logger.Warn().Err(err).Msg("failed to register device for notifications")
		} else {
			st.NotificationID = id
		}
	}
	return Response{Speech: e.msg.T("AUTH_OK", st.UserName), Reprompt: e.msg.T("REPROMPT")}
}

type scheduled struct {
	intake models.Intake
	at     time.Time
}

func (e *Engine) todayIntakes(tc *turnCtx, keep func(models.Intake) bool) []scheduled {
	var out []scheduled
	for _, t := range tc.st.AllTherapies {
		if !t.State || t.EditFlag == models.EditDeleted {
			continue
		}
		for _, in := range t.Intakes {
			at, err := in.Programmed(e.loc)
			if err != nil || !timeutil.SameDay(at, tc.now, e.loc) || !keep(in) {
				continue
			}
			if in.Drug == "" {
				in.Drug = t.DrugName
			}
			out = append(out, scheduled{intake: in, at: at})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

func (e *Engine) describe(list []scheduled) string {
	items := make([]string, len(list))
	for i, s := range list {
		items[i] = fmt.Sprintf("%s alle %s", s.intake.Name(), e.formatClock(s.at))
	}
	return messages.List(items)
}

// whichMedicineToday lists today's programmed intakes still ahead, and the
// ones already due.
func (e *Engine) whichMedicineToday(tc *turnCtx) Response {
	if err := e.refreshTherapies(tc); err != nil {
		return e.fail(tc, err, "failed to load therapies")
	}
	if tc.st.TherapiesStale {
		return Response{Speech: e.msg.T("THERAPIES_STALE"), Reprompt: e.msg.T("REPROMPT")}
	}

	programmed := e.todayIntakes(tc, func(in models.Intake) bool { return in.Status == models.IntakeProgrammed })
	var upcoming, due []scheduled
	for _, s := range programmed {
		if s.at.After(tc.now) {
			upcoming = append(upcoming, s)
		} else {
			due = append(due, s)
		}
	}

	var parts []string
	if len(upcoming) > 0 {
		parts = append(parts, e.msg.T("TODAY_LIST", e.describe(upcoming)))
	}
	if len(due) > 0 {
		parts = append(parts, e.msg.T("TODAY_DUE", e.describe(due)))
	}
	if len(parts) == 0 {
		return Response{Speech: e.msg.T("TODAY_NONE"), Reprompt: e.msg.T("REPROMPT")}
	}
	return Response{Speech: strings.Join(parts, " "), Reprompt: e.msg.T("REPROMPT")}
}

func (e *Engine) missedIntakes(tc *turnCtx) Response {
	if err := e.refreshTherapies(tc); err != nil {
		return e.fail(tc, err, "failed to load therapies")
	}
	missed := e.todayIntakes(tc, func(in models.Intake) bool { return in.Status == models.IntakeMissed })
	if len(missed) == 0 {
		return Response{Speech: e.msg.T("MISSED_NONE"), Reprompt: e.msg.T("REPROMPT")}
	}
	return Response{Speech: e.msg.T("MISSED_LIST", e.describe(missed)), Reprompt: e.msg.T("REPROMPT")}
}

func (e *Engine) lastIntake(tc *turnCtx) Response {
	li := tc.st.LastIntake
	if li == nil {
		return Response{Speech: e.msg.T("LAST_INTAKE_NONE"), Reprompt: e.msg.T("REPROMPT")}
	}
	return Response{
		Speech:   e.msg.T("LAST_INTAKE", li.Drug, li.Posology, e.formatClock(li.At)),
		Reprompt: e.msg.T("REPROMPT"),
	}
}

// adherence reads the percentage of confirmed doses from the backend.
func (e *Engine) adherence(tc *turnCtx) Response {
	pct, err := e.backend.PostAdherence(tc.ctx, tc.st.AccessToken)
	if err != nil {
		return e.fail(tc, err, "failed to compute adherence")
	}
	n := int(math.Round(pct))
	key := "ADHERENCE_HIGH"
	switch {
	case pct < 30:
		key = "ADHERENCE_LOW"
	case pct < 80:
		key = "ADHERENCE_MID"
	}
	return Response{Speech: e.msg.T(key, n), Reprompt: e.msg.T("REPROMPT")}
}

// deleteSessionData removes every reminder of the user, the notification
// registration and the stored session.
func (e *Engine) deleteSessionData(tc *turnCtx) Response {
	st := tc.st
	n, err := e.lifecycle.ClearAll(tc.ctx)
	if err != nil {
		tc.logger.Warn().Err(err).Int("deleted", n).Msg("some reminders could not be deleted")
	}
	if st.NotificationID != "" {
		if err := e.backend.UnregisterDevice(tc.ctx, st.AccessToken, st.NotificationID); err != nil {
			tc.logger.Warn().Err(err).Msg("failed to unregister device")
		}
	}
	st.Wipe()
	tc.logger.Info().Int("deleted", n).Msg("session data deleted")
	return Response{Speech: e.msg.T("DATA_DELETED"), EndSession: true}
}

func (e *Engine) enableNotifications(tc *turnCtx) Response {
	st := tc.st
	if st.NotificationID != "" {
		return Response{Speech: e.msg.T("NOTIFICATIONS_ON"), Reprompt: e.msg.T("REPROMPT")}
	}
	if st.DeviceID == "" {
		return Response{Speech: e.msg.T("NOTIFICATIONS_FAILED"), Reprompt: e.msg.T("REPROMPT")}
	}
	id, err := e.backend.RegisterDevice(tc.ctx, st.AccessToken, st.DeviceID)
	if err != nil {
		tc.logger.Warn().Err(err).Msg("failed to register device")
		return Response{Speech: e.msg.T("NOTIFICATIONS_FAILED"), Reprompt: e.msg.T("REPROMPT")}
	}
	st.NotificationID = id
	return Response{Speech: e.msg.T("NOTIFICATIONS_ON"), Reprompt: e.msg.T("REPROMPT")}
}

func (e *Engine) disableNotifications(tc *turnCtx) Response {
	st := tc.st
	if st.NotificationID == "" {
		return Response{Speech: e.msg.T("NOTIFICATIONS_OFF"), Reprompt: e.msg.T("REPROMPT")}
	}
	if err := e.backend.UnregisterDevice(tc.ctx, st.AccessToken, st.NotificationID); err != nil {
		tc.logger.Warn().Err(err).Msg("failed to unregister device")
		return Response{Speech: e.msg.T("NOTIFICATIONS_FAILED"), Reprompt: e.msg.T("REPROMPT")}
	}
	st.NotificationID = ""
	return Response{Speech: e.msg.T("NOTIFICATIONS_OFF"), Reprompt: e.msg.T("REPROMPT")}
}
