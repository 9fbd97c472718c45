// Package dialogue drives the turn-by-turn therapy setup and dose
// confirmation conversation.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/DoseLine/internal/auth"
	"github.com/hray3182/DoseLine/internal/backend"
	"github.com/hray3182/DoseLine/internal/lifecycle"
	"github.com/hray3182/DoseLine/internal/messages"
	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/reminders"
	"github.com/hray3182/DoseLine/internal/session"
	"github.com/hray3182/DoseLine/internal/therapy"
	"github.com/hray3182/DoseLine/internal/timeutil"
)

// Backend is the part of the therapy backend the engine calls directly.
type Backend interface {
	ExchangeOTP(ctx context.Context, otp string) (*backend.Session, error)
	PatchIntake(ctx context.Context, token, intakeID string, status models.IntakeStatus, delayMinutes int) error
	PostAdherence(ctx context.Context, token string) (float64, error)
	PostAuditLog(ctx context.Context, token, event string, at time.Time) error
	RegisterDevice(ctx context.Context, token, deviceID string) (string, error)
	UnregisterDevice(ctx context.Context, token, registrationID string) error
}

type Options struct {
	Location *time.Location
	Clock    timeutil.Clock
}

// Engine answers turns. One turn per session runs at a time; front-ends
// serialize turns of the same session.
type Engine struct {
	store     session.Store
	backend   Backend
	syncer    *therapy.Syncer
	lifecycle *lifecycle.Manager
	msg       *messages.Catalog
	loc       *time.Location
	now       timeutil.Clock
	logger    zerolog.Logger
}

func NewEngine(
	store session.Store,
	be Backend,
	syncer *therapy.Syncer,
	lm *lifecycle.Manager,
	msg *messages.Catalog,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.SystemClock()
	}
	return &Engine{
		store:     store,
		backend:   be,
		syncer:    syncer,
		lifecycle: lm,
		msg:       msg,
		loc:       opts.Location,
		now:       opts.Clock,
		logger:    logger.With().Str("component", "dialogue").Logger(),
	}
}

// turnCtx carries what the handlers of a single turn share.
type turnCtx struct {
	ctx    context.Context
	st     *session.State
	turn   Turn
	now    time.Time
	logger zerolog.Logger
}

// Handle runs one turn: load state, check staleness, dispatch, save.
// Every failure ends up as a spoken response.
func (e *Engine) Handle(ctx context.Context, turn Turn) Response {
	ctx = reminders.WithAPIToken(ctx, turn.ReminderAPIToken)
	logger := e.logger.With().
		Str("session_id", turn.SessionID).
		Str("intent", string(turn.Intent)).
		Logger()

	st, created, err := e.load(ctx, turn.SessionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load session")
		return Response{Speech: e.msg.T("GENERIC_ERROR")}
	}

	tc := &turnCtx{ctx: ctx, st: st, turn: turn, now: e.now(), logger: logger}
	e.startSession(tc)
	e.checkToken(tc)
	e.checkStaleness(tc)

	resp := e.dispatch(tc)
	e.audit(tc)

	if resp.EndSession {
		e.endSession(st)
	}
	if err := e.save(ctx, st, created); err != nil {
		logger.Error().Err(err).Msg("failed to save session")
	}

	logger.Debug().
		Str("phase", string(st.Phase)).
		Int("count_new", st.Counters.NewTherapies).
		Int("count_updated", st.Counters.UpdatedTherapies).
		Int("count_intakes", st.Counters.Intakes).
		Msg("turn handled")
	return resp
}

func (e *Engine) load(ctx context.Context, id string) (*session.State, bool, error) {
	st, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if st == nil {
		return &session.State{ID: id, Phase: session.PhaseIdle}, true, nil
	}
	return st, false, nil
}

const saveAttempts = 3

// save stores the turn's state. The staleness watcher may have flagged the
// session while the turn ran; on a version conflict the turn's state is
// written over the newer copy and only the watcher's flag is carried over.
func (e *Engine) save(ctx context.Context, st *session.State, created bool) error {
	if created {
		return e.store.Create(ctx, st)
	}
	for attempt := 1; ; attempt++ {
		err := e.store.Update(ctx, st)
		if !errors.Is(err, session.ErrVersionConflict) || attempt == saveAttempts {
			return err
		}
		cur, err := e.store.Get(ctx, st.ID)
		if err != nil {
			return fmt.Errorf("failed to reload session: %w", err)
		}
		if cur == nil {
			return e.store.Create(ctx, st)
		}
		e.logger.Debug().Str("session_id", st.ID).Int64("version", cur.Version).Msg("session changed during turn, merging")
		st.Version = cur.Version
		if cur.TherapiesStale && st.Authenticated() {
			st.TherapiesStale = true
		}
	}
}

// startSession resets the walks when a new conversation begins.
func (e *Engine) startSession(tc *turnCtx) {
	st := tc.st
	if tc.turn.DeviceID != "" {
		st.DeviceID = tc.turn.DeviceID
	}
	if st.Active && !tc.turn.NewSession {
		return
	}
	st.Active = true
	st.Phase = session.PhaseIdle
	st.ResetSetup()
	st.ResetConfirmation()
	tc.logger.Info().Int("session_counter", st.SessionCounter).Msg("session started")
}

// endSession trims the state to what survives between sessions.
func (e *Engine) endSession(st *session.State) {
	p := st.Persistent()
	p.SessionCounter++
	*st = *p
}

func (e *Engine) checkToken(tc *turnCtx) {
	if !tc.st.Authenticated() {
		return
	}
	if err := auth.CheckAccessToken(tc.st.AccessToken, tc.now); err != nil {
		tc.logger.Info().Err(err).Msg("access token rejected")
		tc.st.AccessToken = ""
	}
}

// selfSyncing intents fetch therapies themselves or do not need them.
var selfSyncing = map[Intent]bool{
	IntentSecurityCode:      true,
	IntentLoadTherapies:     true,
	IntentSetupTherapy:      true,
	IntentDeleteSessionData: true,
	IntentStop:              true,
	IntentSessionEnded:      true,
	IntentHelp:              true,
	IntentUserError:         true,
}

// checkStaleness refreshes the therapy cache and the staleness flag. A
// failed fetch keeps the previous values.
func (e *Engine) checkStaleness(tc *turnCtx) {
	st := tc.st
	if !st.Authenticated() || selfSyncing[tc.turn.Intent] || st.Phase == session.PhaseAwaitSetup {
		return
	}
	res, err := e.syncer.Sync(tc.ctx, st.AccessToken, tc.now, st.Reminders)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			st.AccessToken = ""
		}
		tc.logger.Warn().Err(err).Msg("staleness check failed")
		return
	}
	st.AllTherapies = res.All
	st.TherapiesStale = res.Pending()
}

func (e *Engine) audit(tc *turnCtx) {
	if !tc.st.Authenticated() || tc.turn.Intent == IntentSessionEnded {
		return
	}
	if err := e.backend.PostAuditLog(tc.ctx, tc.st.AccessToken, string(tc.turn.Intent), tc.now); err != nil {
		tc.logger.Warn().Err(err).Msg("failed to post audit log")
	}
}

// dispatch is the state machine: it picks the handler from the intent and,
// for yes/no answers, from the phase.
func (e *Engine) dispatch(tc *turnCtx) Response {
	switch tc.turn.Intent {
	case IntentLaunch:
		return e.launch(tc)
	case IntentSecurityCode:
		return e.securityCode(tc)
	case IntentHelp:
		return Response{Speech: e.msg.T("HELP"), Reprompt: e.msg.T("REPROMPT")}
	case IntentStop, IntentSessionEnded:
		return Response{Speech: e.msg.T("GOODBYE"), EndSession: true}
	}

	if !tc.st.Authenticated() {
		return e.askSecurityCode()
	}

	switch tc.turn.Intent {
	case IntentYes, IntentNo:
		return e.answer(tc)
	case IntentLoadTherapies:
		return e.loadTherapies(tc)
	case IntentSetupTherapy:
		if tc.st.Phase != session.PhaseAwaitSetup {
			return e.loadTherapies(tc)
		}
		return e.setupCurrent(tc)
	case IntentConfirmIntake, IntentWhichMedicine:
		return e.askIntake(tc)
	case IntentWhichMedicineToday:
		return e.whichMedicineToday(tc)
	case IntentMissedIntakes:
		return e.missedIntakes(tc)
	case IntentLastIntake:
		return e.lastIntake(tc)
	case IntentAdherence:
		return e.adherence(tc)
	case IntentDeleteSessionData:
		return e.deleteSessionData(tc)
	case IntentEnableNotifications:
		return e.enableNotifications(tc)
	case IntentDisableNotifications:
		return e.disableNotifications(tc)
	case IntentUserError:
		return Response{Speech: e.msg.T("USER_ERROR"), Reprompt: e.msg.T("REPROMPT")}
	}
	return e.fallback(tc)
}

func (e *Engine) answer(tc *turnCtx) Response {
	yes := tc.turn.Intent == IntentYes
	switch tc.st.Phase {
	case session.PhaseAwaitSetup:
		if yes {
			return e.setupCurrent(tc)
		}
		return e.postponeSetup(tc)
	case session.PhaseAwaitConfirmation:
		if tc.st.Counters.Intakes >= len(tc.st.IntervalIntakes) {
			tc.st.ResetConfirmation()
			return e.fallback(tc)
		}
		if yes {
			return e.confirmIntake(tc)
		}
		return e.declineIntake(tc)
	}
	return e.fallback(tc)
}

func (e *Engine) fallback(tc *turnCtx) Response {
	if tc.st.Phase != session.PhaseIdle {
		return Response{Speech: e.msg.T("YES_NO_REPROMPT"), Reprompt: e.msg.T("YES_NO_REPROMPT"), ExpectAnswer: true}
	}
	return Response{Speech: e.msg.T("FALLBACK"), Reprompt: e.msg.T("REPROMPT")}
}

func (e *Engine) askSecurityCode() Response {
	return Response{Speech: e.msg.T("ASK_SECURITY_CODE"), Reprompt: e.msg.T("ASK_SECURITY_CODE")}
}

// fail turns an error into a spoken response. Authentication errors drop
// the token and ask for a new security code.
func (e *Engine) fail(tc *turnCtx, err error, msg string) Response {
	if errors.Is(err, backend.ErrUnauthorized) || errors.Is(err, auth.ErrExpiredToken) {
		tc.logger.Info().Err(err).Msg("authentication required")
		tc.st.AccessToken = ""
		return e.askSecurityCode()
	}
	tc.logger.Error().Err(err).Msg(msg)
	return Response{Speech: e.msg.T("GENERIC_ERROR")}
}

// refreshTherapies syncs when the session has no therapy cache yet.
func (e *Engine) refreshTherapies(tc *turnCtx) error {
	if len(tc.st.AllTherapies) > 0 {
		return nil
	}
	res, err := e.syncer.Sync(tc.ctx, tc.st.AccessToken, tc.now, tc.st.Reminders)
	if err != nil {
		return err
	}
	tc.st.AllTherapies = res.All
	tc.st.TherapiesStale = res.Pending()
	return nil
}

func (e *Engine) formatClock(t time.Time) string {
	return t.In(e.loc).Format("15:04")
}
