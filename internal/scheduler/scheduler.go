// Package scheduler periodically looks for sessions whose therapies changed
// on the backend and nudges their users to run the setup walk.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/DoseLine/internal/backend"
	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/session"
	"github.com/hray3182/DoseLine/internal/timeutil"
)

// PendingChecker reports whether a session has therapies to set up.
type PendingChecker interface {
	Pending(ctx context.Context, token string, now time.Time, records []models.ReminderRecord) (bool, error)
}

// Notifier delivers a message to the user behind a session. It reports
// false for sessions it cannot reach.
type Notifier interface {
	NotifySession(ctx context.Context, sessionID, text string) (bool, error)
}

type Scheduler struct {
	store         session.Store
	checker       PendingChecker
	notifier      Notifier
	text          func() string
	now           timeutil.Clock
	checkInterval time.Duration
	notifyCh      chan struct{}
	logger        zerolog.Logger
}

// New builds a watcher. text renders the nudge sent to a stale session.
func New(
	store session.Store,
	checker PendingChecker,
	notifier Notifier,
	text func() string,
	interval time.Duration,
	logger zerolog.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Scheduler{
		store:         store,
		checker:       checker,
		notifier:      notifier,
		text:          text,
		now:           timeutil.SystemClock(),
		checkInterval: interval,
		notifyCh:      make(chan struct{}, 1),
		logger:        logger.With().Str("component", "scheduler").Logger(),
	}
}

// Notify triggers an immediate check. Non-blocking if a check is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.checkInterval).Msg("scheduler started")
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.Check(ctx)
		case <-s.notifyCh:
			s.logger.Debug().Msg("scheduler triggered by notification")
			s.Check(ctx)
		}
	}
}

// Check visits every stored session once and returns how many were nudged.
func (s *Scheduler) Check(ctx context.Context) int {
	ids, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list sessions")
		return 0
	}
	nudged := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if s.checkSession(ctx, id) {
			nudged++
		}
	}
	return nudged
}

// checkSession flags a session whose therapies need setup and notifies its
// user. Sessions already flagged are left alone, so each change is
// announced once.
func (s *Scheduler) checkSession(ctx context.Context, id string) bool {
	logger := s.logger.With().Str("session_id", id).Logger()

	st, err := s.store.Get(ctx, id)
	if err != nil || st == nil {
		if err != nil {
			logger.Warn().Err(err).Msg("failed to read session")
		}
		return false
	}
	if !st.Authenticated() || st.TherapiesStale || st.Phase != session.PhaseIdle {
		return false
	}

	pending, err := s.checker.Pending(ctx, st.AccessToken, s.now(), st.Reminders)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			logger.Debug().Msg("access token no longer valid")
		} else {
			logger.Warn().Err(err).Msg("staleness check failed")
		}
		return false
	}
	if !pending {
		return false
	}

	st.TherapiesStale = true
	if err := s.store.Update(ctx, st); err != nil {
		// A turn saved the session meanwhile; the next check sees it.
		logger.Debug().Err(err).Msg("failed to flag session")
		return false
	}

	sent, err := s.notifier.NotifySession(ctx, id, s.text())
	if err != nil {
		logger.Warn().Err(err).Msg("failed to notify session")
		return false
	}
	if sent {
		logger.Info().Msg("stale therapies announced")
	}
	return sent
}
