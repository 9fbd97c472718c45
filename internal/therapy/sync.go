// Package therapy reconciles the backend's therapy list with the reminders
// already registered for a session.
package therapy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/DoseLine/internal/lifecycle"
	"github.com/hray3182/DoseLine/internal/models"
)

const (
	lookBehind = 7 * 24 * time.Hour
	lookAhead  = 4 // months
)

// Fetcher is the part of the backend client the syncer needs.
type Fetcher interface {
	FetchTherapies(ctx context.Context, token string, start, end time.Time) ([]models.Therapy, error)
}

// Result is one classified snapshot of the therapy window.
// New, Updated, ToDelete and Unchanged partition All.
type Result struct {
	All       []models.Therapy
	New       []models.Therapy
	Updated   []models.Therapy
	ToDelete  []models.Therapy
	Unchanged []models.Therapy

	// MissedCarried are saved, active therapies that have no live reminder
	// pair in the session index and still have a dose to schedule. They are
	// a subset of Unchanged.
	MissedCarried []models.Therapy

	WindowStart time.Time
	WindowEnd   time.Time

	now time.Time
	loc *time.Location
}

// SetupQueue is the list of therapies whose reminders must be registered:
// new ones plus the carried-over missed ones, minus those already ended.
func (r *Result) SetupQueue() []models.Therapy {
	var out []models.Therapy
	for _, list := range [][]models.Therapy{r.New, r.MissedCarried} {
		for _, t := range list {
			if t.EndsAfter(r.now, r.loc) {
				out = append(out, t)
			}
		}
	}
	return out
}

// RetireQueue is the list of therapies whose reminders must be deleted and,
// for updated active ones, registered again.
func (r *Result) RetireQueue() []models.Therapy {
	out := make([]models.Therapy, 0, len(r.Updated)+len(r.ToDelete))
	out = append(out, r.Updated...)
	out = append(out, r.ToDelete...)
	return out
}

// Pending reports whether the snapshot holds any work for the setup walk.
func (r *Result) Pending() bool {
	return len(r.SetupQueue()) > 0 || len(r.RetireQueue()) > 0
}

// Syncer fetches and classifies therapies.
type Syncer struct {
	backend Fetcher
	loc     *time.Location
	logger  zerolog.Logger
}

func NewSyncer(backend Fetcher, loc *time.Location, logger zerolog.Logger) *Syncer {
	return &Syncer{
		backend: backend,
		loc:     loc,
		logger:  logger.With().Str("component", "therapy_sync").Logger(),
	}
}

// Window returns the fetch window around now: one week back, four months ahead.
func (s *Syncer) Window(now time.Time) (time.Time, time.Time) {
	local := now.In(s.loc)
	return local.Add(-lookBehind), local.AddDate(0, lookAhead, 0)
}

// Sync fetches the therapy window and classifies it against records, the
// session's reminder index. On error no partial result is returned.
func (s *Syncer) Sync(ctx context.Context, token string, now time.Time, records []models.ReminderRecord) (*Result, error) {
	start, end := s.Window(now)
	therapies, err := s.backend.FetchTherapies(ctx, token, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch therapies: %w", err)
	}

	res := Classify(therapies, records, now, s.loc)
	res.WindowStart, res.WindowEnd = start, end

	s.logger.Debug().
		Int("all", len(res.All)).
		Int("new", len(res.New)).
		Int("updated", len(res.Updated)).
		Int("todelete", len(res.ToDelete)).
		Int("missed", len(res.MissedCarried)).
		Msg("therapies synced")
	return res, nil
}

// Pending fetches the window and reports whether any therapy needs the
// setup walk. It drives the staleness flag checked on every turn.
func (s *Syncer) Pending(ctx context.Context, token string, now time.Time, records []models.ReminderRecord) (bool, error) {
	res, err := s.Sync(ctx, token, now, records)
	if err != nil {
		return false, err
	}
	return res.Pending(), nil
}

// Classify partitions therapies by edit flag and finds the active saved
// therapies that lost their reminders.
func Classify(therapies []models.Therapy, records []models.ReminderRecord, now time.Time, loc *time.Location) *Result {
	res := &Result{
		All: append([]models.Therapy(nil), therapies...),
		now: now,
		loc: loc,
	}
	for _, t := range therapies {
		switch {
		case t.EditFlag == models.EditNew && t.State:
			res.New = append(res.New, t)
		case t.EditFlag == models.EditUpdated:
			res.Updated = append(res.Updated, t)
		case t.EditFlag == models.EditToDelete:
			res.ToDelete = append(res.ToDelete, t)
		default:
			res.Unchanged = append(res.Unchanged, t)
			if t.EditFlag == models.EditSaved && t.State &&
				!models.HasCompleteRecord(records, t.ID) && lifecycle.Schedulable(t, now, loc) {
				res.MissedCarried = append(res.MissedCarried, t)
			}
		}
	}
	return res
}
