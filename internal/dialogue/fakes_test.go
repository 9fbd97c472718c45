package dialogue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/DoseLine/internal/backend"
	"github.com/hray3182/DoseLine/internal/lifecycle"
	"github.com/hray3182/DoseLine/internal/messages"
	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/reminders"
	"github.com/hray3182/DoseLine/internal/session"
	"github.com/hray3182/DoseLine/internal/therapy"
)

type intakePatch struct {
	id     string
	status models.IntakeStatus
	delay  int
}

type fakeBackend struct {
	mu             sync.Mutex
	therapies      []models.Therapy
	fetchErr       error
	patchIntakeErr error
	fetches        int
	intakePatches  []intakePatch
	therapyPatches []string
	audits         []string
	adherence      float64
	registered     []string
	unregistered   []string
	otpSession     *backend.Session
}

func (b *fakeBackend) FetchTherapies(ctx context.Context, token string, start, end time.Time) ([]models.Therapy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return append([]models.Therapy(nil), b.therapies...), nil
}

func (b *fakeBackend) PatchTherapy(ctx context.Context, token, therapyID string, flag models.EditFlag) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.therapyPatches = append(b.therapyPatches, therapyID+"="+string(flag))
	for i := range b.therapies {
		if b.therapies[i].ID == therapyID {
			b.therapies[i] = b.therapies[i].WithEditFlag(flag)
		}
	}
	return nil
}

func (b *fakeBackend) PatchIntake(ctx context.Context, token, intakeID string, status models.IntakeStatus, delay int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.patchIntakeErr != nil {
		return b.patchIntakeErr
	}
	b.intakePatches = append(b.intakePatches, intakePatch{intakeID, status, delay})
	for i := range b.therapies {
		if updated, ok := b.therapies[i].WithIntakeStatus(intakeID, status); ok {
			b.therapies[i] = updated
		}
	}
	return nil
}

func (b *fakeBackend) ExchangeOTP(ctx context.Context, otp string) (*backend.Session, error) {
	if otp != "123456" {
		return nil, fmt.Errorf("exchange otp: %w", backend.ErrUnauthorized)
	}
	if b.otpSession != nil {
		return b.otpSession, nil
	}
	return &backend.Session{AccessToken: "tok", UserName: "Anna"}, nil
}

func (b *fakeBackend) PostAdherence(ctx context.Context, token string) (float64, error) {
	return b.adherence, nil
}

func (b *fakeBackend) PostAuditLog(ctx context.Context, token, event string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audits = append(b.audits, event)
	return nil
}

func (b *fakeBackend) RegisterDevice(ctx context.Context, token, deviceID string) (string, error) {
	b.registered = append(b.registered, deviceID)
	return "notif-" + deviceID, nil
}

func (b *fakeBackend) UnregisterDevice(ctx context.Context, token, id string) error {
	b.unregistered = append(b.unregistered, id)
	return nil
}

type fakeReminders struct {
	mu     sync.Mutex
	alerts map[string]reminders.Alert
	order  []string
	seq    int
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{alerts: make(map[string]reminders.Alert)}
}

func (f *fakeReminders) Create(ctx context.Context, a reminders.Alert) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	tok := fmt.Sprintf("rem-%d", f.seq)
	a.AlertToken = tok
	f.alerts[tok] = a
	f.order = append(f.order, tok)
	return tok, nil
}

func (f *fakeReminders) Delete(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.alerts[token]; !ok {
		return reminders.ErrNotFound
	}
	delete(f.alerts, token)
	for i, t := range f.order {
		if t == token {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeReminders) Get(ctx context.Context, token string) (*reminders.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[token]
	if !ok {
		return nil, reminders.ErrNotFound
	}
	return &a, nil
}

func (f *fakeReminders) List(ctx context.Context) ([]reminders.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]reminders.Alert, 0, len(f.order))
	for _, tok := range f.order {
		out = append(out, f.alerts[tok])
	}
	return out, nil
}

// racingStore flags the session stale right before the next update once
// armed, the way the staleness watcher does between a turn's load and save.
type racingStore struct {
	*session.MemoryStore
	armed bool
}

func (s *racingStore) Update(ctx context.Context, st *session.State) error {
	if s.armed {
		s.armed = false
		cur, err := s.MemoryStore.Get(ctx, st.ID)
		if err != nil {
			return err
		}
		cur.TherapiesStale = true
		if err := s.MemoryStore.Update(ctx, cur); err != nil {
			return err
		}
	}
	return s.MemoryStore.Update(ctx, st)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type harness struct {
	engine  *Engine
	store   *session.MemoryStore
	backend *fakeBackend
	svc     *fakeReminders
	manager *lifecycle.Manager
	syncer  *therapy.Syncer
	msg     *messages.Catalog
	clock   *clock
}

func newHarness(t *testing.T, now time.Time, therapies ...models.Therapy) *harness {
	t.Helper()
	msg, err := messages.Italian(messages.First)
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	h := &harness{
		store:   session.NewMemoryStore(),
		backend: &fakeBackend{therapies: therapies},
		svc:     newFakeReminders(),
		clock:   &clock{t: now},
	}
	h.manager = lifecycle.NewManager(h.svc, h.backend, lifecycle.Options{
		Location: time.UTC,
		Texts:    msg,
		Clock:    h.clock.now,
	}, zerolog.Nop())
	h.syncer = therapy.NewSyncer(h.backend, time.UTC, zerolog.Nop())
	h.msg = msg
	h.useStore(h.store)
	return h
}

// useStore rebuilds the engine on top of store.
func (h *harness) useStore(store session.Store) {
	h.engine = NewEngine(store, h.backend, h.syncer, h.manager, h.msg, Options{
		Location: time.UTC,
		Clock:    h.clock.now,
	}, zerolog.Nop())
}

// login stores an authenticated, active session.
func (h *harness) login(t *testing.T, id string, records []models.ReminderRecord) {
	t.Helper()
	st := &session.State{
		ID:          id,
		Phase:       session.PhaseIdle,
		AccessToken: "tok",
		UserName:    "Anna",
		Reminders:   records,
		Active:      true,
	}
	if err := h.store.Create(context.Background(), st); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) say(id string, intent Intent) Response {
	return h.engine.Handle(context.Background(), Turn{SessionID: id, Intent: intent})
}

func (h *harness) state(t *testing.T, id string) *session.State {
	t.Helper()
	st, err := h.store.Get(context.Background(), id)
	if err != nil || st == nil {
		t.Fatalf("failed to read session %s: %v", id, err)
	}
	return st
}
