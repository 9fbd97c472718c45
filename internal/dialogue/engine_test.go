package dialogue

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hray3182/DoseLine/internal/backend"
	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/session"
	"github.com/hray3182/DoseLine/internal/timeutil"
)

// Monday.
var today = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

const farEnd = "2024-06-30T23:00:00.000Z"

func therapyAt(id, drug string, flag models.EditFlag, times ...time.Time) models.Therapy {
	t := models.Therapy{
		ID:       id,
		DrugName: drug,
		Posology: "1 compressa",
		EndDate:  farEnd,
		State:    true,
		EditFlag: flag,
	}
	for i, at := range times {
		t.Intakes = append(t.Intakes, models.Intake{
			ID:             fmt.Sprintf("%s-i%d", id, i),
			TherapyID:      id,
			Drug:           drug,
			Posology:       "1 compressa",
			ProgrammedDate: timeutil.FormatWire(at),
			MaxDelay:       30,
			Status:         models.IntakeProgrammed,
		})
	}
	return t
}

func TestUnauthenticatedTurnAsksForCode(t *testing.T) {
	h := newHarness(t, today.Add(9*time.Hour))

	resp := h.say("s1", IntentConfirmIntake)
	if !strings.Contains(resp.Speech, "codice di sicurezza") {
		t.Errorf("Speech = %q", resp.Speech)
	}
	if h.backend.fetches != 0 {
		t.Errorf("backend fetched %d times without a token", h.backend.fetches)
	}
}

func TestSecurityCode(t *testing.T) {
	h := newHarness(t, today.Add(9*time.Hour))
	ctx := context.Background()

	resp := h.engine.Handle(ctx, Turn{SessionID: "s1", Intent: IntentSecurityCode, Slots: map[string]string{SlotOTP: "000000"}, NewSession: true})
	if !strings.Contains(resp.Speech, "non è valido") {
		t.Errorf("bad code Speech = %q", resp.Speech)
	}
	if h.state(t, "s1").Authenticated() {
		t.Fatal("authenticated with a bad code")
	}

	resp = h.engine.Handle(ctx, Turn{SessionID: "s1", Intent: IntentSecurityCode, Slots: map[string]string{SlotOTP: "123456"}, DeviceID: "dev-1"})
	if !strings.HasPrefix(resp.Speech, "Ciao Anna") {
		t.Errorf("Speech = %q", resp.Speech)
	}
	st := h.state(t, "s1")
	if st.AccessToken != "tok" || st.NotificationID != "notif-dev-1" {
		t.Errorf("state = %+v", st)
	}
}

func TestSetupWalkCompletesAfterNPlusMTurns(t *testing.T) {
	tomorrow9 := today.AddDate(0, 0, 1).Add(9 * time.Hour)
	h := newHarness(t, today.Add(9*time.Hour),
		therapyAt("n1", "Aspirina", models.EditNew, tomorrow9),
		therapyAt("n2", "Eutirox", models.EditNew, tomorrow9.Add(-2*time.Hour)),
		therapyAt("u1", "Cardioaspirin", models.EditUpdated, tomorrow9.Add(11*time.Hour)),
		therapyAt("s1", "Lasix", models.EditSaved, tomorrow9),
	)
	h.login(t, "sess", []models.ReminderRecord{{TherapyID: "s1", AlertToken: "x", ConfirmationToken: "y"}})

	resp := h.say("sess", IntentLoadTherapies)
	if !strings.HasPrefix(resp.Speech, "Ci sono 3 terapie da configurare.") || !resp.ExpectAnswer {
		t.Fatalf("LoadTherapies = %+v", resp)
	}
	if st := h.state(t, "sess"); st.Phase != session.PhaseAwaitSetup {
		t.Fatalf("phase = %s", st.Phase)
	}

	for i := 1; i <= 3; i++ {
		resp = h.say("sess", IntentYes)
		st := h.state(t, "sess")
		if i < 3 {
			if st.Phase != session.PhaseAwaitSetup || !resp.ExpectAnswer {
				t.Fatalf("turn %d: phase %s, resp %+v", i, st.Phase, resp)
			}
			continue
		}
		if st.Phase != session.PhaseIdle {
			t.Errorf("phase after walk = %s", st.Phase)
		}
		if st.Counters != (models.DialogueCounters{}) {
			t.Errorf("counters after walk = %+v", st.Counters)
		}
		if !strings.Contains(resp.Speech, "Tutti i promemoria sono configurati.") {
			t.Errorf("final Speech = %q", resp.Speech)
		}
		if len(st.Reminders) != 4 {
			t.Errorf("reminder records = %d, want 3 new plus the saved one", len(st.Reminders))
		}
		if st.TherapiesStale {
			t.Error("therapies still stale after the walk")
		}
	}

	want := []string{"n1=saved", "n2=saved", "u1=saved"}
	if !reflect.DeepEqual(h.backend.therapyPatches, want) {
		t.Errorf("therapy patches = %v, want %v", h.backend.therapyPatches, want)
	}
	if len(h.svc.alerts) != 6 {
		t.Errorf("live reminders = %d, want 6", len(h.svc.alerts))
	}
}

func TestSetupPostponed(t *testing.T) {
	h := newHarness(t, today.Add(9*time.Hour),
		therapyAt("n1", "Aspirina", models.EditNew, today.Add(20*time.Hour)))
	h.login(t, "sess", nil)

	h.say("sess", IntentLoadTherapies)
	resp := h.say("sess", IntentNo)
	st := h.state(t, "sess")
	if st.Phase != session.PhaseIdle || st.Counters != (models.DialogueCounters{}) {
		t.Errorf("state after No = %s %+v", st.Phase, st.Counters)
	}
	if !strings.Contains(resp.Speech, "un'altra volta") {
		t.Errorf("Speech = %q", resp.Speech)
	}
	if len(h.svc.alerts) != 0 {
		t.Errorf("reminders created on No: %d", len(h.svc.alerts))
	}
}

// registered returns a harness whose session already has live reminders
// for th.
func registered(t *testing.T, now time.Time, th models.Therapy) *harness {
	t.Helper()
	h := newHarness(t, today.Add(7*time.Hour), th)
	records, err := h.manager.Register(context.Background(), th)
	if err != nil {
		t.Fatal(err)
	}
	h.clock.t = now
	h.login(t, "sess", records)
	return h
}

func TestEarlyConfirmation(t *testing.T) {
	th := therapyAt("t1", "Aspirina-100mg", models.EditSaved, today.Add(14*time.Hour))
	h := registered(t, today.Add(13*time.Hour+50*time.Minute), th)
	before := h.state(t, "sess").Reminders[0]

	resp := h.say("sess", IntentConfirmIntake)
	if !resp.ExpectAnswer || !strings.Contains(resp.Speech, "Hai preso Aspirina, 1 compressa, delle 14:00?") {
		t.Fatalf("ConfirmIntake = %+v", resp)
	}

	resp = h.say("sess", IntentYes)
	if !strings.HasPrefix(resp.Speech, "Perfetto, ho segnato Aspirina.") {
		t.Errorf("Yes Speech = %q", resp.Speech)
	}

	want := []intakePatch{{"t1-i0", models.IntakeTaken, -10}}
	if !reflect.DeepEqual(h.backend.intakePatches, want) {
		t.Errorf("intake patches = %+v", h.backend.intakePatches)
	}

	st := h.state(t, "sess")
	after := st.Reminders[0]
	if after.AlertToken == before.AlertToken || after.ConfirmationToken == before.ConfirmationToken {
		t.Errorf("reminders not rescheduled: before %+v after %+v", before, after)
	}
	wantStart := timeutil.FormatReminderLocal(h.clock.t.Add(12*time.Hour), time.UTC)
	if got := h.svc.alerts[after.AlertToken].Trigger.Recurrence.StartDateTime; got != wantStart {
		t.Errorf("alert start = %q, want %q", got, wantStart)
	}
	if st.Phase != session.PhaseIdle || st.Counters.Intakes != 0 || st.IntervalIntakes != nil {
		t.Errorf("round not reset: %s %+v", st.Phase, st.Counters)
	}
	if st.LastIntake == nil || st.LastIntake.Drug != "Aspirina" {
		t.Errorf("LastIntake = %+v", st.LastIntake)
	}
}

func TestConfirmationWithoutMatchingReminderStillRecordsIntake(t *testing.T) {
	old := therapyAt("t1", "Aspirina", models.EditSaved, today.Add(8*time.Hour), today.Add(20*time.Hour))
	// The backend added a 14:00 dose the registered reminders know nothing about.
	current := therapyAt("t1", "Aspirina", models.EditSaved, today.Add(8*time.Hour), today.Add(14*time.Hour), today.Add(20*time.Hour))
	h := newHarness(t, today.Add(7*time.Hour), current)
	records, err := h.manager.Register(context.Background(), old)
	if err != nil {
		t.Fatal(err)
	}
	h.clock.t = today.Add(13*time.Hour + 50*time.Minute)
	h.login(t, "sess", records)

	h.say("sess", IntentConfirmIntake)
	resp := h.say("sess", IntentYes)
	if !strings.HasPrefix(resp.Speech, "Perfetto, ho segnato Aspirina.") {
		t.Errorf("Yes Speech = %q", resp.Speech)
	}

	want := []intakePatch{{"t1-i1", models.IntakeTaken, -10}}
	if !reflect.DeepEqual(h.backend.intakePatches, want) {
		t.Errorf("intake patches = %+v, want %+v", h.backend.intakePatches, want)
	}
	got := h.state(t, "sess").Reminders
	if len(got) != len(records) {
		t.Fatalf("reminders = %+v", got)
	}
	for i := range got {
		if got[i].AlertToken != records[i].AlertToken || got[i].ConfirmationToken != records[i].ConfirmationToken {
			t.Errorf("record %d changed on an unmatched confirmation: %+v", i, got[i])
		}
	}
	if len(h.svc.alerts) != 4 {
		t.Errorf("live reminders = %d, want 4", len(h.svc.alerts))
	}
}

func TestLateConfirmationKeepsAlert(t *testing.T) {
	th := therapyAt("t1", "Aspirina", models.EditSaved, today.Add(14*time.Hour))
	h := registered(t, today.Add(14*time.Hour+5*time.Minute), th)
	before := h.state(t, "sess").Reminders[0]

	h.say("sess", IntentConfirmIntake)
	h.say("sess", IntentYes)

	after := h.state(t, "sess").Reminders[0]
	if after.AlertToken != before.AlertToken {
		t.Error("alert rescheduled on a late confirmation")
	}
	if after.ConfirmationToken == before.ConfirmationToken {
		t.Error("confirmation not rescheduled with delay 5 of 30")
	}
	if got := h.backend.intakePatches[0].delay; got != 5 {
		t.Errorf("delay = %d, want 5", got)
	}
}

func TestDeclineWalk(t *testing.T) {
	h := newHarness(t, today.Add(8*time.Hour),
		therapyAt("a", "Aspirina", models.EditSaved, today.Add(8*time.Hour)),
		therapyAt("b", "Eutirox", models.EditSaved, today.Add(8*time.Hour+10*time.Minute)),
	)
	h.login(t, "sess", []models.ReminderRecord{
		{TherapyID: "a", AlertToken: "a1", ConfirmationToken: "a2"},
		{TherapyID: "b", AlertToken: "b1", ConfirmationToken: "b2"},
	})

	resp := h.say("sess", IntentWhichMedicine)
	if !strings.Contains(resp.Speech, "Aspirina") {
		t.Fatalf("first question = %q", resp.Speech)
	}

	resp = h.say("sess", IntentNo)
	if !strings.HasPrefix(resp.Speech, "Va bene, non segno Aspirina. Hai preso Eutirox") {
		t.Errorf("second question = %q", resp.Speech)
	}
	if st := h.state(t, "sess"); st.Counters.Intakes != 1 {
		t.Errorf("count_intakes = %d", st.Counters.Intakes)
	}

	resp = h.say("sess", IntentNo)
	if !strings.HasPrefix(resp.Speech, "Va bene, non segno Eutirox. Ricordati") {
		t.Errorf("last No = %q", resp.Speech)
	}
	st := h.state(t, "sess")
	if st.Phase != session.PhaseIdle || st.Counters.Intakes != 0 || len(st.IntervalIntakes) != 0 {
		t.Errorf("round not reset: %s %+v", st.Phase, st.Counters)
	}
	if len(h.backend.intakePatches) != 0 {
		t.Errorf("declined intakes were patched: %+v", h.backend.intakePatches)
	}
}

func TestStaleTherapiesBlockConfirmation(t *testing.T) {
	h := newHarness(t, today.Add(8*time.Hour),
		therapyAt("n1", "Aspirina", models.EditNew, today.Add(8*time.Hour)))
	h.login(t, "sess", nil)

	resp := h.say("sess", IntentConfirmIntake)
	if !strings.HasPrefix(resp.Speech, "Le tue terapie sono cambiate") {
		t.Errorf("Speech = %q", resp.Speech)
	}
	if !h.state(t, "sess").TherapiesStale {
		t.Error("staleness flag not stored")
	}
}

func TestNoPendingIntake(t *testing.T) {
	h := newHarness(t, today.Add(10*time.Hour),
		therapyAt("a", "Aspirina", models.EditSaved, today.Add(8*time.Hour)))
	h.login(t, "sess", []models.ReminderRecord{{TherapyID: "a", AlertToken: "a1", ConfirmationToken: "a2"}})

	resp := h.say("sess", IntentConfirmIntake)
	if !strings.HasPrefix(resp.Speech, "Non ci sono medicine") {
		t.Errorf("Speech = %q", resp.Speech)
	}
	if st := h.state(t, "sess"); st.Phase != session.PhaseIdle {
		t.Errorf("phase = %s", st.Phase)
	}
}

func TestPatchIntakeFailureDoesNotAdvance(t *testing.T) {
	th := therapyAt("t1", "Aspirina", models.EditSaved, today.Add(14*time.Hour))
	h := registered(t, today.Add(14*time.Hour+20*time.Minute), th)
	h.backend.patchIntakeErr = &backend.FetchError{Op: "patch intake", Status: 502, Err: errors.New("bad gateway")}

	h.say("sess", IntentConfirmIntake)
	resp := h.say("sess", IntentYes)
	if !strings.HasPrefix(resp.Speech, "Mi dispiace") {
		t.Errorf("Speech = %q", resp.Speech)
	}
	st := h.state(t, "sess")
	if st.Phase != session.PhaseAwaitConfirmation || st.Counters.Intakes != 0 {
		t.Errorf("round advanced: %s %+v", st.Phase, st.Counters)
	}
}

func TestLoadTherapiesMovesOnToConfirmation(t *testing.T) {
	th := therapyAt("t1", "Aspirina", models.EditSaved, today.Add(14*time.Hour))
	h := registered(t, today.Add(13*time.Hour+50*time.Minute), th)

	resp := h.say("sess", IntentLoadTherapies)
	if !strings.HasPrefix(resp.Speech, "Non ci sono terapie da configurare.") ||
		!strings.Contains(resp.Speech, "Hai preso Aspirina, 1 compressa, delle 14:00?") || !resp.ExpectAnswer {
		t.Fatalf("LoadTherapies = %+v", resp)
	}
	if st := h.state(t, "sess"); st.Phase != session.PhaseAwaitConfirmation || len(st.IntervalIntakes) != 1 {
		t.Errorf("phase = %s, intakes = %d", st.Phase, len(st.IntervalIntakes))
	}

	h.clock.t = today.Add(9 * time.Hour)
	h.say("sess", IntentStop)
	resp = h.say("sess", IntentLoadTherapies)
	if resp.ExpectAnswer || !strings.HasSuffix(resp.Speech, "Non ci sono medicine da prendere in questo momento.") {
		t.Errorf("LoadTherapies with nothing due = %+v", resp)
	}
}

func TestUnauthorizedBackendDropsToken(t *testing.T) {
	h := newHarness(t, today.Add(9*time.Hour))
	h.backend.fetchErr = fmt.Errorf("fetch therapies: %w", backend.ErrUnauthorized)
	h.login(t, "sess", nil)

	resp := h.say("sess", IntentLoadTherapies)
	if !strings.Contains(resp.Speech, "codice di sicurezza") {
		t.Errorf("Speech = %q", resp.Speech)
	}
	if h.state(t, "sess").Authenticated() {
		t.Error("token kept after 401")
	}
}

func TestStopTrimsSession(t *testing.T) {
	th := therapyAt("t1", "Aspirina", models.EditSaved, today.Add(14*time.Hour))
	h := registered(t, today.Add(9*time.Hour), th)

	h.say("sess", IntentWhichMedicineToday)
	resp := h.say("sess", IntentStop)
	if !resp.EndSession {
		t.Error("Stop did not end the session")
	}

	st := h.state(t, "sess")
	if st.SessionCounter != 1 || st.Active || st.AllTherapies != nil {
		t.Errorf("state not trimmed: %+v", st)
	}
	if st.AccessToken != "tok" || len(st.Reminders) != 1 {
		t.Errorf("whitelisted fields lost: %+v", st)
	}
}

func TestWhichMedicineToday(t *testing.T) {
	h := newHarness(t, today.Add(12*time.Hour),
		therapyAt("a", "Aspirina", models.EditSaved, today.Add(8*time.Hour), today.Add(20*time.Hour)),
		therapyAt("b", "Eutirox", models.EditSaved, today.Add(18*time.Hour), today.AddDate(0, 0, 1).Add(8*time.Hour)),
	)
	h.login(t, "sess", []models.ReminderRecord{
		{TherapyID: "a", AlertToken: "a1", ConfirmationToken: "a2"},
		{TherapyID: "b", AlertToken: "b1", ConfirmationToken: "b2"},
	})

	resp := h.say("sess", IntentWhichMedicineToday)
	want := "Oggi devi ancora prendere: Eutirox alle 18:00 e Aspirina alle 20:00. Avresti già dovuto prendere: Aspirina alle 08:00."
	if resp.Speech != want {
		t.Errorf("Speech = %q\nwant %q", resp.Speech, want)
	}
}

func TestAdherenceBands(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{12, "12%. Cerca"},
		{55.4, "55%. Stai"},
		{80, "80%. Ottimo"},
	}
	for _, tt := range tests {
		h := newHarness(t, today.Add(9*time.Hour))
		h.backend.adherence = tt.pct
		h.login(t, "sess", nil)

		resp := h.say("sess", IntentAdherence)
		if !strings.Contains(resp.Speech, tt.want) {
			t.Errorf("adherence %.1f: Speech = %q", tt.pct, resp.Speech)
		}
	}
}

func TestDeleteSessionData(t *testing.T) {
	th := therapyAt("t1", "Aspirina", models.EditSaved, today.Add(14*time.Hour))
	h := registered(t, today.Add(9*time.Hour), th)
	st := h.state(t, "sess")
	st.NotificationID = "notif-1"
	st.SessionCounter = 4
	if err := h.store.Update(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	resp := h.say("sess", IntentDeleteSessionData)
	if !resp.EndSession {
		t.Error("delete did not end the session")
	}
	if len(h.svc.alerts) != 0 {
		t.Errorf("reminders left: %d", len(h.svc.alerts))
	}
	if !reflect.DeepEqual(h.backend.unregistered, []string{"notif-1"}) {
		t.Errorf("unregistered = %v", h.backend.unregistered)
	}
	got := h.state(t, "sess")
	if got.Authenticated() || len(got.Reminders) != 0 {
		t.Errorf("state not wiped: %+v", got)
	}
	if got.SessionCounter != 5 {
		t.Errorf("SessionCounter = %d, want 5", got.SessionCounter)
	}
}

func TestConcurrentStaleFlagDoesNotUndoWipe(t *testing.T) {
	th := therapyAt("t1", "Aspirina", models.EditSaved, today.Add(14*time.Hour))
	h := registered(t, today.Add(9*time.Hour), th)
	store := &racingStore{MemoryStore: h.store, armed: true}
	h.useStore(store)

	h.say("sess", IntentDeleteSessionData)

	if len(h.svc.alerts) != 0 {
		t.Errorf("reminders left: %d", len(h.svc.alerts))
	}
	st := h.state(t, "sess")
	if st.Authenticated() || len(st.Reminders) != 0 || st.TherapiesStale {
		t.Errorf("stored state = %+v, want wiped", st)
	}
}

func TestConcurrentStaleFlagKeepsRescheduledTokens(t *testing.T) {
	th := therapyAt("t1", "Aspirina", models.EditSaved, today.Add(14*time.Hour))
	h := registered(t, today.Add(13*time.Hour+50*time.Minute), th)
	before := h.state(t, "sess").Reminders[0]
	store := &racingStore{MemoryStore: h.store}
	h.useStore(store)

	h.say("sess", IntentConfirmIntake)
	store.armed = true
	h.say("sess", IntentYes)

	st := h.state(t, "sess")
	if len(st.Reminders) != 1 {
		t.Fatalf("reminders = %+v", st.Reminders)
	}
	after := st.Reminders[0]
	if after.AlertToken == before.AlertToken || after.ConfirmationToken == before.ConfirmationToken {
		t.Errorf("stored index lost the rescheduled tokens: %+v", after)
	}
	for _, tok := range []string{after.AlertToken, after.ConfirmationToken} {
		if _, ok := h.svc.alerts[tok]; !ok {
			t.Errorf("stored token %s is not live", tok)
		}
	}
	if !st.TherapiesStale {
		t.Error("stale flag set during the turn was dropped")
	}
	if st.LastIntake == nil {
		t.Error("turn state not saved")
	}
}

func TestSecurityCodeNameFromToken(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "patient-1", "name": "Marco"}).
		SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, today.Add(9*time.Hour))
	h.backend.otpSession = &backend.Session{AccessToken: tok}

	resp := h.engine.Handle(context.Background(), Turn{SessionID: "s1", Intent: IntentSecurityCode, Slots: map[string]string{SlotOTP: "123456"}, NewSession: true})
	if !strings.HasPrefix(resp.Speech, "Ciao Marco") {
		t.Errorf("Speech = %q", resp.Speech)
	}
	if got := h.state(t, "s1").UserName; got != "Marco" {
		t.Errorf("UserName = %q", got)
	}
}

func TestAuditTrail(t *testing.T) {
	h := newHarness(t, today.Add(9*time.Hour))
	h.login(t, "sess", nil)

	h.say("sess", IntentHelp)
	h.say("sess", IntentLastIntake)
	if want := []string{"Help", "LastIntake"}; !reflect.DeepEqual(h.backend.audits, want) {
		t.Errorf("audits = %v, want %v", h.backend.audits, want)
	}
}

func TestIntervalIntakes(t *testing.T) {
	slot := today.Add(14 * time.Hour)
	now := slot.Add(30 * time.Second)
	therapies := []models.Therapy{
		therapyAt("a", "Aspirina", models.EditSaved,
			slot.Add(-31*time.Minute),
			slot.Add(-30*time.Minute),
			slot.Add(30*time.Minute),
			slot.Add(31*time.Minute),
		),
		therapyAt("b", "Eutirox", models.EditSaved, slot.Add(-5*time.Minute)),
	}
	therapies[1].Intakes[0].Status = models.IntakeTaken
	stopped := therapyAt("c", "Lasix", models.EditSaved, slot)
	stopped.State = false
	therapies = append(therapies, stopped)

	got := IntervalIntakes(therapies, now, time.UTC)
	var ids []string
	for _, it := range got {
		ids = append(ids, it.Intake.ID)
	}
	if want := []string{"a-i1", "a-i2"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("interval intakes = %v, want %v", ids, want)
	}
	if len(got) > 0 && got[0].TimeSlot != therapies[0].Intakes[1].ProgrammedDate {
		t.Errorf("TimeSlot = %q", got[0].TimeSlot)
	}
}
