package messages

import (
	"strings"
	"testing"

	"github.com/hray3182/DoseLine/internal/models"
)

func TestItalianCatalog(t *testing.T) {
	c, err := Italian(First)
	if err != nil {
		t.Fatalf("Italian error: %v", err)
	}

	for _, key := range []string{
		"WELCOME", "ASK_SECURITY_CODE", "REMINDERS_COMPLETED", "ASK_INTAKE",
		"TAKEN_CONFIRMATION_ANS_MSG", "NO_PENDING_INTAKE", "GENERIC_ERROR",
		"ADHERENCE_LOW", "ADHERENCE_MID", "ADHERENCE_HIGH",
	} {
		if !c.Has(key) {
			t.Errorf("missing key %s", key)
		}
	}

	if got := c.T("WELCOME", "Anna"); !strings.HasPrefix(got, "Ciao Anna, bentornato") {
		t.Errorf("WELCOME = %q", got)
	}
	if got := c.T("ADHERENCE_HIGH", 92); !strings.Contains(got, "92%") {
		t.Errorf("ADHERENCE_HIGH = %q", got)
	}
	if got := c.T("NOT_A_KEY"); got != "NOT_A_KEY" {
		t.Errorf("unknown key = %q", got)
	}
}

func TestPickerChoosesVariant(t *testing.T) {
	c, err := Load([]byte("GREET:\n  - uno\n  - due\nSINGLE: solo\n"), func(n int) int { return n - 1 })
	if err != nil {
		t.Fatal(err)
	}
	if got := c.T("GREET"); got != "due" {
		t.Errorf("GREET = %q", got)
	}
	if got := c.T("SINGLE"); got != "solo" {
		t.Errorf("SINGLE = %q", got)
	}
}

func TestLoadRejectsMaps(t *testing.T) {
	if _, err := Load([]byte("BAD:\n  nested: value\n"), First); err == nil {
		t.Error("expected error for nested map")
	}
}

func TestReminderTexts(t *testing.T) {
	c, _ := Italian(First)
	th := models.Therapy{DrugName: "Aspirina-100mg", Posology: "1 compressa"}

	if got := c.AlertText(th); got != "È ora di prendere Aspirina, 1 compressa" {
		t.Errorf("AlertText = %q", got)
	}
	th.Posology = ""
	if got := c.AlertText(th); got != "È ora di prendere Aspirina" {
		t.Errorf("AlertText without posology = %q", got)
	}
	if got := c.ConfirmationText(th); !strings.HasPrefix(got, "Hai preso Aspirina?") {
		t.Errorf("ConfirmationText = %q", got)
	}
}

func TestList(t *testing.T) {
	tests := map[string][]string{
		"":         nil,
		"a":        {"a"},
		"a e b":    {"a", "b"},
		"a, b e c": {"a", "b", "c"},
	}
	for want, in := range tests {
		if got := List(in); got != want {
			t.Errorf("List(%v) = %q, want %q", in, got, want)
		}
	}
}
