package handlers

import (
	"strings"
	"unicode"

	"github.com/hray3182/DoseLine/internal/dialogue"
)

const helpText = `Comandi disponibili:
/start - inizia
/code <codice> - accedi con il codice di sicurezza dell'app
/therapies - carica le terapie e configura i promemoria
/confirm - segna le medicine prese
/today - medicine di oggi
/missed - medicine saltate oggi
/last - ultima medicina presa
/adherence - aderenza alla terapia
/notify on|off - attiva o disattiva le notifiche
/reset - cancella promemoria e dati
/help - aiuto
/stop - termina la conversazione`

var commandIntents = map[string]dialogue.Intent{
	"start":     dialogue.IntentLaunch,
	"code":      dialogue.IntentSecurityCode,
	"therapies": dialogue.IntentLoadTherapies,
	"confirm":   dialogue.IntentConfirmIntake,
	"today":     dialogue.IntentWhichMedicineToday,
	"missed":    dialogue.IntentMissedIntakes,
	"last":      dialogue.IntentLastIntake,
	"adherence": dialogue.IntentAdherence,
	"reset":     dialogue.IntentDeleteSessionData,
	"help":      dialogue.IntentHelp,
	"stop":      dialogue.IntentStop,
}

// CommandTurn maps a bot command to a dialogue turn. Unknown commands
// report false.
func CommandTurn(command, args string) (dialogue.Turn, bool) {
	args = strings.TrimSpace(args)
	if command == "notify" {
		switch strings.ToLower(args) {
		case "on", "si", "sì":
			return dialogue.Turn{Intent: dialogue.IntentEnableNotifications}, true
		case "off", "no":
			return dialogue.Turn{Intent: dialogue.IntentDisableNotifications}, true
		}
		return dialogue.Turn{}, false
	}

	intent, ok := commandIntents[command]
	if !ok {
		return dialogue.Turn{}, false
	}
	turn := dialogue.Turn{Intent: intent}
	switch intent {
	case dialogue.IntentLaunch:
		turn.NewSession = true
	case dialogue.IntentSecurityCode:
		turn.Slots = map[string]string{dialogue.SlotOTP: digits(args)}
	}
	return turn, true
}

var yesWords = map[string]bool{"sì": true, "si": true, "yes": true, "ok": true, "certo": true}

// TextTurn maps free text: yes/no words answer the pending question, a
// bare number is taken as a security code, anything else falls back.
func TextTurn(text string) dialogue.Turn {
	word := strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!?"))
	switch {
	case yesWords[word]:
		return dialogue.Turn{Intent: dialogue.IntentYes}
	case word == "no":
		return dialogue.Turn{Intent: dialogue.IntentNo}
	case word != "" && digits(word) == strings.ReplaceAll(word, " ", ""):
		return dialogue.Turn{Intent: dialogue.IntentSecurityCode, Slots: map[string]string{dialogue.SlotOTP: digits(word)}}
	}
	return dialogue.Turn{Intent: dialogue.IntentFallback}
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
