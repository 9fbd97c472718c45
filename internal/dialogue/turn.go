package dialogue

// Intent is what the user asked for, already resolved by the front-end.
type Intent string

const (
	IntentLaunch               Intent = "Launch"
	IntentSecurityCode         Intent = "SecurityCode"
	IntentLoadTherapies        Intent = "LoadTherapies"
	IntentSetupTherapy         Intent = "SetupTherapy"
	IntentConfirmIntake        Intent = "ConfirmIntake"
	IntentWhichMedicine        Intent = "WhichMedicine"
	IntentYes                  Intent = "Yes"
	IntentNo                   Intent = "No"
	IntentWhichMedicineToday   Intent = "WhichMedicineToday"
	IntentMissedIntakes        Intent = "MissedIntakes"
	IntentLastIntake           Intent = "LastIntake"
	IntentAdherence            Intent = "Adherence"
	IntentDeleteSessionData    Intent = "DeleteSessionData"
	IntentEnableNotifications  Intent = "EnableNotifications"
	IntentDisableNotifications Intent = "DisableNotifications"
	IntentUserError            Intent = "UserError"
	IntentHelp                 Intent = "Help"
	IntentStop                 Intent = "Stop"
	IntentFallback             Intent = "Fallback"
	IntentSessionEnded         Intent = "SessionEnded"
)

// SlotOTP is the slot carrying the security code of IntentSecurityCode.
const SlotOTP = "otp"

var knownIntents = map[Intent]bool{
	IntentLaunch: true, IntentSecurityCode: true, IntentLoadTherapies: true,
	IntentSetupTherapy: true, IntentConfirmIntake: true, IntentWhichMedicine: true,
	IntentYes: true, IntentNo: true, IntentWhichMedicineToday: true,
	IntentMissedIntakes: true, IntentLastIntake: true, IntentAdherence: true,
	IntentDeleteSessionData: true, IntentEnableNotifications: true,
	IntentDisableNotifications: true, IntentUserError: true, IntentHelp: true,
	IntentStop: true, IntentFallback: true, IntentSessionEnded: true,
}

// ParseIntent maps a front-end intent name to an Intent, falling back to
// IntentFallback.
func ParseIntent(name string) Intent {
	if knownIntents[Intent(name)] {
		return Intent(name)
	}
	return IntentFallback
}

// Turn is one user request.
type Turn struct {
	SessionID  string
	Intent     Intent
	Slots      map[string]string
	NewSession bool

	// DeviceID identifies the front-end device for push notifications.
	DeviceID string
	// ReminderAPIToken is the per-request reminder service token, when the
	// front-end provides one.
	ReminderAPIToken string
}

// Response is what the assistant says back.
type Response struct {
	Speech     string
	Reprompt   string
	EndSession bool
	// ExpectAnswer is set when the speech is a yes/no question.
	ExpectAnswer bool
}
