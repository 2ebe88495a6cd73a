package channel

// Quick-reply button IDs shared across providers. The orchestrator attaches
// them to replies; adapters render them natively and report taps back as
// button messages. buttonText maps each ID to the text command the tap is
// equivalent to, so a button click and a typed message follow the same path
// through the pipeline.
const (
	ButtonShowMore    = "show_more"
	ButtonSaveMemory  = "save_memory"
	ButtonSetReminder = "set_reminder"
	ButtonShowRelated = "show_related"
	ButtonConfirmYes  = "confirm_yes"
	ButtonConfirmNo   = "confirm_no"
)

var buttonText = map[string]string{
	ButtonShowMore:    "show more results",
	ButtonSaveMemory:  "save that as a memory",
	ButtonSetReminder: "set a reminder for that",
	ButtonShowRelated: "show related memories",
	ButtonConfirmYes:  "yes",
	ButtonConfirmNo:   "no",
}

// TextForButton resolves a button tap to its equivalent text command. Unknown
// IDs return ok=false; the pipeline treats those as a plain text message
// carrying the raw payload.
func TextForButton(buttonID string) (string, bool) {
	text, ok := buttonText[buttonID]
	return text, ok
}
