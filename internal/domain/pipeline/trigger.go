package pipeline

// Trigger represents an event that can cause a step state transition
type Trigger string

const (
	// TriggerUnlock makes a locked step the current actionable one.
	TriggerUnlock Trigger = "UNLOCK"

	// TriggerComplete finishes the current step.
	TriggerComplete Trigger = "COMPLETE"

	// TriggerRelock sends an unlocked step back to locked; fired on the
	// current step during a return.
	TriggerRelock Trigger = "RELOCK"

	// TriggerRewind reactivates a completed step; fired on the previous
	// step during a return and on the last step during a task reopen.
	TriggerRewind Trigger = "REWIND"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
