package pipeline

// State represents a pipeline step's lifecycle state
type State string

const (
	StateLocked    State = "locked"
	StateUnlocked  State = "unlocked"
	StateCompleted State = "completed"
)

var validStates = map[State]bool{
	StateLocked:    true,
	StateUnlocked:  true,
	StateCompleted: true,
}

// IsTerminal returns true if no further per-step transitions are allowed.
// Completed is terminal for a step itself; only the task-level reopen
// operation rewinds it.
func (s State) IsTerminal() bool {
	return s == StateCompleted
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid step state
func (s State) IsValid() bool {
	return validStates[s]
}
