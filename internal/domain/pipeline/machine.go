package pipeline

import "context"

// StateMachine tracks a step's current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers that can be fired in the current state
	PermittedTriggers() []Trigger
}

// NewStepMachine builds the step lifecycle machine starting from the given
// state: locked -> unlocked -> completed, with rewind transitions for
// return and reopen.
func NewStepMachine(initial State) StateMachine {
	b := NewBuilder()
	b.Configure(StateLocked).
		Permit(TriggerUnlock, StateUnlocked)
	b.Configure(StateUnlocked).
		Permit(TriggerComplete, StateCompleted).
		Permit(TriggerRelock, StateLocked)
	b.Configure(StateCompleted).
		Permit(TriggerRewind, StateUnlocked)
	return b.Build(initial)
}
