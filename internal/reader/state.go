package reader

import "slices"

// State is a step of one pipeline run.
type State int

const (
	StateIdle State = iota
	StateNormalizing
	StateExtracting
	StateEmpty
	StateHasText
	StateAnnouncing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateNormalizing:
		return "Normalizing"
	case StateExtracting:
		return "Extracting"
	case StateEmpty:
		return "Empty"
	case StateHasText:
		return "HasText"
	case StateAnnouncing:
		return "Announcing"
	default:
		return "Unknown"
	}
}

var validTransitions = map[State][]State{
	StateIdle:        {StateNormalizing, StateAnnouncing},
	StateNormalizing: {StateExtracting, StateIdle},
	StateExtracting:  {StateEmpty, StateHasText, StateIdle},
	StateEmpty:       {StateAnnouncing, StateIdle},
	StateHasText:     {StateAnnouncing, StateIdle},
	StateAnnouncing:  {StateIdle},
}

// StateMachine tracks a single run. Runs never share one.
type StateMachine struct {
	currentState State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{currentState: StateIdle}
}

func (sm *StateMachine) CanTransition(to State) bool {
	return slices.Contains(validTransitions[sm.currentState], to)
}

func (sm *StateMachine) Transition(to State) bool {
	if sm.CanTransition(to) {
		sm.currentState = to
		return true
	}
	return false
}

func (sm *StateMachine) GetCurrentState() State {
	return sm.currentState
}
