package turn

import (
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	TurnID    string
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(event StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

var validTransitions = map[State][]State{
	StateIdle:        {StateSessionOpen, StateFailed},
	StateSessionOpen: {StateStreaming, StateFailed},
	StateStreaming:   {StateDraining, StateFailed},
	StateDraining:    {StateComplete, StateFailed},
}

// stateMachine tracks one turn. A new turn always gets a new machine.
type stateMachine struct {
	turnID       string
	currentState State
	mu           sync.RWMutex

	enteredAt map[State]time.Time
	listeners []StateListener
}

func newStateMachine(turnID string, listeners []StateListener) *stateMachine {
	return &stateMachine{
		turnID:       turnID,
		currentState: StateIdle,
		enteredAt:    map[State]time.Time{StateIdle: time.Now()},
		listeners:    listeners,
	}
}

// State returns the current state.
func (tm *stateMachine) State() State {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.currentState
}

// EnteredAt returns when the machine entered s, zero if it never did.
func (tm *stateMachine) EnteredAt(s State) time.Time {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.enteredAt[s]
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (tm *stateMachine) transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (tm *stateMachine) Transition(state State, reason string) error {
	tm.mu.Lock()
	if !tm.transitionValid(tm.currentState, state) {
		from := tm.currentState
		tm.mu.Unlock()
		return &InvalidTransitionError{From: from, To: state}
	}
	event := StateChange{
		TurnID:    tm.turnID,
		FromState: tm.currentState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	tm.currentState = state
	tm.enteredAt[state] = event.Timestamp
	listeners := make([]StateListener, len(tm.listeners))
	copy(listeners, tm.listeners)
	tm.mu.Unlock()

	// Notify without the lock so listeners may query the machine.
	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
