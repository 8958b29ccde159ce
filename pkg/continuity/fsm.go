// Package continuity runs one bounded work unit of a call and hands the
// remainder to a successor when the execution budget runs out.
package continuity

import (
	"sync"
	"time"
)

type State int

const (
	StateStarting State = iota
	StateStreaming
	StateTimeBudgetReached
	StateSourceClosed
	StateError
	StateFinalizing
	StateDone
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateStreaming:
		return "STREAMING"
	case StateTimeBudgetReached:
		return "TIME_BUDGET_REACHED"
	case StateSourceClosed:
		return "SOURCE_CLOSED"
	case StateError:
		return "ERROR"
	case StateFinalizing:
		return "FINALIZING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes work-unit state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// stateMachine enforces the work-unit lifecycle.
type stateMachine struct {
	currentState State
	mu           sync.RWMutex

	stateChangeListeners []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{currentState: StateStarting}
}

// State returns the current state.
func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (m *stateMachine) transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateStarting:          {StateStreaming, StateError, StateDone},
		StateStreaming:         {StateTimeBudgetReached, StateSourceClosed, StateError},
		StateTimeBudgetReached: {StateFinalizing},
		StateSourceClosed:      {StateFinalizing},
		StateError:             {StateFinalizing},
		StateFinalizing:        {StateDone},
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, allowed := range allowedStates {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (m *stateMachine) Transition(state State, reason string) error {
	m.mu.Lock()

	if !m.transitionValid(m.currentState, state) {
		m.mu.Unlock()
		return &InvalidTransitionError{From: m.currentState, To: state}
	}

	oldState := m.currentState
	m.currentState = state

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	listeners := make([]StateListener, len(m.stateChangeListeners))
	copy(listeners, m.stateChangeListeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (m *stateMachine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateChangeListeners = append(m.stateChangeListeners, listener)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
