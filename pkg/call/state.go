package call

import (
	"sync"
	"time"
)

// State is the position of an orchestrator in the per-turn pipeline.
type State int

const (
	StateListening State = iota
	StateTranscribing
	StateRevising
	StateDeciding
	StateResponding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateRevising:
		return "revising"
	case StateDeciding:
		return "deciding"
	case StateResponding:
		return "responding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes orchestrator state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

type StateListenerFunc func(event StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

var validTransitions = map[State][]State{
	StateListening:    {StateTranscribing, StateClosed},
	StateTranscribing: {StateRevising, StateListening, StateClosed},
	StateRevising:     {StateDeciding, StateClosed},
	StateDeciding:     {StateResponding, StateClosed},
	StateResponding:   {StateListening, StateClosed},
}

type stateMachine struct {
	mu        sync.RWMutex
	current   State
	entered   time.Time
	listeners []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateListening, entered: time.Now()}
}

func (sm *stateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Transition moves to state if the table allows it. Listeners run outside
// the lock.
func (sm *stateMachine) Transition(state State, reason string) error {
	sm.mu.Lock()
	if !transitionValid(sm.current, state) {
		from := sm.current
		sm.mu.Unlock()
		return &InvalidTransitionError{From: from, To: state}
	}
	event := StateChange{FromState: sm.current, ToState: state, Timestamp: time.Now(), Reason: reason}
	sm.current = state
	sm.entered = event.Timestamp
	listeners := make([]StateListener, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}

func (sm *stateMachine) AddListener(l StateListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, l)
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
