package speech

import (
	"sync"
	"time"
)

// Phase is the provider lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseListening
	PhaseEnding
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseListening:
		return "listening"
	case PhaseEnding:
		return "ending"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:      {PhaseStarting},
	PhaseStarting:  {PhaseListening, PhaseFailed, PhaseIdle},
	PhaseListening: {PhaseListening, PhaseStarting, PhaseEnding, PhaseFailed, PhaseIdle},
	PhaseEnding:    {PhaseIdle},
	PhaseFailed:    {PhaseIdle, PhaseStarting},
}

// PhaseChange is delivered to listeners after every transition.
type PhaseChange struct {
	From      Phase
	To        Phase
	Timestamp time.Time
	Reason    string
}

// PhaseListener observes phase transitions.
type PhaseListener interface {
	OnPhaseChange(change PhaseChange)
}

// PhaseListenerFunc adapts a function to PhaseListener.
type PhaseListenerFunc func(change PhaseChange)

func (f PhaseListenerFunc) OnPhaseChange(change PhaseChange) { f(change) }

// InvalidTransitionError represents an invalid phase transition attempt.
type InvalidTransitionError struct {
	From Phase
	To   Phase
}

func (e *InvalidTransitionError) Error() string {
	return "invalid phase transition from " + e.From.String() + " to " + e.To.String()
}

// PhaseMachine validates lifecycle transitions.
type PhaseMachine struct {
	mu        sync.RWMutex
	current   Phase
	listeners []PhaseListener
}

func NewPhaseMachine() *PhaseMachine {
	return &PhaseMachine{current: PhaseIdle}
}

func (m *PhaseMachine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in any of the given phases.
func (m *PhaseMachine) Is(phases ...Phase) bool {
	cur := m.Phase()
	for _, p := range phases {
		if p == cur {
			return true
		}
	}
	return false
}

// Transition moves to the given phase, rejecting moves the lifecycle does not allow.
func (m *PhaseMachine) Transition(to Phase, reason string) error {
	m.mu.Lock()
	from := m.current
	if !transitionValid(from, to) {
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	m.current = to
	listeners := make([]PhaseListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	change := PhaseChange{From: from, To: to, Timestamp: time.Now(), Reason: reason}
	for _, l := range listeners {
		l.OnPhaseChange(change)
	}
	return nil
}

// ForceIdle returns to idle from any phase. Teardown paths use it.
func (m *PhaseMachine) ForceIdle(reason string) {
	if m.Phase() == PhaseIdle {
		return
	}
	_ = m.Transition(PhaseIdle, reason)
}

func (m *PhaseMachine) AddListener(l PhaseListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func transitionValid(from, to Phase) bool {
	for _, allowed := range phaseTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
