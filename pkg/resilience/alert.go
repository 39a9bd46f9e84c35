package resilience

import "sync/atomic"

// AlertGate lets the first failure of a retry cycle through to the user and
// swallows the rest until Reset.
type AlertGate struct {
	fired atomic.Bool
}

// First returns true exactly once per cycle.
func (g *AlertGate) First() bool {
	return g.fired.CompareAndSwap(false, true)
}

// Reset starts a new cycle.
func (g *AlertGate) Reset() {
	g.fired.Store(false)
}
