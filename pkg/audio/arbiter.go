package audio

import "sync"

// Arbiter grants the microphone to one owner at a time. A nil Arbiter grants
// everything.
type Arbiter struct {
	mu    sync.Mutex
	owner any
}

func NewArbiter() *Arbiter { return &Arbiter{} }

// Acquire claims the microphone for owner. Re-acquiring by the holder succeeds.
func (a *Arbiter) Acquire(owner any) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner != nil && a.owner != owner {
		return ErrMicrophoneBusy
	}
	a.owner = owner
	return nil
}

// Release frees the microphone if owner holds it.
func (a *Arbiter) Release(owner any) {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.owner == owner {
		a.owner = nil
	}
	a.mu.Unlock()
}

// Held reports whether any owner currently holds the microphone.
func (a *Arbiter) Held() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner != nil
}
