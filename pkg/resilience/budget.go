package resilience

import "sync"

// Budget counts consecutive attempts against an upper bound. A zero or
// negative max means unlimited.
type Budget struct {
	mu       sync.Mutex
	attempts int
	max      int
}

func NewBudget(max int) *Budget {
	return &Budget{max: max}
}

// Next consumes one attempt. ok is false once the bound has been spent.
func (b *Budget) Next() (attempt int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && b.attempts >= b.max {
		return b.attempts, false
	}
	b.attempts++
	return b.attempts, true
}

// Attempts returns the number of attempts consumed since the last reset.
func (b *Budget) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset returns the budget to zero attempts.
func (b *Budget) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}
