package resilience

import "time"

// Ladder is a fixed backoff schedule. Attempts past the last step reuse it.
type Ladder []time.Duration

// DefaultSyncLadder doubles from one second and caps at eight.
var DefaultSyncLadder = ExponentialLadder(time.Second, 4)

// ExponentialLadder builds base, 2*base, 4*base ... with the given number of steps.
func ExponentialLadder(base time.Duration, steps int) Ladder {
	if base <= 0 {
		base = time.Second
	}
	if steps <= 0 {
		steps = 1
	}
	out := make(Ladder, steps)
	d := base
	for i := range out {
		out[i] = d
		d *= 2
	}
	return out
}

// LadderFromMillis converts configured millisecond delays; empty input yields fallback.
func LadderFromMillis(ms []int, fallback Ladder) Ladder {
	out := make(Ladder, 0, len(ms))
	for _, v := range ms {
		if v > 0 {
			out = append(out, time.Duration(v)*time.Millisecond)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// Delay returns the wait before the given 1-based retry attempt.
func (l Ladder) Delay(attempt int) time.Duration {
	if len(l) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(l) {
		idx = len(l) - 1
	}
	return l[idx]
}
