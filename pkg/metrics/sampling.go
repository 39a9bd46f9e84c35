package metrics

import (
	"math"
	"sync"
)

// SamplingObserver thins out high-frequency events. Audio levels arrive once
// per capture frame, several times a second per provider, and only a share
// of them is worth keeping. Events not named at construction pass through
// untouched. Every n-th event is kept per provider tag, so two providers
// reporting levels at once are each sampled at the configured rate.
type SamplingObserver struct {
	inner Observer
	every uint64
	names map[string]bool

	mu     sync.Mutex
	counts map[string]uint64
}

// NewSamplingObserver forwards roughly rate of the named events (all events
// when no name is given). A rate of zero drops them, one keeps them all.
func NewSamplingObserver(inner Observer, rate float64, names ...string) *SamplingObserver {
	s := &SamplingObserver{inner: OrNoop(inner), every: sampleEvery(rate), counts: make(map[string]uint64)}
	if len(names) > 0 {
		s.names = make(map[string]bool, len(names))
		for _, n := range names {
			s.names[n] = true
		}
	}
	return s
}

func sampleEvery(rate float64) uint64 {
	switch {
	case rate <= 0:
		return 0
	case rate >= 1:
		return 1
	}
	if n := uint64(math.Round(1 / rate)); n > 1 {
		return n
	}
	return 1
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if s.names != nil && !s.names[ev.Name] {
		s.inner.RecordEvent(ev)
		return
	}
	switch s.every {
	case 0:
		return
	case 1:
		s.inner.RecordEvent(ev)
		return
	}
	key := ev.Name + "|" + ev.Tags["provider"]
	s.mu.Lock()
	s.counts[key]++
	keep := s.counts[key]%s.every == 0
	s.mu.Unlock()
	if keep {
		s.inner.RecordEvent(ev)
	}
}
