package metrics

import (
	"sync"
)

// AsyncObserver records events on its own goroutine so the sync queue,
// streams and audio callbacks never wait on a file write. When the buffer
// is full, lossy events (audio levels unless told otherwise) are dropped and
// counted; any other event waits for room, so outcomes such as
// sync_exhausted always reach the inner observer.
type AsyncObserver struct {
	inner Observer
	ch    chan MetricsEvent
	lossy map[string]bool
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	dropped map[string]int64
}

func NewAsyncObserver(inner Observer, buffer int, lossy ...string) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	if len(lossy) == 0 {
		lossy = []string{EventAudioLevel}
	}
	a := &AsyncObserver{
		inner:   OrNoop(inner),
		ch:      make(chan MetricsEvent, buffer),
		lossy:   make(map[string]bool, len(lossy)),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		dropped: make(map[string]int64),
	}
	for _, name := range lossy {
		a.lossy[name] = true
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	select {
	case <-a.quit:
		return
	default:
	}
	if a.lossy[ev.Name] {
		select {
		case a.ch <- ev:
		default:
			a.drop(ev.Name)
		}
		return
	}
	select {
	case a.ch <- ev:
	case <-a.quit:
		a.drop(ev.Name)
	}
}

func (a *AsyncObserver) drop(name string) {
	a.mu.Lock()
	a.dropped[name]++
	a.mu.Unlock()
}

// Dropped is the total number of events lost so far.
func (a *AsyncObserver) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, c := range a.dropped {
		n += c
	}
	return n
}

// DroppedByName breaks Dropped down by event name.
func (a *AsyncObserver) DroppedByName() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int64, len(a.dropped))
	for k, v := range a.dropped {
		out[k] = v
	}
	return out
}

// Close stops accepting events and waits until the buffered ones are
// recorded. Safe to call more than once.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() { close(a.quit) })
	<-a.done
}

func (a *AsyncObserver) loop() {
	defer close(a.done)
	for {
		select {
		case ev := <-a.ch:
			a.inner.RecordEvent(ev)
		case <-a.quit:
			for {
				select {
				case ev := <-a.ch:
					a.inner.RecordEvent(ev)
				default:
					return
				}
			}
		}
	}
}
