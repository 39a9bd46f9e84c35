package speech

import (
	"strings"
	"sync"
)

// Transcript aggregates results: finals are appended and never replaced,
// the latest interim supersedes the previous one.
type Transcript struct {
	mu      sync.Mutex
	finals  []string
	interim string
}

func (t *Transcript) Add(text string, isFinal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isFinal {
		if text != "" {
			t.finals = append(t.finals, text)
		}
		t.interim = ""
		return
	}
	t.interim = text
}

// Final returns the committed text only.
func (t *Transcript) Final() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.finals, "")
}

// Interim returns the current provisional text.
func (t *Transcript) Interim() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interim
}

// Text is the committed text followed by the current interim.
func (t *Transcript) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.finals, "") + t.interim
}

// Segments returns a copy of the committed segments.
func (t *Transcript) Segments() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.finals...)
}

func (t *Transcript) Clear() {
	t.mu.Lock()
	t.finals = nil
	t.interim = ""
	t.mu.Unlock()
}
