// Package mock provides a scripted audio.Media for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/livecore/pkg/audio"
)

// Media records every call made against it and lets tests push samples into
// a connected graph with Emit.
type Media struct {
	Unsupported       bool
	DenyPermission    bool
	RejectConstraints bool
	// Rate is the graph sample rate. Zero means audio.SampleRate.
	Rate int
	// Gate, when set, blocks GetUserMedia until it is closed or receives.
	Gate chan struct{}

	mu              sync.Mutex
	calls           []string
	process         audio.ProcessFunc
	acquisitions    int
	lastConstraints audio.Constraints
}

func (m *Media) Supported() bool { return !m.Unsupported }

func (m *Media) GetUserMedia(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	m.record("get_user_media")
	m.mu.Lock()
	m.lastConstraints = c
	m.mu.Unlock()
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.DenyPermission {
		return nil, errors.New("NotAllowedError: permission denied")
	}
	if m.RejectConstraints && (c.EchoCancellation || c.NoiseSuppression) {
		return nil, audio.ErrConstraintUnsupported
	}
	m.mu.Lock()
	m.acquisitions++
	m.mu.Unlock()
	return &stream{media: m}, nil
}

func (m *Media) NewGraph(int) (audio.Graph, error) {
	m.record("new_graph")
	rate := m.Rate
	if rate == 0 {
		rate = audio.SampleRate
	}
	return &graph{media: m, rate: rate}, nil
}

// Emit delivers samples to the connected processing node, if any.
func (m *Media) Emit(samples []float32) bool {
	m.mu.Lock()
	fn := m.process
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(samples)
	return true
}

// Calls returns the recorded call log.
func (m *Media) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *Media) Acquisitions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquisitions
}

func (m *Media) LastConstraints() audio.Constraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConstraints
}

func (m *Media) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

type stream struct{ media *Media }

func (s *stream) Tracks() []audio.Track { return []audio.Track{track{s.media}} }

type track struct{ media *Media }

func (t track) Stop() { t.media.record("track_stop") }

type graph struct {
	media *Media
	rate  int
}

func (g *graph) SampleRate() int { return g.rate }

func (g *graph) Connect(_ audio.Stream, _ int, process audio.ProcessFunc) error {
	g.media.record("connect")
	g.media.mu.Lock()
	g.media.process = process
	g.media.mu.Unlock()
	return nil
}

func (g *graph) Disconnect() {
	g.media.record("disconnect")
	g.media.mu.Lock()
	g.media.process = nil
	g.media.mu.Unlock()
}

func (g *graph) Close() error {
	g.media.record("close")
	return nil
}
