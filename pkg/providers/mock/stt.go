// Package mock provides a scripted speech provider for demos and tests.
package mock

import (
	"context"
	"log/slog"
	"sync"

	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/speech"
)

type STTConfig struct {
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	// StartError makes Start fail with this error.
	StartError error
	Logger     *slog.Logger
}

// Provider emits its scripted transcript as soon as it starts listening.
type Provider struct {
	*speech.Base
	cfg STTConfig

	mu     sync.Mutex
	starts int
	stops  int
}

func NewSTT(cfg STTConfig) *Provider {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Provider{Base: speech.NewBase("mock_stt", speech.KindMock, cfg.Logger), cfg: cfg}
}

func (p *Provider) CheckSupport() bool { return p.SetSupported(true) }

func (p *Provider) Initialize(cfg speech.ProviderConfig, cb speech.Callbacks) error {
	if p.Destroyed() {
		return errorsx.New(errorsx.ReasonDestroyed, "mock provider destroyed")
	}
	p.Bind(cfg, cb)
	p.CheckSupport()
	return nil
}

func (p *Provider) Start(context.Context) (bool, error) {
	if p.Destroyed() {
		return false, errorsx.New(errorsx.ReasonDestroyed, "mock provider destroyed")
	}
	if p.Phase.Phase() == speech.PhaseListening {
		return true, nil
	}
	p.Begin()
	if err := p.Phase.Transition(speech.PhaseStarting, "start"); err != nil {
		return false, err
	}
	if p.cfg.StartError != nil {
		_ = p.Phase.Transition(speech.PhaseFailed, "scripted failure")
		p.EmitError(p.cfg.StartError.Error())
		return false, p.cfg.StartError
	}
	p.mu.Lock()
	p.starts++
	p.mu.Unlock()
	_ = p.Phase.Transition(speech.PhaseListening, "start")
	p.EmitStart()
	if p.cfg.EmitInterim {
		interim := p.cfg.InterimTranscript
		if interim == "" {
			interim = p.cfg.Transcript
		}
		p.EmitResult(interim, false)
	}
	p.EmitResult(p.cfg.Transcript, true)
	return true, nil
}

// Say emits an extra result while listening.
func (p *Provider) Say(text string, isFinal bool) bool {
	if p.Phase.Phase() != speech.PhaseListening {
		return false
	}
	p.EmitResult(text, isFinal)
	return true
}

func (p *Provider) Stop() {
	if p.Destroyed() {
		return
	}
	wasListening := p.Phase.Phase() == speech.PhaseListening
	p.Phase.ForceIdle("stop")
	if wasListening {
		p.mu.Lock()
		p.stops++
		p.mu.Unlock()
		p.EmitEnd()
	}
}

func (p *Provider) Reset() {
	p.Stop()
	p.ClearError()
	p.Transcript().Clear()
}

func (p *Provider) Destroy() {
	if p.MarkDestroyed() {
		p.Phase.ForceIdle("destroyed")
	}
}

// Counts returns how many listening cycles started and stopped.
func (p *Provider) Counts() (starts, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.stops
}

var _ speech.Provider = (*Provider)(nil)
