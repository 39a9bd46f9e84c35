// Package local implements the on-device speech provider. It wraps the
// runtime's recognition engine and keeps it alive with bounded automatic
// restarts while the caller still wants to listen.
package local

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/livecore/pkg/audio"
	"github.com/harunnryd/livecore/pkg/clock"
	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/resilience"
	"github.com/harunnryd/livecore/pkg/speech"
)

const (
	DefaultRestartDelay = 100 * time.Millisecond
	DefaultMaxRestarts  = 5
	DefaultMaxNetwork   = 3
)

// DefaultNetworkLadder grows linearly: 1 s, 2 s, 3 s.
var DefaultNetworkLadder = resilience.Ladder{1 * time.Second, 2 * time.Second, 3 * time.Second}

const (
	msgUnsupported = "speech recognition is not supported in this runtime"
	msgPermission  = "cannot access the microphone, make sure permission is granted"
	msgRestarts    = "speech recognition stopped after repeated automatic restarts"
)

type Config struct {
	Engine Engine
	// Media is probed for microphone permission before the engine starts.
	// Nil skips the probe.
	Media         audio.Media
	Arbiter       *audio.Arbiter
	Clock         clock.Clock
	Logger        *slog.Logger
	RestartDelay  time.Duration
	MaxRestarts   int
	MaxNetwork    int
	NetworkLadder resilience.Ladder
}

type Provider struct {
	*speech.Base

	engine   Engine
	media    audio.Media
	arbiter  *audio.Arbiter
	clock    clock.Clock
	delay    time.Duration
	ladder   resilience.Ladder
	restarts *resilience.Budget
	network  *resilience.Budget

	mu     sync.Mutex
	rec    Recognition
	recID  atomic.Uint64
	wanted bool
	timer  clock.Timer
	tseq   uint64
	opts   RecognitionOptions
}

func New(cfg Config) *Provider {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.MaxNetwork <= 0 {
		cfg.MaxNetwork = DefaultMaxNetwork
	}
	if len(cfg.NetworkLadder) == 0 {
		cfg.NetworkLadder = DefaultNetworkLadder
	}
	return &Provider{
		Base:     speech.NewBase("local_speech", speech.KindLocal, cfg.Logger),
		engine:   cfg.Engine,
		media:    cfg.Media,
		arbiter:  cfg.Arbiter,
		clock:    clock.OrReal(cfg.Clock),
		delay:    cfg.RestartDelay,
		ladder:   cfg.NetworkLadder,
		restarts: resilience.NewBudget(cfg.MaxRestarts),
		network:  resilience.NewBudget(cfg.MaxNetwork),
	}
}

func (p *Provider) CheckSupport() bool {
	return p.SetSupported(p.engine != nil && p.engine.Supported())
}

func (p *Provider) Initialize(cfg speech.ProviderConfig, cb speech.Callbacks) error {
	if p.Destroyed() {
		return errorsx.New(errorsx.ReasonDestroyed, "local speech provider destroyed")
	}
	rc := cfg.Recognition.WithDefaults()
	p.mu.Lock()
	p.opts = RecognitionOptions{
		Language:        rc.Language,
		Continuous:      rc.IsContinuous(),
		InterimResults:  rc.WantsInterim(),
		MaxAlternatives: 1,
	}
	p.mu.Unlock()
	p.Bind(cfg, cb)
	p.CheckSupport()
	return nil
}

func (p *Provider) Start(ctx context.Context) (bool, error) {
	if p.Destroyed() {
		return false, errorsx.New(errorsx.ReasonDestroyed, "local speech provider destroyed")
	}
	if !p.Bound() {
		return false, errorsx.New(errorsx.ReasonConfig, "local speech provider not initialized")
	}
	switch p.Phase.Phase() {
	case speech.PhaseListening:
		return true, nil
	case speech.PhaseStarting:
		return false, errorsx.New(errorsx.ReasonBusy, "local speech provider is starting")
	case speech.PhaseEnding:
		return false, errorsx.New(errorsx.ReasonBusy, "local speech provider is stopping")
	}
	if !p.CheckSupport() {
		p.EmitError(msgUnsupported)
		return false, errorsx.New(errorsx.ReasonCapability, msgUnsupported)
	}

	gen := p.Begin()
	if err := p.Phase.Transition(speech.PhaseStarting, "start"); err != nil {
		return false, err
	}
	if err := p.arbiter.Acquire(p); err != nil {
		p.Phase.ForceIdle("microphone busy")
		return false, err
	}

	if p.media != nil {
		stream, err := p.media.GetUserMedia(ctx, audio.DefaultConstraints())
		if err != nil {
			p.arbiter.Release(p)
			if !p.Current(gen) {
				return false, errorsx.New(errorsx.ReasonCanceled, "local speech start canceled")
			}
			_ = p.Phase.Transition(speech.PhaseFailed, "permission")
			p.EmitError(msgPermission)
			return false, errorsx.Errorf(errorsx.ReasonPermission, "%s: %w", msgPermission, err)
		}
		for _, t := range stream.Tracks() {
			t.Stop()
		}
	}
	if !p.Current(gen) {
		p.arbiter.Release(p)
		return false, errorsx.New(errorsx.ReasonCanceled, "local speech start canceled")
	}

	p.restarts.Reset()
	p.network.Reset()
	p.mu.Lock()
	p.wanted = true
	p.mu.Unlock()
	if err := p.launch(); err != nil {
		p.mu.Lock()
		p.wanted = false
		p.mu.Unlock()
		p.arbiter.Release(p)
		_ = p.Phase.Transition(speech.PhaseFailed, "engine start failed")
		p.Logger.Error("local_engine_start_failed", slog.String("error", err.Error()))
		return false, errorsx.Wrap(err, errorsx.ReasonTransport)
	}
	return true, nil
}

// launch replaces the current recognition with a fresh one and starts it.
// Start runs without the lock so engines may deliver events synchronously.
func (p *Provider) launch() error {
	p.mu.Lock()
	p.discardLocked()
	id := p.recID.Add(1)
	rec, err := p.engine.NewRecognition(p.opts, &sink{p: p, id: id})
	if err == nil {
		p.rec = rec
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if err := rec.Start(); err != nil {
		p.mu.Lock()
		if p.rec == rec {
			p.discardLocked()
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

// discardLocked detaches and aborts the current recognition so its late
// events are ignored.
func (p *Provider) discardLocked() {
	if p.rec == nil {
		return
	}
	rec := p.rec
	p.rec = nil
	p.recID.Add(1)
	rec.Abort()
}

func (p *Provider) stale(id uint64) bool {
	return id != p.recID.Load() || p.Destroyed()
}

func (p *Provider) onStart(id uint64) {
	if p.stale(id) {
		return
	}
	p.restarts.Reset()
	p.network.Reset()
	p.ClearError()
	if err := p.Phase.Transition(speech.PhaseListening, "engine started"); err != nil {
		p.Logger.Warn("local_phase_invalid", slog.String("error", err.Error()))
	}
	p.EmitStart()
}

func (p *Provider) onEnd(id uint64) {
	if p.stale(id) {
		return
	}
	p.mu.Lock()
	wanted := p.wanted
	pending := p.timer != nil
	p.mu.Unlock()
	if !wanted {
		p.finish()
		return
	}
	if pending {
		return
	}
	attempt, ok := p.restarts.Next()
	if !ok {
		p.Logger.Warn("local_restart_exhausted", slog.Int("attempts", attempt))
		p.mu.Lock()
		p.wanted = false
		p.mu.Unlock()
		_ = p.Phase.Transition(speech.PhaseFailed, "restarts exhausted")
		p.EmitError(msgRestarts)
		p.finish()
		return
	}
	p.Logger.Info("local_restart_scheduled", slog.Int("attempt", attempt), slog.Int64("delay_ms", p.delay.Milliseconds()))
	_ = p.Phase.Transition(speech.PhaseStarting, "restart")
	p.schedule(p.delay)
}

func (p *Provider) onResult(id uint64, ev ResultEvent) {
	if p.stale(id) {
		return
	}
	text, final := fold(ev)
	if text == "" {
		return
	}
	p.EmitResult(text, final)
}

func (p *Provider) onError(id uint64, code, message string) {
	if p.stale(id) {
		return
	}
	switch code {
	case ErrCodeNoSpeech, ErrCodeAborted:
		p.Logger.Debug("local_engine_benign_error", slog.String("code", code))
		return
	case ErrCodeNetwork:
		p.mu.Lock()
		wanted := p.wanted
		p.mu.Unlock()
		if wanted {
			if attempt, ok := p.network.Next(); ok {
				delay := p.ladder.Delay(attempt)
				p.Logger.Warn("local_network_retry_scheduled",
					slog.Int("attempt", attempt),
					slog.Int64("delay_ms", delay.Milliseconds()))
				p.schedule(delay)
				return
			}
		}
	}
	msg := errorMessage(code)
	p.Logger.Error("local_engine_error", slog.String("code", code), slog.String("detail", message))
	p.mu.Lock()
	p.wanted = false
	p.stopTimerLocked()
	p.mu.Unlock()
	_ = p.Phase.Transition(speech.PhaseFailed, code)
	p.EmitError(msg)
}

// schedule arms the single pending restart timer, replacing any earlier one.
func (p *Provider) schedule(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimerLocked()
	p.tseq++
	seq := p.tseq
	p.timer = p.clock.AfterFunc(d, func() { p.restart(seq) })
}

func (p *Provider) restart(seq uint64) {
	p.mu.Lock()
	if p.timer == nil || p.tseq != seq {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	wanted := p.wanted && !p.Destroyed()
	p.mu.Unlock()
	if !wanted {
		return
	}
	if err := p.launch(); err != nil {
		p.mu.Lock()
		p.wanted = false
		p.mu.Unlock()
		p.Logger.Error("local_restart_failed", slog.String("error", err.Error()))
		_ = p.Phase.Transition(speech.PhaseFailed, "restart failed")
		p.finish()
	}
}

func (p *Provider) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// finish closes the listening cycle: microphone released, phase idle, one onEnd.
func (p *Provider) finish() {
	p.arbiter.Release(p)
	p.Phase.ForceIdle("ended")
	p.EmitEnd()
}

// Stop halts listening. A running engine is asked to stop and reports the
// end through its own event; anything else is torn down immediately.
func (p *Provider) Stop() {
	if p.Destroyed() || p.Phase.Phase() == speech.PhaseEnding {
		return
	}
	p.Invalidate()
	p.mu.Lock()
	p.wanted = false
	p.stopTimerLocked()
	p.restarts.Reset()
	rec := p.rec
	listening := p.Phase.Phase() == speech.PhaseListening
	if rec != nil && !listening {
		p.discardLocked()
	}
	p.mu.Unlock()

	if rec != nil && listening {
		_ = p.Phase.Transition(speech.PhaseEnding, "stop")
		rec.Stop()
		return
	}
	if p.Phase.Phase() != speech.PhaseIdle {
		p.finish()
	}
}

func (p *Provider) Reset() {
	p.Stop()
	p.ClearError()
	p.Transcript().Clear()
}

func (p *Provider) Destroy() {
	if !p.MarkDestroyed() {
		return
	}
	p.mu.Lock()
	p.wanted = false
	p.stopTimerLocked()
	p.discardLocked()
	p.mu.Unlock()
	p.arbiter.Release(p)
	p.Phase.ForceIdle("destroyed")
}

type sink struct {
	p  *Provider
	id uint64
}

func (s *sink) OnStart()                     { s.p.onStart(s.id) }
func (s *sink) OnEnd()                       { s.p.onEnd(s.id) }
func (s *sink) OnResult(ev ResultEvent)      { s.p.onResult(s.id, ev) }
func (s *sink) OnError(code, message string) { s.p.onError(s.id, code, message) }

var _ speech.Provider = (*Provider)(nil)
