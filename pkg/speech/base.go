package speech

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/livecore/pkg/logging"
	"github.com/harunnryd/livecore/pkg/redact"
)

// Base carries the state every provider shares: phase machine, callbacks,
// last error, transcript and the generation counter used to discard work
// that finishes after the caller moved on. Providers embed *Base.
//
// Emit* methods are the single dispatch point for callbacks. They run on the
// calling goroutine and become no-ops once the provider is destroyed.
type Base struct {
	name   string
	kind   Kind
	Logger *slog.Logger
	Phase  *PhaseMachine

	gen       atomic.Uint64
	destroyed atomic.Bool

	mu         sync.Mutex
	cfg        ProviderConfig
	cb         Callbacks
	bound      bool
	supported  bool
	lastError  string
	endPending bool

	transcript Transcript
}

func NewBase(name string, kind Kind, logger *slog.Logger) *Base {
	return &Base{
		name:   name,
		kind:   kind,
		Logger: logging.NewComponentLogger(logger, name),
		Phase:  NewPhaseMachine(),
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Kind() Kind { return b.kind }

func (b *Base) Transcript() *Transcript { return &b.transcript }

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		Supported: b.supported,
		Listening: b.Phase.Phase() == PhaseListening,
		LastError: b.lastError,
	}
}

// SetSupported records the result of a capability probe.
func (b *Base) SetSupported(ok bool) bool {
	b.mu.Lock()
	b.supported = ok
	b.mu.Unlock()
	return ok
}

// Bind stores config and callbacks.
func (b *Base) Bind(cfg ProviderConfig, cb Callbacks) {
	b.mu.Lock()
	b.cfg = cfg
	b.cb = cb
	b.bound = true
	b.mu.Unlock()
}

func (b *Base) Bound() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound
}

func (b *Base) Config() ProviderConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Begin starts a new generation and returns its token.
func (b *Base) Begin() uint64 {
	b.mu.Lock()
	b.endPending = true
	b.mu.Unlock()
	return b.gen.Add(1)
}

// Invalidate abandons the current generation.
func (b *Base) Invalidate() { b.gen.Add(1) }

// Current reports whether gen is still the live generation.
func (b *Base) Current(gen uint64) bool {
	return !b.destroyed.Load() && b.gen.Load() == gen
}

// MarkDestroyed flips the terminal flag and reports whether this call did it.
func (b *Base) MarkDestroyed() bool {
	if !b.destroyed.CompareAndSwap(false, true) {
		return false
	}
	b.gen.Add(1)
	b.mu.Lock()
	b.cb = Callbacks{}
	b.mu.Unlock()
	return true
}

func (b *Base) Destroyed() bool { return b.destroyed.Load() }

// ClearError forgets the last error.
func (b *Base) ClearError() {
	b.mu.Lock()
	b.lastError = ""
	b.mu.Unlock()
}

func (b *Base) callbacks() Callbacks {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb
}

func (b *Base) EmitResult(text string, isFinal bool) {
	if b.destroyed.Load() {
		return
	}
	b.transcript.Add(text, isFinal)
	b.Logger.Debug("speech_result",
		slog.String("text", redact.Text(text)),
		slog.Bool("is_final", isFinal))
	if fn := b.callbacks().OnResult; fn != nil {
		fn(text, isFinal)
	}
}

func (b *Base) EmitError(message string) {
	if b.destroyed.Load() {
		return
	}
	b.mu.Lock()
	b.lastError = message
	fn := b.cb.OnError
	b.mu.Unlock()
	if fn != nil {
		fn(message)
	}
}

func (b *Base) EmitStart() {
	if b.destroyed.Load() {
		return
	}
	if fn := b.callbacks().OnStart; fn != nil {
		fn()
	}
}

// EmitEnd reports the end of a listening cycle at most once per Begin.
func (b *Base) EmitEnd() {
	if b.destroyed.Load() {
		return
	}
	b.mu.Lock()
	pending := b.endPending
	b.endPending = false
	fn := b.cb.OnEnd
	b.mu.Unlock()
	if pending && fn != nil {
		fn()
	}
}

func (b *Base) EmitLevel(level float64) {
	if b.destroyed.Load() {
		return
	}
	if fn := b.callbacks().OnAudioLevel; fn != nil {
		fn(level)
	}
}

// HasLevelCallback reports whether level metering is worth computing.
func (b *Base) HasLevelCallback() bool {
	return b.callbacks().OnAudioLevel != nil
}
