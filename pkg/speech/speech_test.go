package speech

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/livecore/pkg/configutil"
	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
)

type stubProvider struct {
	*Base
}

func newStub(kind Kind) *stubProvider {
	return &stubProvider{Base: NewBase("stub_"+string(kind), kind, logging.Discard())}
}

func (s *stubProvider) CheckSupport() bool { return s.SetSupported(true) }
func (s *stubProvider) Initialize(cfg ProviderConfig, cb Callbacks) error {
	s.Bind(cfg, cb)
	return nil
}
func (s *stubProvider) Start(context.Context) (bool, error) { return true, nil }
func (s *stubProvider) Stop()                               {}
func (s *stubProvider) Reset()                              {}
func (s *stubProvider) Destroy()                            { s.MarkDestroyed() }

func stubFactory(kind Kind) Factory {
	return func(ProviderConfig) Provider { return newStub(kind) }
}

func TestRegistryFallsBackToLocal(t *testing.T) {
	r := NewRegistry(logging.Discard())
	if err := r.Register(Registration{Kind: KindLocal, Factory: stubFactory(KindLocal)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	p, err := r.Create(ProviderConfig{Kind: "whisper"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Kind() != KindLocal {
		t.Fatalf("expected local fallback, got %s", p.Kind())
	}
}

func TestRegistryNoFallback(t *testing.T) {
	r := NewRegistry(logging.Discard())
	if _, err := r.Create(ProviderConfig{Kind: "whisper"}); !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestRegistryRuntimeRegistration(t *testing.T) {
	r := NewRegistry(logging.Discard())
	fields := []configutil.FieldDefinition{
		{Key: "api_key", Label: "API Key", Type: configutil.FieldPassword, Required: true},
		{Key: "model", Label: "Model", Type: configutil.FieldText},
	}
	_ = r.Register(Registration{Kind: KindLocal, Factory: stubFactory(KindLocal)})
	_ = r.Register(Registration{Kind: " Custom ", Name: "Custom", RequiresConfig: true, ConfigFields: fields, Factory: stubFactory("custom")})

	if !r.Has("custom") || !r.RequiresConfig("CUSTOM") {
		t.Fatalf("custom kind should be registered and require config")
	}
	if r.RequiresConfig(KindLocal) {
		t.Fatalf("local must not require config")
	}
	if got := r.ConfigFields("custom"); len(got) != 2 || got[0].Key != "api_key" {
		t.Fatalf("unexpected fields %+v", got)
	}
	regs := r.Registrations()
	if len(regs) != 2 || regs[0].Kind != "custom" || regs[1].Kind != KindLocal {
		t.Fatalf("registrations not sorted: %+v", regs)
	}
	if err := r.Validate(ProviderConfig{Kind: "custom", Settings: map[string]any{"model": "x"}}); !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("expected missing api_key, got %v", err)
	}
	if err := r.Validate(ProviderConfig{Kind: "custom", Settings: map[string]any{"apiKey": "k"}}); err != nil {
		t.Fatalf("normalized key should satisfy schema: %v", err)
	}
	p, _ := r.Create(ProviderConfig{Kind: "custom"})
	if p.Kind() != "custom" {
		t.Fatalf("expected custom provider, got %s", p.Kind())
	}
	if !r.Unregister("custom") || r.Has("custom") {
		t.Fatalf("unregister failed")
	}
}

func TestRegisterRejectsMissingFactory(t *testing.T) {
	r := NewRegistry(logging.Discard())
	if err := r.Register(Registration{Kind: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPhaseTransitions(t *testing.T) {
	m := NewPhaseMachine()
	var changes []PhaseChange
	m.AddListener(PhaseListenerFunc(func(c PhaseChange) { changes = append(changes, c) }))

	if err := m.Transition(PhaseListening, "skip"); err == nil {
		t.Fatalf("idle -> listening must be rejected")
	} else {
		var ite *InvalidTransitionError
		if !errors.As(err, &ite) || ite.From != PhaseIdle {
			t.Fatalf("unexpected error %v", err)
		}
	}
	for _, step := range []Phase{PhaseStarting, PhaseListening, PhaseListening, PhaseEnding, PhaseIdle} {
		if err := m.Transition(step, "test"); err != nil {
			t.Fatalf("transition to %s: %v", step, err)
		}
	}
	if len(changes) != 5 {
		t.Fatalf("expected 5 changes, got %d", len(changes))
	}
	_ = m.Transition(PhaseStarting, "again")
	_ = m.Transition(PhaseFailed, "boom")
	m.ForceIdle("reset")
	if m.Phase() != PhaseIdle {
		t.Fatalf("expected idle, got %s", m.Phase())
	}
}

func TestTranscriptFoldsInterim(t *testing.T) {
	var tr Transcript
	tr.Add("hel", false)
	tr.Add("hello", false)
	if tr.Text() != "hello" {
		t.Fatalf("interim should be replaced, got %q", tr.Text())
	}
	tr.Add("hello.", true)
	tr.Add("wor", false)
	if tr.Final() != "hello." || tr.Text() != "hello.wor" {
		t.Fatalf("unexpected transcript final=%q text=%q", tr.Final(), tr.Text())
	}
	tr.Clear()
	if tr.Text() != "" {
		t.Fatalf("clear failed")
	}
}

func TestBaseEmitEndOncePerCycle(t *testing.T) {
	b := NewBase("test", KindMock, logging.Discard())
	ends := 0
	b.Bind(ProviderConfig{}, Callbacks{OnEnd: func() { ends++ }})
	b.EmitEnd()
	if ends != 0 {
		t.Fatalf("no cycle started, end must not fire")
	}
	b.Begin()
	b.EmitEnd()
	b.EmitEnd()
	if ends != 1 {
		t.Fatalf("expected one end, got %d", ends)
	}
}

func TestBaseDestroySilencesCallbacks(t *testing.T) {
	b := NewBase("test", KindMock, logging.Discard())
	calls := 0
	b.Bind(ProviderConfig{}, Callbacks{OnResult: func(string, bool) { calls++ }, OnError: func(string) { calls++ }})
	gen := b.Begin()
	if !b.MarkDestroyed() || b.MarkDestroyed() {
		t.Fatalf("MarkDestroyed should succeed exactly once")
	}
	b.EmitResult("x", true)
	b.EmitError("y")
	if calls != 0 || b.Current(gen) {
		t.Fatalf("destroyed base must be silent and stale")
	}
}

func TestProviderConfigHelpers(t *testing.T) {
	cfg := NetworkedConfig("", "app", "tok")
	if cfg.Setting("AppKey") != "app" || cfg.Setting("token") != "tok" || cfg.Setting("url") != "" {
		t.Fatalf("unexpected settings %+v", cfg.Settings)
	}
	rc := RecognitionConfig{}.WithDefaults()
	if rc.Language != DefaultLanguage || !rc.IsContinuous() || !rc.WantsInterim() {
		t.Fatalf("unexpected defaults %+v", rc)
	}
}
