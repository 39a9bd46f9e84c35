package speech

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/harunnryd/livecore/pkg/configutil"
	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
)

// Factory builds an uninitialized provider for the given config.
type Factory func(cfg ProviderConfig) Provider

// Registration describes one provider kind.
type Registration struct {
	Kind           Kind                         `json:"kind"`
	Name           string                       `json:"name"`
	Description    string                       `json:"description,omitempty"`
	RequiresConfig bool                         `json:"requires_config"`
	ConfigFields   []configutil.FieldDefinition `json:"config_fields,omitempty"`
	Factory        Factory                      `json:"-"`
}

// Registry maps config kinds to provider factories. Unknown kinds degrade to
// the fallback kind (local by default) with a warning.
type Registry struct {
	mu       sync.RWMutex
	entries  map[Kind]Registration
	fallback Kind
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries:  make(map[Kind]Registration),
		fallback: KindLocal,
		logger:   logging.NewComponentLogger(logger, "speech_registry"),
	}
}

// SetFallback changes the kind used for unknown configs.
func (r *Registry) SetFallback(kind Kind) {
	r.mu.Lock()
	r.fallback = kind.Normalize()
	r.mu.Unlock()
}

// Register adds or replaces a kind.
func (r *Registry) Register(reg Registration) error {
	reg.Kind = reg.Kind.Normalize()
	if reg.Kind == "" {
		return errorsx.New(errorsx.ReasonConfig, "provider kind is required")
	}
	if reg.Factory == nil {
		return errorsx.Errorf(errorsx.ReasonConfig, "provider %s: factory is required", reg.Kind)
	}
	if reg.Name == "" {
		reg.Name = string(reg.Kind)
	}
	r.mu.Lock()
	_, replaced := r.entries[reg.Kind]
	r.entries[reg.Kind] = reg
	r.mu.Unlock()
	r.logger.Debug("provider_registered",
		slog.String("kind", string(reg.Kind)),
		slog.Bool("replaced", replaced))
	return nil
}

// Unregister removes a kind and reports whether it existed.
func (r *Registry) Unregister(kind Kind) bool {
	kind = kind.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[kind]; !ok {
		return false
	}
	delete(r.entries, kind)
	return true
}

func (r *Registry) Has(kind Kind) bool {
	_, ok := r.Registration(kind)
	return ok
}

func (r *Registry) Registration(kind Kind) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[kind.Normalize()]
	return reg, ok
}

// Registrations lists every kind sorted by kind.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	out := make([]Registration, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// RequiresConfig reports whether a kind needs settings. Unknown kinds do not.
func (r *Registry) RequiresConfig(kind Kind) bool {
	reg, ok := r.Registration(kind)
	return ok && reg.RequiresConfig
}

// ConfigFields returns the settings a configuration UI should render.
func (r *Registry) ConfigFields(kind Kind) []configutil.FieldDefinition {
	reg, ok := r.Registration(kind)
	if !ok {
		return nil
	}
	return append([]configutil.FieldDefinition(nil), reg.ConfigFields...)
}

// Validate checks a config against the registered fields of its kind.
func (r *Registry) Validate(cfg ProviderConfig) error {
	reg, ok := r.Registration(cfg.Kind)
	if !ok {
		return errorsx.Errorf(errorsx.ReasonConfig, "provider kind not registered: %s", cfg.Kind)
	}
	return cfg.ValidateFields(reg.ConfigFields)
}

// Create builds the provider for cfg.Kind. An unknown kind falls back to the
// fallback kind and logs a warning. It errors only when the fallback itself
// is not registered.
func (r *Registry) Create(cfg ProviderConfig) (Provider, error) {
	cfg.Kind = cfg.Kind.Normalize()
	reg, ok := r.Registration(cfg.Kind)
	if !ok {
		r.mu.RLock()
		fallback := r.fallback
		r.mu.RUnlock()
		r.logger.Warn("provider_kind_unknown",
			slog.String("kind", string(cfg.Kind)),
			slog.String("fallback", string(fallback)))
		reg, ok = r.Registration(fallback)
		if !ok {
			return nil, errorsx.Errorf(errorsx.ReasonConfig, "provider kind not registered: %s (no fallback %s)", cfg.Kind, fallback)
		}
		cfg = ProviderConfig{Kind: fallback, Recognition: cfg.Recognition}
	}
	return reg.Factory(cfg), nil
}
