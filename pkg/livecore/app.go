// Package livecore wires the communication core together: configuration,
// the speech provider registry with its built-in kinds, the shared
// microphone arbiter, and constructors for sync queues and status streams.
package livecore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/livecore/pkg/api"
	"github.com/harunnryd/livecore/pkg/audio"
	"github.com/harunnryd/livecore/pkg/clock"
	"github.com/harunnryd/livecore/pkg/configutil"
	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/eventstream"
	"github.com/harunnryd/livecore/pkg/logging"
	"github.com/harunnryd/livecore/pkg/metrics"
	"github.com/harunnryd/livecore/pkg/observers"
	"github.com/harunnryd/livecore/pkg/providers/aliyun"
	"github.com/harunnryd/livecore/pkg/providers/deepgram"
	"github.com/harunnryd/livecore/pkg/providers/local"
	"github.com/harunnryd/livecore/pkg/providers/mock"
	"github.com/harunnryd/livecore/pkg/redact"
	"github.com/harunnryd/livecore/pkg/speech"
	"github.com/harunnryd/livecore/pkg/syncqueue"
)

type Options struct {
	Config Config
	// Media is the microphone. Nil leaves capture-based providers unsupported.
	Media audio.Media
	// Engine backs the local provider. Nil leaves it unsupported.
	Engine   local.Engine
	Caller   api.Caller
	Source   eventstream.Source
	Dialer   aliyun.Dialer
	Store    SettingsStore
	Clock    clock.Clock
	Logger   *slog.Logger
	Observer metrics.Observer
}

type App struct {
	cfg      Config
	logger   *slog.Logger
	registry *speech.Registry
	arbiter  *audio.Arbiter
	media    audio.Media
	engine   local.Engine
	caller   api.Caller
	source   eventstream.Source
	dialer   aliyun.Dialer
	store    SettingsStore
	clock    clock.Clock
	observer metrics.Observer
	levels   metrics.Observer
	health   *observers.HealthObserver

	mu        sync.Mutex
	providers []speech.Provider
	queues    map[string]*syncqueue.Queue
	streams   []*eventstream.Stream
	drained   bool
}

func NewApp(opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	health := observers.NewHealthObserver(logging.NewComponentLogger(logger, "health"))
	observer := observers.NewMultiObserver(opts.Observer, health)

	caller := opts.Caller
	if caller == nil {
		caller = api.NewHTTPCaller(cfg.API.BaseURL, cfg.API.Timeout(), logger)
	}
	source := opts.Source
	if source == nil {
		source = eventstream.NewSSESource(api.NewStreamingClient())
	}
	store := opts.Store
	if store == nil {
		store = NewMemoryStore()
	}

	a := &App{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "livecore"),
		registry: speech.NewRegistry(logger),
		arbiter:  audio.NewArbiter(),
		media:    opts.Media,
		engine:   opts.Engine,
		caller:   caller,
		source:   source,
		dialer:   opts.Dialer,
		store:    store,
		clock:    clock.OrReal(opts.Clock),
		observer: observer,
		health:   health,
		levels:   metrics.NewSamplingObserver(observer, cfg.Observability.AudioLevelSampleRate, metrics.EventAudioLevel),
		queues:   make(map[string]*syncqueue.Queue),
	}
	if err := a.registerBuiltins(); err != nil {
		return nil, err
	}
	if err := a.registry.Register(speech.Registration{
		Kind:           speech.KindDeepgram,
		Name:           "Deepgram",
		Description:    "Deepgram live transcription over the official SDK",
		RequiresConfig: true,
		ConfigFields:   deepgram.ConfigFields,
		Factory: func(speech.ProviderConfig) speech.Provider {
			return deepgram.New(deepgram.Config{Media: a.media, Arbiter: a.arbiter, Logger: logger})
		},
	}); err != nil {
		return nil, err
	}

	a.logger.Info("livecore_init",
		"environment", cfg.Environment,
		"speech_provider", cfg.Speech.Provider,
		"sync_base_url", cfg.Sync.BaseURL,
		"redact_pii", cfg.Privacy.RedactPII,
	)
	return a, nil
}

func (a *App) registerBuiltins() error {
	logger := a.logger
	builtins := []speech.Registration{
		{
			Kind:        speech.KindLocal,
			Name:        "Local recognition",
			Description: "on-device recognition engine, no configuration required",
			Factory: func(speech.ProviderConfig) speech.Provider {
				return local.New(local.Config{
					Engine:  a.engine,
					Media:   a.media,
					Arbiter: a.arbiter,
					Clock:   a.clock,
					Logger:  logger,
				})
			},
		},
		{
			Kind:           speech.KindNetworked,
			Name:           "Aliyun NLS",
			Description:    "real-time transcription over the NLS SpeechTranscriber websocket",
			RequiresConfig: true,
			ConfigFields:   aliyun.ConfigFields,
			Factory: func(speech.ProviderConfig) speech.Provider {
				return aliyun.New(aliyun.Config{
					Media:            a.media,
					Arbiter:          a.arbiter,
					Dialer:           a.dialer,
					Clock:            a.clock,
					Logger:           logger,
					Observer:         a.observer,
					HandshakeTimeout: a.cfg.Speech.HandshakeTimeout(),
				})
			},
		},
		{
			Kind:        speech.KindMock,
			Name:        "Scripted",
			Description: "emits a fixed transcript, for demos and tests",
			Factory: func(cfg speech.ProviderConfig) speech.Provider {
				return mock.NewSTT(mock.STTConfig{
					Transcript: cfg.Setting("transcript"),
					Logger:     logger,
				})
			},
		},
	}
	for _, reg := range builtins {
		if err := a.registry.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Config() Config { return a.cfg }

func (a *App) Registry() *speech.Registry { return a.registry }

func (a *App) Arbiter() *audio.Arbiter { return a.arbiter }

func (a *App) Store() SettingsStore { return a.store }

// SpeechConfig returns the saved provider choice, or the configured one
// when nothing has been saved yet. Recognition defaults come from the
// speech section either way.
func (a *App) SpeechConfig() speech.ProviderConfig {
	configured := a.cfg.Speech.ProviderConfig()
	saved, err := a.store.Load()
	if err != nil {
		a.logger.Warn("settings_load_failed", "error", err)
		return configured
	}
	if saved.Kind == speech.KindLocal && len(saved.Settings) == 0 && configured.Kind != "" {
		return configured
	}
	if saved.Recognition.Language == "" {
		saved.Recognition = configured.Recognition
	}
	return saved
}

// SaveSpeechConfig validates cfg against its kind and persists it.
func (a *App) SaveSpeechConfig(cfg speech.ProviderConfig) error {
	if err := a.registry.Validate(cfg); err != nil {
		return err
	}
	if err := a.store.Save(cfg); err != nil {
		return err
	}
	a.logger.Info("speech_config_saved",
		"provider", string(cfg.Kind),
		"settings", configutil.MaskSecrets(cfg.Settings, a.registry.ConfigFields(cfg.Kind)))
	return nil
}

// NewSpeechProvider builds and initializes the provider for cfg. Unknown
// kinds degrade to the local provider.
func (a *App) NewSpeechProvider(cfg speech.ProviderConfig, cb speech.Callbacks) (speech.Provider, error) {
	if a.isDrained() {
		return nil, errorsx.New(errorsx.ReasonDestroyed, "app drained")
	}
	p, err := a.registry.Create(cfg)
	if err != nil {
		return nil, err
	}
	if p.Kind() != cfg.Kind.Normalize() {
		cfg = speech.ProviderConfig{Kind: p.Kind(), Recognition: cfg.Recognition}
	}
	if err := p.Initialize(cfg, a.instrument(p, cb)); err != nil {
		p.Destroy()
		return nil, err
	}
	a.mu.Lock()
	a.providers = append(a.providers, p)
	a.mu.Unlock()
	return p, nil
}

// instrument records sampled audio levels alongside the caller's callbacks.
func (a *App) instrument(p speech.Provider, cb speech.Callbacks) speech.Callbacks {
	user := cb.OnAudioLevel
	tags := map[string]string{"provider": p.Name()}
	cb.OnAudioLevel = func(level float64) {
		metrics.Record(a.levels, metrics.EventAudioLevel, level, tags)
		if user != nil {
			user(level)
		}
	}
	onError := cb.OnError
	cb.OnError = func(msg string) {
		metrics.Record(a.observer, metrics.EventSpeechFailed, 1, tags)
		if onError != nil {
			onError(msg)
		}
	}
	return cb
}

// NewSyncQueue returns the queue for sessionID, creating it on first use.
func (a *App) NewSyncQueue(sessionID string, cb syncqueue.Callbacks) (*syncqueue.Queue, error) {
	sessionID = strings.TrimSpace(sessionID)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.drained {
		return nil, errorsx.New(errorsx.ReasonDestroyed, "app drained")
	}
	if q, ok := a.queues[sessionID]; ok && !q.Destroyed() {
		return q, nil
	}
	q, err := syncqueue.New(syncqueue.Options{
		Config:    a.cfg.Sync.QueueConfig(sessionID),
		Caller:    a.caller,
		Callbacks: cb,
		Clock:     a.clock,
		Logger:    a.logger,
		Observer:  a.observer,
	})
	if err != nil {
		return nil, err
	}
	a.queues[sessionID] = q
	return q, nil
}

// NewStatusStream builds an unconnected status stream for a screening task.
func (a *App) NewStatusStream(taskID string, cb eventstream.Callbacks) (*eventstream.Stream, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, errorsx.New(errorsx.ReasonConfig, "status stream requires a task id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.drained {
		return nil, errorsx.New(errorsx.ReasonDestroyed, "app drained")
	}
	s := eventstream.New(eventstream.Options{
		URL:            eventstream.StatusStreamURL(a.cfg.Stream.BaseURL, taskID),
		Source:         a.source,
		ReconnectDelay: a.cfg.Stream.ReconnectDelay(),
		MaxReconnects:  a.cfg.Stream.MaxReconnects,
		Callbacks:      cb,
		Clock:          a.clock,
		Logger:         a.logger,
		Observer:       a.observer,
	})
	a.streams = append(a.streams, s)
	return s, nil
}

func (a *App) isDrained() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drained
}

// Drain flushes every live sync queue, then closes streams and destroys
// providers. Each queue gets up to the api timeout to flush.
func (a *App) Drain() error {
	a.mu.Lock()
	if a.drained {
		a.mu.Unlock()
		return nil
	}
	a.drained = true
	queues := make([]*syncqueue.Queue, 0, len(a.queues))
	for _, q := range a.queues {
		queues = append(queues, q)
	}
	streams := a.streams
	providers := a.providers
	a.streams, a.providers = nil, nil
	a.mu.Unlock()

	var errs []error
	for _, q := range queues {
		ctx, cancel := context.WithTimeout(context.Background(), a.flushTimeout())
		if _, err := q.ForceSyncNow(ctx); err != nil && !errorsx.HasReason(err, errorsx.ReasonDestroyed) {
			a.logger.Warn("drain_sync_failed", "session_id", q.SessionID(), "error", err)
			errs = append(errs, err)
		}
		cancel()
		q.Destroy()
	}
	for _, s := range streams {
		s.Close()
	}
	for _, p := range providers {
		p.Stop()
		p.Destroy()
	}
	a.health.LogSummary()
	a.logger.Info("livecore_drained", "queues", len(queues), "streams", len(streams), "providers", len(providers))
	return errors.Join(errs...)
}

// Health reports connection health across every component the app built.
func (a *App) Health() observers.Health {
	return a.health.Snapshot()
}

func (a *App) flushTimeout() time.Duration {
	if d := a.cfg.API.Timeout(); d > 0 {
		return d
	}
	return 10 * time.Second
}
