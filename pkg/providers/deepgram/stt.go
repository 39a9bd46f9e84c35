// Package deepgram implements a networked speech provider on the Deepgram
// live transcription API. It is registered at runtime to show that new
// provider kinds plug in without touching existing ones.
package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/livecore/pkg/audio"
	"github.com/harunnryd/livecore/pkg/configutil"
	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/speech"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const (
	DefaultModel = "nova-2"
	encoding     = "linear16"
)

// ConfigFields are the settings rendered for the deepgram kind.
var ConfigFields = []configutil.FieldDefinition{
	{Key: "api_key", Label: "API Key", Type: configutil.FieldPassword, Required: true},
	{Key: "model", Label: "Model", Type: configutil.FieldText, Placeholder: DefaultModel},
	{Key: "language", Label: "Language", Type: configutil.FieldText, Placeholder: speech.DefaultLanguage},
}

type Settings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
	VADEvents      bool   `mapstructure:"vad_events"`
}

// streamClient is the part of *client.WSCallback the provider drives.
type streamClient interface {
	Connect() bool
	Stream(r io.Reader) error
	Stop()
}

type clientFactory func(ctx context.Context, apiKey string, c *interfaces.ClientOptions, t *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (streamClient, error)

func sdkClient(ctx context.Context, apiKey string, c *interfaces.ClientOptions, t *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (streamClient, error) {
	dg, err := client.NewWSUsingCallback(ctx, apiKey, c, t, cb)
	if err != nil {
		return nil, err
	}
	return dg, nil
}

type Config struct {
	Media   audio.Media
	Arbiter *audio.Arbiter
	Audio   audio.Config
	Logger  *slog.Logger
}

type Provider struct {
	*speech.Base

	pipeline  *audio.Pipeline
	newClient clientFactory

	mu        sync.Mutex
	settings  Settings
	interim   bool
	dg        streamClient
	writer    *io.PipeWriter
	cancel    context.CancelFunc
	listening atomic.Bool
	metaSeen  atomic.Bool
}

func New(cfg Config) *Provider {
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio = audio.DefaultConfig()
	}
	base := speech.NewBase("deepgram_stt", speech.KindDeepgram, cfg.Logger)
	return &Provider{
		Base:      base,
		pipeline:  audio.NewPipeline(cfg.Media, cfg.Arbiter, cfg.Audio, base.Logger),
		newClient: sdkClient,
	}
}

func (p *Provider) CheckSupport() bool {
	return p.SetSupported(p.pipeline.Supported())
}

func (p *Provider) Initialize(cfg speech.ProviderConfig, cb speech.Callbacks) error {
	if p.Destroyed() {
		return errorsx.New(errorsx.ReasonDestroyed, "deepgram provider destroyed")
	}
	var s Settings
	if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
		return errorsx.Errorf(errorsx.ReasonConfig, "decode deepgram settings: %w", err)
	}
	if err := configutil.RequireString(s.APIKey, "settings.api_key"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	rc := cfg.Recognition.WithDefaults()
	s.Model = configutil.StringValue(s.Model, DefaultModel)
	s.Language = configutil.StringValue(s.Language, rc.Language)
	p.mu.Lock()
	p.settings = s
	p.interim = rc.WantsInterim()
	p.mu.Unlock()
	p.Bind(cfg, cb)
	p.CheckSupport()
	return nil
}

func (p *Provider) Start(ctx context.Context) (bool, error) {
	if p.Destroyed() {
		return false, errorsx.New(errorsx.ReasonDestroyed, "deepgram provider destroyed")
	}
	if !p.Bound() {
		return false, errorsx.New(errorsx.ReasonConfig, "deepgram provider not initialized")
	}
	switch p.Phase.Phase() {
	case speech.PhaseListening:
		return true, nil
	case speech.PhaseStarting:
		return false, errorsx.New(errorsx.ReasonBusy, "deepgram session already connecting")
	}
	if !p.CheckSupport() {
		p.EmitError("audio capture is not available in this runtime")
		return false, errorsx.New(errorsx.ReasonCapability, "audio capture unsupported")
	}
	p.mu.Lock()
	s, interim := p.settings, p.interim
	p.mu.Unlock()

	gen := p.Begin()
	if err := p.Phase.Transition(speech.PhaseStarting, "start"); err != nil {
		return false, err
	}

	pr, pw := io.Pipe()
	var level func(float64)
	if p.HasLevelCallback() {
		level = p.EmitLevel
	}
	err := p.pipeline.Start(ctx, audio.Handlers{
		Active:  p.listening.Load,
		OnFrame: func(pcm []byte) { p.forward(pw, pcm) },
		OnLevel: level,
	})
	if err != nil {
		_ = pw.Close()
		if errorsx.HasReason(err, errorsx.ReasonCanceled) {
			return false, err
		}
		return p.fail(gen, "cannot access the microphone, make sure permission is granted", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.Model,
		Language:       s.Language,
		Encoding:       encoding,
		SampleRate:     audio.SampleRate,
		Channels:       audio.Channels,
		InterimResults: interim,
		VadEvents:      s.VADEvents,
		SmartFormat:    true,
		Punctuate:      true,
	}
	if s.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", s.UtteranceEndMS)
	}
	p.Logger.Info("deepgram_connecting",
		slog.String("model", s.Model),
		slog.String("language", s.Language),
		slog.Int("sample_rate", audio.SampleRate))

	dg, err := p.newClient(sctx, s.APIKey, &interfaces.ClientOptions{EnableKeepAlive: true}, transcriptOptions, &callback{parent: p, gen: gen})
	if err != nil {
		cancel()
		_ = pw.Close()
		p.Logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return p.fail(gen, "speech recognition service connection failed", errorsx.Wrap(err, errorsx.ReasonConfig))
	}
	if !dg.Connect() {
		cancel()
		_ = pw.Close()
		p.Logger.Error("deepgram_connect_failed")
		return p.fail(gen, "speech recognition service connection failed", errorsx.New(errorsx.ReasonTransport, "deepgram connection failed"))
	}
	if !p.Current(gen) {
		dg.Stop()
		cancel()
		_ = pw.Close()
		p.pipeline.Stop()
		return false, errorsx.New(errorsx.ReasonCanceled, "deepgram start canceled")
	}

	p.mu.Lock()
	p.dg, p.writer, p.cancel = dg, pw, cancel
	p.mu.Unlock()

	go func() {
		if err := dg.Stream(pr); err != nil && sctx.Err() == nil {
			p.Logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		}
	}()

	p.listening.Store(true)
	_ = p.Phase.Transition(speech.PhaseListening, "connected")
	p.ClearError()
	p.EmitStart()
	p.Logger.Info("deepgram_connected", slog.String("model", s.Model))
	return true, nil
}

func (p *Provider) fail(gen uint64, message string, err error) (bool, error) {
	p.pipeline.Stop()
	if p.Current(gen) {
		_ = p.Phase.Transition(speech.PhaseFailed, message)
		p.EmitError(message)
	}
	return false, err
}

func (p *Provider) forward(w *io.PipeWriter, pcm []byte) {
	if !p.listening.Load() {
		return
	}
	if _, err := w.Write(pcm); err != nil {
		p.Logger.Debug("deepgram_frame_dropped", slog.String("error", err.Error()))
	}
}

// release tears down the live connection and reports whether one existed.
func (p *Provider) release() bool {
	p.listening.Store(false)
	p.mu.Lock()
	dg, w, cancel := p.dg, p.writer, p.cancel
	p.dg, p.writer, p.cancel = nil, nil, nil
	p.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
	if dg != nil {
		dg.Stop()
	}
	if cancel != nil {
		cancel()
	}
	p.pipeline.Stop()
	return dg != nil
}

func (p *Provider) Stop() {
	p.Invalidate()
	wasListening := p.Phase.Phase() == speech.PhaseListening
	p.release()
	p.Phase.ForceIdle("stop")
	if wasListening {
		p.EmitEnd()
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
	p.release()
	p.Phase.ForceIdle("destroyed")
}

// remoteClosed handles a close initiated by the service.
func (p *Provider) remoteClosed(gen uint64) {
	if !p.Current(gen) || !p.listening.Load() {
		return
	}
	p.release()
	p.Phase.ForceIdle("remote closed")
	p.EmitEnd()
}

type callback struct {
	parent *Provider
	gen    uint64
}

func (c *callback) live() bool { return c.parent.Current(c.gen) }

func (c *callback) Open(*msginterfaces.OpenResponse) error {
	c.parent.Logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if !c.live() || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	c.parent.EmitResult(transcript, mr.IsFinal || mr.SpeechFinal)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if c.parent.metaSeen.CompareAndSwap(false, true) {
		c.parent.Logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	c.parent.Logger.Debug("speech_started_event")
	return nil
}

func (c *callback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.parent.Logger.Debug("utterance_end_event")
	return nil
}

func (c *callback) Close(*msginterfaces.CloseResponse) error {
	c.parent.Logger.Info("deepgram_connection_closed")
	c.parent.remoteClosed(c.gen)
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.Logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	if c.live() {
		c.parent.EmitError(fmt.Sprintf("error code: %s, %s", er.ErrCode, er.ErrMsg))
	}
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.Logger.Debug("deepgram_unhandled_event", slog.String("data", string(byData)))
	return nil
}

var (
	_ speech.Provider                   = (*Provider)(nil)
	_ msginterfaces.LiveMessageCallback = (*callback)(nil)
)
