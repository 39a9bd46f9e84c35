// Package aliyun implements the networked speech provider on top of the
// Aliyun NLS SpeechTranscriber websocket protocol.
package aliyun

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/livecore/pkg/audio"
	"github.com/harunnryd/livecore/pkg/clock"
	"github.com/harunnryd/livecore/pkg/configutil"
	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/metrics"
	"github.com/harunnryd/livecore/pkg/redact"
	"github.com/harunnryd/livecore/pkg/speech"
)

// DefaultHandshakeTimeout bounds the wait for TranscriptionStarted.
const DefaultHandshakeTimeout = 15 * time.Second

const (
	msgUnsupported = "websocket or audio capture is not available in this runtime"
	msgConfig      = "networked speech recognition is not configured, set app_key and token in settings"
	msgConnect     = "speech recognition service connection failed"
	msgTimeout     = "connecting to the speech recognition service timed out"
)

// ConfigFields are the settings rendered for the networked kind.
var ConfigFields = []configutil.FieldDefinition{
	{Key: speech.SettingAppKey, Label: "AppKey", Type: configutil.FieldText, Required: true, Placeholder: "NLS project appkey"},
	{Key: speech.SettingToken, Label: "Token", Type: configutil.FieldPassword, Required: true},
	{Key: speech.SettingURL, Label: "Gateway URL", Type: configutil.FieldText, Placeholder: DefaultURL},
}

// Settings are the provider-specific keys of a networked config.
type Settings struct {
	URL    string `mapstructure:"url"`
	AppKey string `mapstructure:"app_key"`
	Token  string `mapstructure:"token"`
}

type Config struct {
	Media            audio.Media
	Arbiter          *audio.Arbiter
	Audio            audio.Config
	Dialer           Dialer
	Clock            clock.Clock
	Logger           *slog.Logger
	Observer         metrics.Observer
	HandshakeTimeout time.Duration
}

type Provider struct {
	*speech.Base

	pipeline *audio.Pipeline
	dialer   Dialer
	clock    clock.Clock
	observer metrics.Observer
	timeout  time.Duration

	mu       sync.Mutex
	settings Settings
	interim  bool
	sess     *session
}

func New(cfg Config) *Provider {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio = audio.DefaultConfig()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	base := speech.NewBase("aliyun_speech", speech.KindNetworked, cfg.Logger)
	return &Provider{
		Base:     base,
		pipeline: audio.NewPipeline(cfg.Media, cfg.Arbiter, cfg.Audio, base.Logger),
		dialer:   cfg.Dialer,
		clock:    clock.OrReal(cfg.Clock),
		observer: metrics.OrNoop(cfg.Observer),
		timeout:  cfg.HandshakeTimeout,
	}
}

// DecodeSettings reads and validates the networked settings map.
func DecodeSettings(cfg speech.ProviderConfig) (Settings, error) {
	var s Settings
	if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
		return s, errorsx.Errorf(errorsx.ReasonConfig, "decode networked settings: %w", err)
	}
	if err := configutil.RequireString(s.AppKey, "settings.app_key"); err != nil {
		return s, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	if err := configutil.RequireString(s.Token, "settings.token"); err != nil {
		return s, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	s.URL = configutil.StringValue(s.URL, DefaultURL)
	return s, nil
}

func (p *Provider) CheckSupport() bool {
	return p.SetSupported(p.dialer != nil && p.pipeline.Supported())
}

func (p *Provider) Initialize(cfg speech.ProviderConfig, cb speech.Callbacks) error {
	if p.Destroyed() {
		return errorsx.New(errorsx.ReasonDestroyed, "networked speech provider destroyed")
	}
	settings, err := DecodeSettings(cfg)
	if err != nil {
		p.Logger.Warn("speech_config_invalid", slog.String("error", err.Error()))
		return err
	}
	p.mu.Lock()
	p.settings = settings
	p.interim = cfg.Recognition.WithDefaults().WantsInterim()
	p.mu.Unlock()
	p.Bind(cfg, cb)
	p.CheckSupport()
	return nil
}

func (p *Provider) current() *session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess
}

// endpoint appends the token query parameter to the configured URL.
func endpoint(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Provider) fail(gen uint64, message string, err error) (bool, error) {
	p.pipeline.Stop()
	if p.Current(gen) {
		_ = p.Phase.Transition(speech.PhaseFailed, message)
		p.EmitError(message)
	}
	return false, err
}

func (p *Provider) Start(ctx context.Context) (bool, error) {
	if p.Destroyed() {
		return false, errorsx.New(errorsx.ReasonDestroyed, "networked speech provider destroyed")
	}
	if !p.Bound() {
		return false, errorsx.New(errorsx.ReasonConfig, msgConfig)
	}
	switch p.Phase.Phase() {
	case speech.PhaseListening:
		return true, nil
	case speech.PhaseStarting, speech.PhaseEnding:
		return false, errorsx.New(errorsx.ReasonBusy, "networked speech session already connecting")
	}
	if !p.CheckSupport() {
		p.EmitError(msgUnsupported)
		return false, errorsx.New(errorsx.ReasonCapability, msgUnsupported)
	}
	p.mu.Lock()
	settings, interim := p.settings, p.interim
	p.mu.Unlock()

	gen := p.Begin()
	if err := p.Phase.Transition(speech.PhaseStarting, "start"); err != nil {
		return false, err
	}
	startedAt := p.clock.Now()

	err := p.pipeline.Start(ctx, audio.Handlers{
		Active:  func() bool { s := p.current(); return s != nil && s.listening.Load() },
		OnFrame: p.sendFrame,
		OnLevel: p.levelHandler(),
	})
	if err != nil {
		if errorsx.HasReason(err, errorsx.ReasonCanceled) {
			return false, err
		}
		msg := "cannot access the microphone, make sure permission is granted"
		if errorsx.HasReason(err, errorsx.ReasonBusy) {
			msg = "the microphone is in use by another speech session"
		}
		return p.fail(gen, msg, err)
	}
	if !p.Current(gen) {
		p.pipeline.Stop()
		return false, errorsx.New(errorsx.ReasonCanceled, "networked speech start canceled")
	}

	wsURL, err := endpoint(settings.URL, settings.Token)
	if err != nil {
		return p.fail(gen, msgConnect, errorsx.Errorf(errorsx.ReasonConfig, "invalid speech endpoint: %w", err))
	}
	p.Logger.Info("speech_connecting", slog.String("url", redact.URL(wsURL)))
	conn, err := p.dialer.Dial(ctx, wsURL)
	if err != nil {
		p.Logger.Error("speech_dial_failed", slog.String("error", err.Error()))
		return p.fail(gen, msgConnect, errorsx.Errorf(errorsx.ReasonTransport, "dial speech service: %w", err))
	}

	sess := newSession(conn, settings.AppKey)
	p.mu.Lock()
	if !p.Current(gen) || (p.sess != nil) {
		p.mu.Unlock()
		sess.close(false)
		p.pipeline.Stop()
		return false, errorsx.New(errorsx.ReasonCanceled, "networked speech start canceled")
	}
	p.sess = sess
	p.mu.Unlock()
	go p.readLoop(sess)

	p.Logger.Debug("speech_task_created", slog.String("task_id", sess.taskID))
	if err := sess.send(StartCommand(sess.taskID, settings.AppKey, interim)); err != nil {
		p.detach(sess)
		sess.close(false)
		return p.fail(gen, msgConnect, errorsx.Errorf(errorsx.ReasonTransport, "send StartTranscription: %w", err))
	}

	switch res, msg := p.awaitHandshake(ctx, sess); res {
	case handshakeStarted:
		metrics.Record(p.observer, metrics.EventSpeechHandshake, float64(p.clock.Now().Sub(startedAt).Milliseconds()), map[string]string{"provider": "aliyun"})
		return true, nil
	case handshakeFailed:
		return false, errorsx.Errorf(errorsx.ReasonProtocol, "transcription task failed: %s", msg)
	case handshakeCanceled:
		return false, errorsx.New(errorsx.ReasonCanceled, "networked speech start canceled")
	case handshakeTimeout:
		p.Logger.Warn("speech_handshake_timeout", slog.Duration("timeout", p.timeout), slog.String("task_id", sess.taskID))
		p.detach(sess)
		sess.close(false)
		return p.fail(gen, msgTimeout, errorsx.New(errorsx.ReasonTimeout, msgTimeout))
	case handshakeClosed:
		p.detach(sess)
		return p.fail(gen, msgConnect, errorsx.New(errorsx.ReasonTransport, "speech service closed the connection during handshake"))
	default:
		p.detach(sess)
		sess.close(false)
		p.pipeline.Stop()
		p.Phase.ForceIdle("context canceled")
		return false, errorsx.Wrap(ctx.Err(), errorsx.ReasonCanceled)
	}
}

type handshakeResult int

const (
	handshakeStarted handshakeResult = iota
	handshakeFailed
	handshakeCanceled
	handshakeTimeout
	handshakeClosed
	handshakeContext
)

// awaitHandshake waits for TranscriptionStarted. When several outcomes are
// ready at once, a start, a task failure or a Stop wins over timeouts and
// socket closure.
func (p *Provider) awaitHandshake(ctx context.Context, sess *session) (handshakeResult, string) {
	timedOut := make(chan struct{})
	timer := p.clock.AfterFunc(p.timeout, func() { close(timedOut) })
	defer timer.Stop()

	var res handshakeResult
	select {
	case <-sess.started:
		return handshakeStarted, ""
	case msg := <-sess.failed:
		return handshakeFailed, msg
	case <-sess.abort:
		return handshakeCanceled, ""
	case <-timedOut:
		res = handshakeTimeout
	case <-sess.done:
		res = handshakeClosed
	case <-ctx.Done():
		res = handshakeContext
	}
	select {
	case <-sess.started:
		return handshakeStarted, ""
	default:
	}
	select {
	case msg := <-sess.failed:
		return handshakeFailed, msg
	case <-sess.abort:
		return handshakeCanceled, ""
	default:
	}
	return res, ""
}

func (p *Provider) levelHandler() func(float64) {
	if !p.HasLevelCallback() {
		return nil
	}
	return p.EmitLevel
}

// sendFrame forwards one PCM16 frame. Frames before the handshake completes
// are dropped.
func (p *Provider) sendFrame(pcm []byte) {
	s := p.current()
	if s == nil || !s.listening.Load() {
		return
	}
	if err := s.write(websocket.BinaryMessage, pcm); err != nil {
		p.Logger.Debug("speech_frame_dropped", slog.String("error", err.Error()))
	}
}

// detach forgets sess if it is still the current session.
func (p *Provider) detach(sess *session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != sess {
		return false
	}
	p.sess = nil
	return true
}

func (p *Provider) readLoop(sess *session) {
	defer close(sess.done)
	for {
		mt, data, err := sess.conn.ReadMessage()
		if err != nil {
			if !sess.closed.Load() {
				p.Logger.Warn("speech_connection_closed", slog.String("error", err.Error()))
			}
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			p.Logger.Warn("speech_message_malformed",
				slog.String("reason", string(errorsx.ReasonProtocol)),
				slog.String("error", err.Error()))
			continue
		}
		p.dispatch(sess, ev)
	}
	if sess.closed.Load() {
		return
	}
	// Server closed the socket under us.
	wasListening := sess.listening.Load()
	sess.close(false)
	if p.detach(sess) && sess.end() && wasListening {
		p.pipeline.Stop()
		p.Phase.ForceIdle("connection closed")
		p.EmitEnd()
	}
}

func (p *Provider) dispatch(sess *session, ev Event) {
	if p.current() != sess {
		return
	}
	switch ev.Header.Name {
	case NameTranscriptionStarted:
		sess.listening.Store(true)
		if err := p.Phase.Transition(speech.PhaseListening, "transcription started"); err != nil {
			p.Logger.Warn("speech_phase_invalid", slog.String("error", err.Error()))
		}
		p.ClearError()
		p.EmitStart()
		sess.markStarted()
	case NameTranscriptionResultChanged:
		if ev.Payload.Result != "" {
			p.EmitResult(ev.Payload.Result, false)
		}
	case NameSentenceEnd:
		if ev.Payload.Result != "" {
			p.EmitResult(ev.Payload.Result, true)
		}
	case NameTranscriptionCompleted:
		p.Logger.Info("speech_transcription_completed", slog.String("task_id", sess.taskID))
		p.endSession(sess, speech.PhaseIdle)
	case NameTaskFailed:
		msg := ev.FailureMessage()
		p.Logger.Error("speech_task_failed",
			slog.String("task_id", sess.taskID),
			slog.String("status", string(ev.Header.Status)),
			slog.String("message", msg))
		_ = p.Phase.Transition(speech.PhaseFailed, "task failed")
		p.EmitError(msg)
		sess.markFailed(msg)
		p.endSession(sess, speech.PhaseFailed)
	default:
		p.Logger.Debug("speech_message_ignored", slog.String("name", ev.Header.Name))
	}
}

// endSession closes a session the server finished and reports onEnd once.
func (p *Provider) endSession(sess *session, phase speech.Phase) {
	if !p.detach(sess) || !sess.end() {
		return
	}
	sess.close(false)
	p.pipeline.Stop()
	if phase == speech.PhaseIdle {
		p.Phase.ForceIdle("transcription completed")
	}
	p.EmitEnd()
}

// Stop sends StopTranscription on an open socket, closes it and releases
// audio resources. It is safe in any state.
func (p *Provider) Stop() {
	p.stop(!p.Destroyed())
}

func (p *Provider) stop(notify bool) {
	p.Invalidate()
	p.mu.Lock()
	sess := p.sess
	p.sess = nil
	p.mu.Unlock()

	wasListening := p.Phase.Phase() == speech.PhaseListening
	if sess != nil {
		sess.cancel()
		first := sess.end()
		sess.close(true)
		if !first {
			wasListening = false
		}
	}
	p.pipeline.Stop()
	p.Phase.ForceIdle("stop")
	if notify && wasListening {
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
	p.stop(false)
}

// TaskID returns the task id of the live session, if any.
func (p *Provider) TaskID() string {
	if s := p.current(); s != nil {
		return s.taskID
	}
	return ""
}

var _ speech.Provider = (*Provider)(nil)
