package livecore

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/harunnryd/livecore/pkg/api"
	mockaudio "github.com/harunnryd/livecore/pkg/audio/mock"
	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/eventstream"
	"github.com/harunnryd/livecore/pkg/logging"
	"github.com/harunnryd/livecore/pkg/providers/aliyun"
	"github.com/harunnryd/livecore/pkg/speech"
	"github.com/harunnryd/livecore/pkg/syncqueue"
)

type nopSource struct{}

func (nopSource) Open(context.Context, string, string) (eventstream.Conn, error) {
	return nil, errorsx.New(errorsx.ReasonTransport, "offline")
}

func newTestApp(t *testing.T, caller api.Caller) *App {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Stream.BaseURL = "https://hr.example.com"
	app, err := NewApp(Options{
		Config: cfg,
		Caller: caller,
		Source: nopSource{},
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app
}

func okCaller(calls *atomic.Int32) api.Caller {
	return api.CallerFunc(func(context.Context, string, string, any) (api.Response, error) {
		calls.Add(1)
		return api.Response{Success: true}, nil
	})
}

func TestBuiltinRegistrations(t *testing.T) {
	app := newTestApp(t, nil)
	reg := app.Registry()
	for _, kind := range []speech.Kind{speech.KindLocal, speech.KindNetworked, speech.KindMock, speech.KindDeepgram} {
		if !reg.Has(kind) {
			t.Fatalf("kind %s not registered", kind)
		}
	}
	if reg.RequiresConfig(speech.KindLocal) || !reg.RequiresConfig(speech.KindNetworked) {
		t.Fatalf("requires config flags wrong")
	}
	fields := reg.ConfigFields(speech.KindNetworked)
	required := map[string]bool{}
	for _, f := range fields {
		required[f.Key] = f.Required
	}
	if !required["app_key"] || !required["token"] || required["url"] {
		t.Fatalf("networked fields = %+v", fields)
	}
}

func TestSaveSpeechConfigValidates(t *testing.T) {
	app := newTestApp(t, nil)
	bad := speech.NetworkedConfig("", "app", "")
	if err := app.SaveSpeechConfig(bad); !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("missing token err = %v", err)
	}
	good := speech.NetworkedConfig("", "app", "tok")
	if err := app.SaveSpeechConfig(good); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := app.SpeechConfig(); got.Kind != speech.KindNetworked || got.Setting("token") != "tok" {
		t.Fatalf("speech config = %+v", got)
	}
}

func TestUnknownKindFallsBackToLocal(t *testing.T) {
	app := newTestApp(t, nil)
	p, err := app.NewSpeechProvider(speech.ProviderConfig{Kind: "carrier-pigeon"}, speech.Callbacks{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Kind() != speech.KindLocal {
		t.Fatalf("kind = %s", p.Kind())
	}
	if p.State().Supported {
		t.Fatalf("local provider without an engine must be unsupported")
	}
}

func TestMockProviderThroughApp(t *testing.T) {
	app := newTestApp(t, nil)
	var results []string
	p, err := app.NewSpeechProvider(
		speech.ProviderConfig{Kind: speech.KindMock, Settings: map[string]any{"transcript": "tell me about yourself"}},
		speech.Callbacks{OnResult: func(text string, final bool) {
			if final {
				results = append(results, text)
			}
		}},
	)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := p.Start(context.Background()); !ok || err != nil {
		t.Fatalf("start = %v %v", ok, err)
	}
	if len(results) != 1 || results[0] != "tell me about yourself" {
		t.Fatalf("results = %v", results)
	}
	if err := app.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if p.State().Listening {
		t.Fatalf("drain must stop providers")
	}
}

func TestNetworkedProviderRequiresCredentials(t *testing.T) {
	app := newTestApp(t, nil)
	if _, err := app.NewSpeechProvider(speech.ProviderConfig{Kind: speech.KindNetworked}, speech.Callbacks{}); !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("err = %v", err)
	}
}

type refusingDialer struct{}

func (refusingDialer) Dial(context.Context, string) (aliyun.Conn, error) {
	return nil, errorsx.New(errorsx.ReasonTransport, "connection refused")
}

func TestSpeechFailureCountedOnce(t *testing.T) {
	app, err := NewApp(Options{
		Config: DefaultConfig(),
		Media:  &mockaudio.Media{},
		Dialer: refusingDialer{},
		Source: nopSource{},
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	var errorsSeen atomic.Int32
	p, err := app.NewSpeechProvider(speech.ProviderConfig{
		Kind:     speech.KindNetworked,
		Settings: map[string]any{"app_key": "k", "token": "t"},
	}, speech.Callbacks{OnError: func(string) { errorsSeen.Add(1) }})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if _, err := p.Start(context.Background()); !errorsx.HasReason(err, errorsx.ReasonTransport) {
		t.Fatalf("start err = %v", err)
	}
	if errorsSeen.Load() != 1 {
		t.Fatalf("onError calls = %d", errorsSeen.Load())
	}
	if h := app.Health(); h.SpeechFailures != 1 {
		t.Fatalf("speech failures = %d", h.SpeechFailures)
	}
	_ = app.Drain()
}

func TestSyncQueuePerSession(t *testing.T) {
	app := newTestApp(t, nil)
	a, err := app.NewSyncQueue("s1", syncqueue.Callbacks{})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	b, _ := app.NewSyncQueue("s1", syncqueue.Callbacks{})
	c, _ := app.NewSyncQueue("s2", syncqueue.Callbacks{})
	if a != b || a == c {
		t.Fatalf("queues must be shared per session")
	}
	if got := a.Config().Endpoint(); got != "/api/v1/immersive/s1/sync" {
		t.Fatalf("endpoint = %s", got)
	}
}

func TestDrainFlushesQueues(t *testing.T) {
	var calls atomic.Int32
	app := newTestApp(t, okCaller(&calls))
	q, _ := app.NewSyncQueue("s1", syncqueue.Callbacks{})
	_ = q.Enqueue(syncqueue.Utterance{Speaker: "candidate", Text: "done"})
	stream, err := app.NewStatusStream("task-9", eventstream.Callbacks{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	if err := app.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("sync calls = %d", calls.Load())
	}
	if h := app.Health(); h.SyncAttempts != 1 || h.SyncFailures != 0 {
		t.Fatalf("health = %+v", h)
	}
	if !q.Destroyed() || stream.Active() {
		t.Fatalf("drain left live components")
	}
	if _, err := app.NewSyncQueue("s3", syncqueue.Callbacks{}); !errorsx.HasReason(err, errorsx.ReasonDestroyed) {
		t.Fatalf("queue after drain err = %v", err)
	}
	if err := app.Drain(); err != nil {
		t.Fatalf("second drain: %v", err)
	}
}

func TestNewStatusStreamRequiresTask(t *testing.T) {
	app := newTestApp(t, nil)
	if _, err := app.NewStatusStream(" ", eventstream.Callbacks{}); !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("err = %v", err)
	}
}
