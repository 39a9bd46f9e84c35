package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"

	"github.com/harunnryd/livecore/pkg/audio/mock"
	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
	"github.com/harunnryd/livecore/pkg/speech"
)

type fakeClient struct {
	connect bool
	mu      sync.Mutex
	buf     bytes.Buffer
	stops   int
	read    chan struct{}
}

func (c *fakeClient) Connect() bool { return c.connect }

func (c *fakeClient) Stream(r io.Reader) error {
	chunk := make([]byte, 1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			c.mu.Lock()
			c.buf.Write(chunk[:n])
			c.mu.Unlock()
			c.read <- struct{}{}
		}
		if err != nil {
			return nil
		}
	}
}

func (c *fakeClient) Stop() {
	c.mu.Lock()
	c.stops++
	c.mu.Unlock()
}

type captured struct {
	apiKey string
	opts   *interfaces.LiveTranscriptionOptions
	cb     msginterfaces.LiveMessageCallback
}

func newTestProvider(t *testing.T, fc *fakeClient, media *mock.Media, cb speech.Callbacks) (*Provider, *captured) {
	t.Helper()
	p := New(Config{Media: media, Logger: logging.Discard()})
	got := &captured{}
	p.newClient = func(_ context.Context, apiKey string, _ *interfaces.ClientOptions, opts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (streamClient, error) {
		got.apiKey, got.opts, got.cb = apiKey, opts, cb
		return fc, nil
	}
	cfg := speech.ProviderConfig{Kind: speech.KindDeepgram, Settings: map[string]any{"api_key": "dg-key", "language": "en-US"}}
	if err := p.Initialize(cfg, cb); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return p, got
}

func TestInitializeRequiresAPIKey(t *testing.T) {
	p := New(Config{Media: &mock.Media{}, Logger: logging.Discard()})
	err := p.Initialize(speech.ProviderConfig{Kind: speech.KindDeepgram}, speech.Callbacks{})
	if !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestStreamAndResults(t *testing.T) {
	fc := &fakeClient{connect: true, read: make(chan struct{}, 16)}
	media := &mock.Media{}
	var mu sync.Mutex
	var results []string
	starts, ends := 0, 0
	p, got := newTestProvider(t, fc, media, speech.Callbacks{
		OnResult: func(text string, final bool) {
			mu.Lock()
			defer mu.Unlock()
			if final {
				text = "F:" + text
			}
			results = append(results, text)
		},
		OnStart: func() { starts++ },
		OnEnd:   func() { ends++ },
	})

	ok, err := p.Start(context.Background())
	if !ok || err != nil {
		t.Fatalf("start: %v %v", ok, err)
	}
	if got.apiKey != "dg-key" || got.opts.Model != DefaultModel || got.opts.Language != "en-US" ||
		got.opts.Encoding != "linear16" || got.opts.SampleRate != 16000 || !got.opts.InterimResults {
		t.Fatalf("unexpected options %+v", got.opts)
	}
	if starts != 1 || !p.State().Listening {
		t.Fatalf("expected listening with one start")
	}

	go media.Emit([]float32{1, -1})
	select {
	case <-fc.read:
	case <-time.After(2 * time.Second):
		t.Fatalf("frame never reached the stream")
	}
	fc.mu.Lock()
	frame := append([]byte(nil), fc.buf.Bytes()...)
	fc.mu.Unlock()
	if !bytes.Equal(frame, []byte{0xff, 0x7f, 0x00, 0x80}) {
		t.Fatalf("unexpected frame % x", frame)
	}

	var interim, final msginterfaces.MessageResponse
	_ = json.Unmarshal([]byte(`{"channel":{"alternatives":[{"transcript":"hel"}]}}`), &interim)
	_ = json.Unmarshal([]byte(`{"channel":{"alternatives":[{"transcript":"hello"}]},"is_final":true}`), &final)
	_ = got.cb.Message(&interim)
	_ = got.cb.Message(&final)

	p.Stop()
	p.Stop()
	_ = got.cb.Message(&final)

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 2 || results[0] != "hel" || results[1] != "F:hello" {
		t.Fatalf("results = %v", results)
	}
	if ends != 1 || fc.stops != 1 {
		t.Fatalf("ends=%d stops=%d, want 1 each", ends, fc.stops)
	}
}

func TestConnectFailure(t *testing.T) {
	fc := &fakeClient{connect: false, read: make(chan struct{}, 1)}
	media := &mock.Media{}
	var errs []string
	p, _ := newTestProvider(t, fc, media, speech.Callbacks{OnError: func(m string) { errs = append(errs, m) }})
	ok, err := p.Start(context.Background())
	if ok || !errorsx.HasReason(err, errorsx.ReasonTransport) {
		t.Fatalf("expected transport error, got %v %v", ok, err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected one error callback, got %v", errs)
	}
	if calls := media.Calls(); calls[len(calls)-1] != "close" {
		t.Fatalf("audio must be released, calls=%v", calls)
	}
}
