package audio_test

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/livecore/pkg/audio"
	"github.com/harunnryd/livecore/pkg/audio/mock"
	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
)

func newPipeline(m *mock.Media, arb *audio.Arbiter) *audio.Pipeline {
	return audio.NewPipeline(m, arb, audio.DefaultConfig(), logging.Discard())
}

func TestPipelineStartStopOrder(t *testing.T) {
	m := &mock.Media{}
	arb := audio.NewArbiter()
	p := newPipeline(m, arb)

	var frames atomic.Int32
	err := p.Start(context.Background(), audio.Handlers{
		OnFrame: func(pcm []byte) {
			if len(pcm) != 8 {
				t.Errorf("expected 8 bytes for 4 samples, got %d", len(pcm))
			}
			frames.Add(1)
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.Running() || !arb.Held() {
		t.Fatalf("expected running pipeline holding the microphone")
	}
	m.Emit([]float32{0, 0.1, -0.1, 1})
	if frames.Load() != 1 {
		t.Fatalf("expected one frame, got %d", frames.Load())
	}

	if !p.Stop() {
		t.Fatalf("first stop should release resources")
	}
	if p.Stop() {
		t.Fatalf("second stop should be a no-op")
	}
	want := []string{"get_user_media", "new_graph", "connect", "disconnect", "track_stop", "close"}
	if got := m.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if arb.Held() {
		t.Fatalf("microphone should be released")
	}
	if p.Teardowns() != 1 {
		t.Fatalf("expected one teardown, got %d", p.Teardowns())
	}
}

func TestPipelineUnsupported(t *testing.T) {
	p := newPipeline(&mock.Media{Unsupported: true}, nil)
	if p.Supported() {
		t.Fatalf("expected unsupported")
	}
	if err := p.Start(context.Background(), audio.Handlers{}); !errorsx.HasReason(err, errorsx.ReasonCapability) {
		t.Fatalf("expected capability error, got %v", err)
	}
}

func TestPipelinePermissionDenied(t *testing.T) {
	arb := audio.NewArbiter()
	p := newPipeline(&mock.Media{DenyPermission: true}, arb)
	err := p.Start(context.Background(), audio.Handlers{})
	if !errorsx.HasReason(err, errorsx.ReasonPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if arb.Held() || p.Running() {
		t.Fatalf("failed start must not hold resources")
	}
}

func TestPipelineRelaxesConstraints(t *testing.T) {
	m := &mock.Media{RejectConstraints: true}
	p := newPipeline(m, nil)
	if err := p.Start(context.Background(), audio.Handlers{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()
	c := m.LastConstraints()
	if c.EchoCancellation || c.NoiseSuppression {
		t.Fatalf("expected relaxed constraints, got %+v", c)
	}
	if c.SampleRate != audio.SampleRate || c.ChannelCount != 1 {
		t.Fatalf("rate and channels must be kept, got %+v", c)
	}
}

func TestPipelineStopDuringPermissionPrompt(t *testing.T) {
	gate := make(chan struct{})
	m := &mock.Media{Gate: gate}
	arb := audio.NewArbiter()
	p := newPipeline(m, arb)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Start(context.Background(), audio.Handlers{}) }()

	deadline := time.Now().Add(time.Second)
	for len(m.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("GetUserMedia was never called")
		}
		time.Sleep(time.Millisecond)
	}
	if p.Stop() {
		t.Fatalf("nothing to release yet")
	}
	close(gate)

	select {
	case err := <-errCh:
		if !errorsx.HasReason(err, errorsx.ReasonCanceled) {
			t.Fatalf("expected canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("start did not return")
	}
	want := []string{"get_user_media", "track_stop"}
	if got := m.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if arb.Held() || p.Running() {
		t.Fatalf("late stream must be released")
	}
}

func TestPipelineArbiterBusy(t *testing.T) {
	arb := audio.NewArbiter()
	first := newPipeline(&mock.Media{}, arb)
	second := newPipeline(&mock.Media{}, arb)
	if err := first.Start(context.Background(), audio.Handlers{}); err != nil {
		t.Fatalf("start first: %v", err)
	}
	if err := second.Start(context.Background(), audio.Handlers{}); !errorsx.HasReason(err, errorsx.ReasonBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	first.Stop()
	if err := second.Start(context.Background(), audio.Handlers{}); err != nil {
		t.Fatalf("start second after release: %v", err)
	}
	second.Stop()
}

func TestPipelineDropsFramesWhenInactive(t *testing.T) {
	m := &mock.Media{}
	p := newPipeline(m, nil)
	var active atomic.Bool
	var frames, levels atomic.Int32
	err := p.Start(context.Background(), audio.Handlers{
		Active:  active.Load,
		OnFrame: func([]byte) { frames.Add(1) },
		OnLevel: func(float64) { levels.Add(1) },
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()
	m.Emit([]float32{0.2})
	active.Store(true)
	m.Emit([]float32{0.2})
	if frames.Load() != 1 || levels.Load() != 1 {
		t.Fatalf("frames=%d levels=%d, want 1 each", frames.Load(), levels.Load())
	}
}

func TestPipelineResamplesToWireRate(t *testing.T) {
	m := &mock.Media{Rate: 48000}
	p := newPipeline(m, nil)
	var size atomic.Int32
	if err := p.Start(context.Background(), audio.Handlers{OnFrame: func(b []byte) { size.Store(int32(len(b))) }}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()
	m.Emit(make([]float32, 4800))
	if size.Load() != 3200 {
		t.Fatalf("expected 1600 samples (3200 bytes), got %d bytes", size.Load())
	}
}
