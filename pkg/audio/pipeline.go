package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
)

// Handlers receive encoded frames. Active gates every frame: when it returns
// false the frame is discarded before encoding.
type Handlers struct {
	Active  func() bool
	OnFrame func(pcm []byte)
	OnLevel func(level float64)
}

// Config controls capture.
type Config struct {
	SampleRate       int
	FrameSize        int
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConfig is 16 kHz, 4096-sample frames, echo cancellation and noise suppression on.
func DefaultConfig() Config {
	return Config{SampleRate: SampleRate, FrameSize: FrameSize, EchoCancellation: true, NoiseSuppression: true}
}

// Pipeline owns one microphone stream and one audio graph.
type Pipeline struct {
	media   Media
	arbiter *Arbiter
	cfg     Config
	logger  *slog.Logger

	gen atomic.Uint64

	mu        sync.Mutex
	stream    Stream
	graph     Graph
	running   bool
	teardowns int
}

func NewPipeline(media Media, arbiter *Arbiter, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = SampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = FrameSize
	}
	return &Pipeline{
		media:   media,
		arbiter: arbiter,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "audio_pipeline"),
	}
}

// Supported probes the runtime for microphone and audio-graph support.
func (p *Pipeline) Supported() bool {
	return p.media != nil && p.media.Supported()
}

// Running reports whether the pipeline currently holds capture resources.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Teardowns counts completed releases of capture resources.
func (p *Pipeline) Teardowns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.teardowns
}

// Start acquires the microphone and begins delivering frames. A Stop issued
// while Start waits on the permission prompt makes Start release whatever it
// acquired and return a canceled error.
func (p *Pipeline) Start(ctx context.Context, h Handlers) error {
	if !p.Supported() {
		return ErrUnsupported
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errorsx.New(errorsx.ReasonBusy, "audio pipeline already running")
	}
	gen := p.gen.Add(1)
	p.mu.Unlock()

	if err := p.arbiter.Acquire(p); err != nil {
		return err
	}

	stream, err := p.acquire(ctx)
	if err != nil {
		p.arbiter.Release(p)
		return err
	}
	if p.gen.Load() != gen {
		stopTracks(stream)
		p.arbiter.Release(p)
		return errorsx.New(errorsx.ReasonCanceled, "audio capture stopped during permission request")
	}

	graph, err := p.media.NewGraph(p.cfg.SampleRate)
	if err != nil {
		stopTracks(stream)
		p.arbiter.Release(p)
		return errorsx.Errorf(errorsx.ReasonCapability, "create audio graph: %w", err)
	}

	rate := graph.SampleRate()
	if rate != p.cfg.SampleRate {
		p.logger.Info("audio_resampling_enabled",
			slog.Int("context_rate", rate),
			slog.Int("target_rate", p.cfg.SampleRate))
	}
	process := func(samples []float32) {
		if p.gen.Load() != gen {
			return
		}
		if h.Active != nil && !h.Active() {
			return
		}
		wire := Resample(samples, rate, p.cfg.SampleRate)
		if h.OnFrame != nil {
			h.OnFrame(EncodePCM16(wire))
		}
		if h.OnLevel != nil {
			h.OnLevel(Level(samples))
		}
	}

	if err := graph.Connect(stream, p.cfg.FrameSize, process); err != nil {
		_ = graph.Close()
		stopTracks(stream)
		p.arbiter.Release(p)
		return errorsx.Errorf(errorsx.ReasonCapability, "connect audio graph: %w", err)
	}

	p.mu.Lock()
	if p.gen.Load() != gen {
		p.mu.Unlock()
		graph.Disconnect()
		stopTracks(stream)
		_ = graph.Close()
		p.arbiter.Release(p)
		return errorsx.New(errorsx.ReasonCanceled, "audio capture stopped during setup")
	}
	p.stream = stream
	p.graph = graph
	p.running = true
	p.mu.Unlock()

	p.logger.Debug("audio_capture_started",
		slog.Int("sample_rate", p.cfg.SampleRate),
		slog.Int("frame_size", p.cfg.FrameSize))
	return nil
}

func (p *Pipeline) acquire(ctx context.Context) (Stream, error) {
	c := Constraints{
		SampleRate:       p.cfg.SampleRate,
		ChannelCount:     Channels,
		EchoCancellation: p.cfg.EchoCancellation,
		NoiseSuppression: p.cfg.NoiseSuppression,
	}
	stream, err := p.media.GetUserMedia(ctx, c)
	if err != nil && errors.Is(err, ErrConstraintUnsupported) && (c.EchoCancellation || c.NoiseSuppression) {
		p.logger.Warn("audio_constraints_relaxed", slog.String("error", err.Error()))
		c.EchoCancellation = false
		c.NoiseSuppression = false
		stream, err = p.media.GetUserMedia(ctx, c)
	}
	if err != nil {
		if errorsx.Reason(err) == errorsx.ReasonUnknown {
			return nil, errorsx.Errorf(errorsx.ReasonPermission, "acquire microphone: %w", err)
		}
		return nil, err
	}
	return stream, nil
}

// Stop disconnects the graph, stops every track and closes the context, in
// that order. It reports whether anything was released; repeated calls are
// no-ops.
func (p *Pipeline) Stop() bool {
	p.mu.Lock()
	p.gen.Add(1)
	if !p.running {
		p.mu.Unlock()
		return false
	}
	graph, stream := p.graph, p.stream
	p.graph, p.stream = nil, nil
	p.running = false
	p.teardowns++
	p.mu.Unlock()

	graph.Disconnect()
	stopTracks(stream)
	if err := graph.Close(); err != nil {
		p.logger.Warn("audio_context_close_failed", slog.String("error", err.Error()))
	}
	p.arbiter.Release(p)
	p.logger.Debug("audio_capture_stopped")
	return true
}
