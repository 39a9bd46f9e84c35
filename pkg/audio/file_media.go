package audio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileMedia replays a raw little-endian PCM16 mono file as if it were a
// microphone. It lets headless hosts and examples drive the pipeline.
type FileMedia struct {
	Path string
	// Rate is the sample rate of the file. Zero means SampleRate.
	Rate int
	// Loop restarts playback at end of file instead of going silent.
	Loop bool
}

func (m *FileMedia) Supported() bool {
	if m == nil || m.Path == "" {
		return false
	}
	_, err := os.Stat(m.Path)
	return err == nil
}

func (m *FileMedia) GetUserMedia(ctx context.Context, _ Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return &fileStream{samples: DecodePCM16(data)}, nil
}

func (m *FileMedia) NewGraph(int) (Graph, error) {
	rate := m.Rate
	if rate <= 0 {
		rate = SampleRate
	}
	return &fileGraph{rate: rate, loop: m.Loop}, nil
}

type fileStream struct {
	samples []float32
	stopped bool
	mu      sync.Mutex
}

func (s *fileStream) Tracks() []Track { return []Track{s} }

func (s *fileStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fileStream) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

type fileGraph struct {
	rate int
	loop bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (g *fileGraph) SampleRate() int { return g.rate }

func (g *fileGraph) Connect(stream Stream, frameSize int, process ProcessFunc) error {
	fs, ok := stream.(*fileStream)
	if !ok {
		return fmt.Errorf("file graph: unexpected stream %T", stream)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		return fmt.Errorf("file graph: already connected")
	}
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	go g.play(fs, frameSize, process, g.stop, g.done)
	return nil
}

func (g *fileGraph) play(fs *fileStream, frameSize int, process ProcessFunc, stop, done chan struct{}) {
	defer close(done)
	tick := time.Duration(frameSize) * time.Second / time.Duration(g.rate)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	pos := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if !fs.live() {
			return
		}
		if pos >= len(fs.samples) {
			if !g.loop || len(fs.samples) == 0 {
				continue
			}
			pos = 0
		}
		end := min(pos+frameSize, len(fs.samples))
		frame := make([]float32, frameSize)
		copy(frame, fs.samples[pos:end])
		pos = end
		process(frame)
	}
}

func (g *fileGraph) Disconnect() {
	g.mu.Lock()
	stop, done := g.stop, g.done
	g.stop, g.done = nil, nil
	g.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (g *fileGraph) Close() error {
	g.Disconnect()
	return nil
}
