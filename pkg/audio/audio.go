// Package audio turns a live microphone stream into 16 kHz mono PCM16 frames.
//
// The runtime's media API (permission prompt, tracks, processing graph) is a
// collaborator expressed by the Media interface; Pipeline owns the lifecycle.
package audio

import (
	"context"

	"github.com/harunnryd/livecore/pkg/errorsx"
)

const (
	// SampleRate is the wire sample rate expected by the transcription services.
	SampleRate = 16000
	// Channels is always mono.
	Channels = 1
	// FrameSize is the number of samples handed to the encoder per tick.
	FrameSize = 4096
)

var (
	ErrUnsupported           = errorsx.New(errorsx.ReasonCapability, "audio capture is not supported in this runtime")
	ErrPermissionDenied      = errorsx.New(errorsx.ReasonPermission, "microphone permission denied")
	ErrConstraintUnsupported = errorsx.New(errorsx.ReasonCapability, "requested audio constraint is not supported")
	ErrMicrophoneBusy        = errorsx.New(errorsx.ReasonBusy, "microphone is held by another provider")
)

// Constraints are the capture properties requested from the runtime.
type Constraints struct {
	SampleRate       int
	ChannelCount     int
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConstraints requests 16 kHz mono with echo cancellation and noise suppression.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       SampleRate,
		ChannelCount:     Channels,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Track is one acquired media track.
type Track interface {
	Stop()
}

// Stream is an acquired microphone stream.
type Stream interface {
	Tracks() []Track
}

// ProcessFunc receives one frame of mono samples in [-1, 1].
type ProcessFunc func(samples []float32)

// Graph is the runtime audio context hosting the processing node.
type Graph interface {
	// SampleRate is the rate the context actually runs at.
	SampleRate() int
	Connect(stream Stream, frameSize int, process ProcessFunc) error
	Disconnect()
	Close() error
}

// Media is the runtime's microphone API.
type Media interface {
	Supported() bool
	// GetUserMedia may block on a permission prompt.
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
	NewGraph(sampleRate int) (Graph, error)
}

func stopTracks(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
