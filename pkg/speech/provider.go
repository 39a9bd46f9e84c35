package speech

import "context"

// Callbacks are the events a provider reports. Any field may be nil.
type Callbacks struct {
	OnResult     func(text string, isFinal bool)
	OnError      func(message string)
	OnStart      func()
	OnEnd        func()
	OnAudioLevel func(level float64)
}

// State is the externally visible provider state.
type State struct {
	Supported bool
	Listening bool
	LastError string
}

// Provider is implemented by every speech recognition backend.
type Provider interface {
	Name() string
	Kind() Kind
	// CheckSupport probes the runtime. It may be called before Initialize.
	CheckSupport() bool
	// Initialize binds callbacks and validates config. A config error means
	// Start must not be attempted.
	Initialize(cfg ProviderConfig, cb Callbacks) error
	// Start begins listening. Calling it while already listening returns true.
	Start(ctx context.Context) (bool, error)
	// Stop is safe in any state and releases microphone, graph and socket.
	Stop()
	// Reset stops, then clears the last error and buffered transcript.
	Reset()
	// Destroy is terminal; every later call is a no-op.
	Destroy()
	State() State
	Transcript() *Transcript
}
