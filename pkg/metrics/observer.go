package metrics

import "time"

// Event names emitted by the communication components.
const (
	EventSyncAttempt     = "sync_attempt"
	EventSyncRetry       = "sync_retry"
	EventSyncExhausted   = "sync_exhausted"
	EventStreamOpen      = "stream_open"
	EventStreamReconnect = "stream_reconnect"
	EventSpeechHandshake = "speech_handshake"
	EventSpeechFailed    = "speech_failed"
	EventAudioLevel      = "audio_level"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// OrNoop returns o, or a NoopObserver when o is nil.
func OrNoop(o Observer) Observer {
	if o == nil {
		return NoopObserver{}
	}
	return o
}

// Record is shorthand for building and recording an event stamped now.
func Record(o Observer, name string, value float64, tags map[string]string) {
	if o == nil {
		return
	}
	o.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}
