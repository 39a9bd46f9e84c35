package observers

import (
	"log/slog"
	"sync"

	"github.com/harunnryd/livecore/pkg/metrics"
)

// Health summarizes how the communication components coped with the
// network so far.
type Health struct {
	SyncAttempts     int
	SyncFailures     int
	SyncRetries      int
	SyncExhausted    int
	AvgSyncMS        float64
	StreamOpens      int
	StreamReconnects int
	Handshakes       int
	AvgHandshakeMS   float64
	SpeechFailures   int
}

// HealthObserver folds sync, stream and speech events into Health and logs
// when a component gives up.
type HealthObserver struct {
	mu        sync.Mutex
	h         Health
	syncOK    int
	syncTotal float64
	hsTotal   float64
	log       *slog.Logger
}

func NewHealthObserver(log *slog.Logger) *HealthObserver {
	if log == nil {
		log = slog.Default()
	}
	return &HealthObserver{log: log}
}

func (o *HealthObserver) RecordEvent(ev metrics.MetricsEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Name {
	case metrics.EventSyncAttempt:
		o.h.SyncAttempts++
		if ev.Tags["success"] == "false" {
			o.h.SyncFailures++
			return
		}
		o.syncOK++
		o.syncTotal += ev.Value
		o.h.AvgSyncMS = o.syncTotal / float64(o.syncOK)
	case metrics.EventSyncRetry:
		o.h.SyncRetries++
	case metrics.EventSyncExhausted:
		o.h.SyncExhausted++
		o.log.Warn("sync_records_dropped", "session_id", ev.Tags["session_id"], "records", int(ev.Value))
	case metrics.EventStreamOpen:
		o.h.StreamOpens++
	case metrics.EventStreamReconnect:
		o.h.StreamReconnects++
	case metrics.EventSpeechHandshake:
		o.h.Handshakes++
		o.hsTotal += ev.Value
		o.h.AvgHandshakeMS = o.hsTotal / float64(o.h.Handshakes)
	case metrics.EventSpeechFailed:
		o.h.SpeechFailures++
	}
}

func (o *HealthObserver) Snapshot() Health {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.h
}

// LogSummary writes the current snapshot at info level.
func (o *HealthObserver) LogSummary() {
	h := o.Snapshot()
	o.log.Info("connection_health",
		"sync_attempts", h.SyncAttempts,
		"sync_failures", h.SyncFailures,
		"sync_retries", h.SyncRetries,
		"sync_exhausted", h.SyncExhausted,
		"avg_sync_ms", h.AvgSyncMS,
		"stream_opens", h.StreamOpens,
		"stream_reconnects", h.StreamReconnects,
		"handshakes", h.Handshakes,
		"avg_handshake_ms", h.AvgHandshakeMS,
		"speech_failures", h.SpeechFailures,
	)
}
