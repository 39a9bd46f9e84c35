// Package eventstream consumes a one-way server push channel as if it were
// always connected. Drops are reconnected after a fixed delay and envelope
// messages are dispatched by type.
package eventstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/livecore/pkg/clock"
	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
	"github.com/harunnryd/livecore/pkg/metrics"
	"github.com/harunnryd/livecore/pkg/resilience"
)

const DefaultReconnectDelay = 3 * time.Second

const (
	msgUnsupported  = "server push is not supported in this runtime; status updates are unavailable"
	msgReconnecting = "status stream disconnected, reconnecting"
	msgServerError  = "status stream error"
	msgExhausted    = "status stream could not reconnect"
)

// Envelope types.
const (
	TypeConnected = "connected"
	TypeHeartbeat = "heartbeat"
	TypeError     = "error"
	TypeStatus    = "status"
)

// Envelope is the tagged JSON wrapper carried by every pushed message.
type Envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Callbacks never fire after Close returns.
type Callbacks struct {
	OnOpen      func()
	OnStatus    func(data map[string]any)
	OnError     func(msg string)
	OnExhausted func()
}

type Options struct {
	URL            string
	Source         Source
	ReconnectDelay time.Duration
	// MaxReconnects bounds consecutive reconnects; zero means unlimited.
	MaxReconnects int
	Callbacks     Callbacks
	Clock         clock.Clock
	Logger        *slog.Logger
	Observer      metrics.Observer
}

type Stream struct {
	mu       sync.Mutex
	url      string
	source   Source
	delay    time.Duration
	cb       Callbacks
	clock    clock.Clock
	logger   *slog.Logger
	observer metrics.Observer

	active      bool
	closed      bool
	unsupported bool
	gen         uint64
	conn        Conn
	cancel      context.CancelFunc
	timer       clock.Timer
	tseq        uint64
	lastID      string
	budget      *resilience.Budget
	gate        resilience.AlertGate
}

func New(opts Options) *Stream {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		url:      opts.URL,
		source:   opts.Source,
		delay:    delay,
		cb:       opts.Callbacks,
		clock:    clock.OrReal(opts.Clock),
		logger:   logging.NewComponentLogger(logger, "event_stream"),
		observer: metrics.OrNoop(opts.Observer),
		budget:   resilience.NewBudget(opts.MaxReconnects),
	}
}

// Connect opens the stream in the background. Calling it on an open stream
// does nothing; a closed stream stays closed.
func (s *Stream) Connect() {
	s.mu.Lock()
	if s.active || s.closed {
		s.mu.Unlock()
		return
	}
	if s.source == nil {
		s.mu.Unlock()
		s.reportUnsupported()
		return
	}
	s.active = true
	s.mu.Unlock()
	go s.dial()
}

// Active reports whether the stream is connected or reconnecting.
func (s *Stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LastEventID returns the id of the most recent message, sent on reconnect.
func (s *Stream) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

func (s *Stream) dial() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	prior := s.conn
	s.conn = nil
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	lastID := s.lastID
	s.mu.Unlock()

	if prior != nil {
		_ = prior.Close()
	}

	conn, err := s.source.Open(ctx, s.url, lastID)

	s.mu.Lock()
	if !s.active || gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		if errorsx.HasReason(err, errorsx.ReasonCapability) {
			s.mu.Lock()
			s.active = false
			s.mu.Unlock()
			s.reportUnsupported()
			return
		}
		s.fail(gen, err)
		return
	}
	s.conn = conn
	s.stopTimerLocked()
	s.budget.Reset()
	s.gate.Reset()
	s.mu.Unlock()

	s.logger.Info("stream_opened", "url", s.url, "last_event_id", lastID)
	metrics.Record(s.observer, metrics.EventStreamOpen, 1, nil)
	if cb := s.cb.OnOpen; cb != nil && s.current(gen) {
		cb()
	}
	s.read(gen, conn)
}

func (s *Stream) read(gen uint64, conn Conn) {
	for {
		msg, err := conn.Next()
		if err != nil {
			s.fail(gen, err)
			return
		}
		s.mu.Lock()
		if gen != s.gen || !s.active {
			s.mu.Unlock()
			return
		}
		if msg.ID != "" {
			s.lastID = msg.ID
		}
		s.mu.Unlock()
		s.dispatch(gen, msg)
	}
}

func (s *Stream) dispatch(gen uint64, msg Message) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Data), &env); err != nil {
		s.logger.Error("stream_message_malformed", "error", err)
		return
	}
	switch env.Type {
	case "", TypeConnected, TypeHeartbeat:
		return
	case TypeError:
		text := env.Message
		if text == "" {
			text = msgServerError
		}
		s.logger.Warn("stream_server_error", "message", text)
		if cb := s.cb.OnError; cb != nil && s.current(gen) {
			cb(text)
		}
	case TypeStatus:
		if len(env.Data) == 0 {
			return
		}
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err != nil || data == nil {
			s.logger.Error("stream_status_malformed", "error", err)
			return
		}
		if cb := s.cb.OnStatus; cb != nil && s.current(gen) {
			cb(data)
		}
	default:
		s.logger.Debug("stream_message_ignored", "type", env.Type)
	}
}

// fail closes the current connection and schedules the single reconnect.
func (s *Stream) fail(gen uint64, cause error) {
	s.mu.Lock()
	if !s.active || gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.timer != nil {
		s.mu.Unlock()
		return
	}
	attempt, ok := s.budget.Next()
	if !ok {
		s.active = false
		s.mu.Unlock()
		s.logger.Error("stream_reconnect_exhausted", "attempts", attempt, "error", cause)
		if s.cb.OnError != nil {
			s.cb.OnError(msgExhausted)
		}
		if s.cb.OnExhausted != nil {
			s.cb.OnExhausted()
		}
		return
	}
	first := s.gate.First()
	s.tseq++
	seq := s.tseq
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(seq) })
	s.mu.Unlock()

	s.logger.Warn("stream_reconnect_scheduled", "attempt", attempt, "delay", s.delay, "error", cause)
	metrics.Record(s.observer, metrics.EventStreamReconnect, float64(attempt), map[string]string{
		"attempt": strconv.Itoa(attempt),
	})
	if cb := s.cb.OnError; cb != nil && first && s.current(gen) {
		cb(msgReconnecting)
	}
}

func (s *Stream) fire(seq uint64) {
	s.mu.Lock()
	if !s.active || seq != s.tseq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()
	go s.dial()
}

func (s *Stream) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.tseq++
}

func (s *Stream) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && gen == s.gen
}

func (s *Stream) reportUnsupported() {
	s.mu.Lock()
	if s.unsupported {
		s.mu.Unlock()
		return
	}
	s.unsupported = true
	s.closed = true
	s.mu.Unlock()
	s.logger.Error("stream_unsupported")
	if s.cb.OnError != nil {
		s.cb.OnError(msgUnsupported)
	}
}

// Close stops the stream for good: the pending reconnect is cancelled and
// the live connection closed. Late errors from the old connection are
// ignored.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed && !s.active {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.active = false
	s.gen++
	s.stopTimerLocked()
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.logger.Info("stream_closed")
}
