package aliyun

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// session is one websocket connection carrying one transcription task.
type session struct {
	conn   Conn
	taskID string
	appKey string

	writeMu sync.Mutex

	started   chan struct{}
	failed    chan string
	abort     chan struct{}
	done      chan struct{}
	startOnce sync.Once
	abortOnce sync.Once

	listening atomic.Bool
	closed    atomic.Bool
	ended     atomic.Bool
}

func newSession(conn Conn, appKey string) *session {
	return &session{
		conn:    conn,
		taskID:  NewTaskID(),
		appKey:  appKey,
		started: make(chan struct{}),
		failed:  make(chan string, 1),
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *session) send(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

func (s *session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteMessage(messageType, data)
}

func (s *session) markStarted() {
	s.startOnce.Do(func() { close(s.started) })
}

func (s *session) markFailed(msg string) {
	select {
	case s.failed <- msg:
	default:
	}
}

// close sends StopTranscription when graceful is set and the socket is still
// open, then closes the socket. Later calls do nothing.
func (s *session) close(graceful bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Swap(true) {
		return
	}
	if graceful {
		if data, err := json.Marshal(StopCommand(s.taskID, s.appKey)); err == nil {
			_ = s.conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	_ = s.conn.Close()
}

// cancel wakes a Start that is still waiting for the handshake.
func (s *session) cancel() {
	s.abortOnce.Do(func() { close(s.abort) })
}

// end reports whether this call is the first to end the session.
func (s *session) end() bool {
	s.listening.Store(false)
	return !s.ended.Swap(true)
}
