package eventstream

import (
	"context"
	"net/url"
	"strings"
)

// Message is one server-pushed event.
type Message struct {
	Event string
	Data  string
	ID    string
}

// Conn is one live push connection. Next blocks until a message arrives
// or the connection ends.
type Conn interface {
	Next() (Message, error)
	Close() error
}

// Source opens push connections. An error carrying the capability reason
// means the runtime cannot open push channels at all.
type Source interface {
	Open(ctx context.Context, url, lastEventID string) (Conn, error)
}

// StatusStreamURL builds the screening status stream endpoint
// {base}/api/v1/screening/{taskID}/stream. An empty base yields the path.
func StatusStreamURL(base, taskID string) string {
	path := "/api/v1/screening/" + url.PathEscape(taskID) + "/stream"
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	return base + path
}
