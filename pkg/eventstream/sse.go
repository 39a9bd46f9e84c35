package eventstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/harunnryd/livecore/pkg/errorsx"
)

// SSESource opens text/event-stream connections over HTTP.
type SSESource struct {
	Client *http.Client
	Header http.Header
}

func NewSSESource(client *http.Client) *SSESource {
	if client == nil {
		client = &http.Client{}
	}
	return &SSESource{Client: client}
}

func (s *SSESource) Open(ctx context.Context, target, lastEventID string) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errorsx.Errorf(errorsx.ReasonConfig, "build stream request: %w", err)
	}
	for k, values := range s.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errorsx.Errorf(errorsx.ReasonTransport, "open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, errorsx.New(errorsx.ReasonTransport, fmt.Sprintf("open stream: status %d", resp.StatusCode))
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, errorsx.New(errorsx.ReasonProtocol, fmt.Sprintf("open stream: unexpected content type %q", mt))
	}
	return newSSEConn(resp.Body), nil
}

type sseConn struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func newSSEConn(body io.ReadCloser) *sseConn {
	return &sseConn{body: body, reader: bufio.NewReader(body)}
}

// Next parses fields until a blank line completes an event with data.
// Comment lines and retry fields are skipped.
func (c *sseConn) Next() (Message, error) {
	var (
		msg  Message
		data []string
	)
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return Message{}, errorsx.New(errorsx.ReasonTransport, "stream closed by server")
			}
			return Message{}, errorsx.Errorf(errorsx.ReasonTransport, "read stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				msg.Data = strings.Join(data, "\n")
				if msg.Event == "" {
					msg.Event = "message"
				}
				return msg, nil
			}
			msg = Message{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			msg.Event = value
		case "data":
			data = append(data, value)
		case "id":
			msg.ID = value
		}
	}
}

func (c *sseConn) Close() error {
	return c.body.Close()
}
