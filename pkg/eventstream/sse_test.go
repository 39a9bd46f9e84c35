package eventstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
)

func TestSSEConnParsesEvents(t *testing.T) {
	body := ": keep-alive\n" +
		"data: {\"type\":\"connected\"}\n\n" +
		"event: update\r\nid: 42\r\ndata: {\"type\":\"status\",\r\ndata: \"data\":{}}\r\n\r\n" +
		"\n"
	c := newSSEConn(io.NopCloser(strings.NewReader(body)))

	first, err := c.Next()
	if err != nil || first.Event != "message" || first.Data != `{"type":"connected"}` {
		t.Fatalf("first = %+v err=%v", first, err)
	}
	second, err := c.Next()
	if err != nil || second.Event != "update" || second.ID != "42" || second.Data != "{\"type\":\"status\",\n\"data\":{}}" {
		t.Fatalf("second = %+v err=%v", second, err)
	}
	if _, err := c.Next(); !errorsx.HasReason(err, errorsx.ReasonTransport) {
		t.Fatalf("end of body err = %v", err)
	}
}

func TestSSESourceRejectsBadResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/html" {
			w.Header().Set("Content-Type", "text/html")
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewSSESource(srv.Client())
	if _, err := src.Open(context.Background(), srv.URL+"/down", ""); !errorsx.HasReason(err, errorsx.ReasonTransport) {
		t.Fatalf("status err = %v", err)
	}
	if _, err := src.Open(context.Background(), srv.URL+"/html", ""); !errorsx.HasReason(err, errorsx.ReasonProtocol) {
		t.Fatalf("content type err = %v", err)
	}
}

func TestStreamOverSSEResumesWithLastEventID(t *testing.T) {
	var requests atomic.Int32
	resumedFrom := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		switch requests.Add(1) {
		case 1:
			fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
			fmt.Fprint(w, "id: 7\ndata: {\"type\":\"status\",\"data\":{\"progress\":50}}\n\n")
			flusher.Flush()
		default:
			resumedFrom <- r.Header.Get("Last-Event-ID")
			fmt.Fprint(w, "id: 8\ndata: {\"type\":\"status\",\"data\":{\"progress\":100}}\n\n")
			flusher.Flush()
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	statuses := make(chan float64, 4)
	s := New(Options{
		URL:            StatusStreamURL(srv.URL, "task-1"),
		Source:         NewSSESource(srv.Client()),
		ReconnectDelay: 10 * time.Millisecond,
		Callbacks: Callbacks{
			OnStatus: func(data map[string]any) { statuses <- data["progress"].(float64) },
		},
		Logger: logging.Discard(),
	})
	s.Connect()
	defer s.Close()

	for _, want := range []float64{50, 100} {
		select {
		case got := <-statuses:
			if got != want {
				t.Fatalf("progress = %v, want %v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for progress %v", want)
		}
	}
	if id := <-resumedFrom; id != "7" {
		t.Fatalf("Last-Event-ID = %q", id)
	}
	if s.LastEventID() != "8" {
		t.Fatalf("last id = %q", s.LastEventID())
	}
}
