package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
)

func TestRunDrainsOnCancel(t *testing.T) {
	drained := 0
	var order []string
	r := NewLifecycleRunner(Options{
		Drainer: DrainFunc(func() error { drained++; order = append(order, "drain"); return nil }),
		Hooks: Hooks{
			OnStart: func() { order = append(order, "start") },
			OnStop:  func() { order = append(order, "stop") },
		},
		Quiet:  true,
		Logger: logging.Discard(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.State() != StateStopped || drained != 1 {
		t.Fatalf("state=%s drained=%d", r.State(), drained)
	}
	if strings.Join(order, ",") != "start,drain,stop" {
		t.Fatalf("order = %v", order)
	}
	if err := r.Stop(); err != nil || drained != 1 {
		t.Fatalf("second stop must not drain again")
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("run after stop should fail")
	}
}

func TestDrainTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := NewLifecycleRunner(Options{
		Drainer:      DrainFunc(func() error { <-block; return nil }),
		DrainTimeout: 20 * time.Millisecond,
		Quiet:        true,
		Logger:       logging.Discard(),
	})
	if err := r.Stop(); !errorsx.HasReason(err, errorsx.ReasonTimeout) {
		t.Fatalf("err = %v", err)
	}
}

func TestDrainErrorReturned(t *testing.T) {
	boom := errors.New("flush failed")
	r := NewLifecycleRunner(Options{Drainer: DrainFunc(func() error { return boom }), Quiet: true, Logger: logging.Discard()})
	if err := r.Stop(); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestWriteBanner(t *testing.T) {
	var buf bytes.Buffer
	WriteBanner(&buf, false)
	if !strings.Contains(buf.String(), "Version: "+Version) {
		t.Fatalf("banner = %q", buf.String())
	}
}
