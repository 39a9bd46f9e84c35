package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/livecore/pkg/logging"
	"github.com/harunnryd/livecore/pkg/speech"
)

func TestScriptedTranscript(t *testing.T) {
	p := NewSTT(STTConfig{Transcript: "hello", InterimTranscript: "hel", EmitInterim: true, Logger: logging.Discard()})
	var got []string
	ends := 0
	_ = p.Initialize(speech.ProviderConfig{Kind: speech.KindMock}, speech.Callbacks{
		OnResult: func(text string, final bool) {
			if final {
				text = "F:" + text
			}
			got = append(got, text)
		},
		OnEnd: func() { ends++ },
	})
	if ok, err := p.Start(context.Background()); !ok || err != nil {
		t.Fatalf("start: %v %v", ok, err)
	}
	if len(got) != 2 || got[0] != "hel" || got[1] != "F:hello" {
		t.Fatalf("results = %v", got)
	}
	p.Say(" world", true)
	p.Stop()
	p.Stop()
	if ends != 1 || p.Transcript().Text() != "hello world" {
		t.Fatalf("ends=%d transcript=%q", ends, p.Transcript().Text())
	}
	if p.Say("late", true) {
		t.Fatalf("say after stop must be rejected")
	}
}

func TestScriptedStartError(t *testing.T) {
	boom := errors.New("boom")
	p := NewSTT(STTConfig{StartError: boom, Logger: logging.Discard()})
	var errs []string
	_ = p.Initialize(speech.ProviderConfig{Kind: speech.KindMock}, speech.Callbacks{OnError: func(m string) { errs = append(errs, m) }})
	if ok, err := p.Start(context.Background()); ok || !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got %v %v", ok, err)
	}
	if len(errs) != 1 || p.State().LastError != "boom" {
		t.Fatalf("errors = %v", errs)
	}
}
