package errorsx

import (
	"errors"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonTransport)
	if Reason(err) != ReasonTransport {
		t.Fatalf("expected reason %s, got %s", ReasonTransport, Reason(err))
	}
	if !HasReason(err, ReasonTransport) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonTimeout)
	second := Wrap(first, ReasonTransport)
	if Reason(second) != ReasonTimeout {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestErrorfKeepsChain(t *testing.T) {
	err := Errorf(ReasonConfig, "decode settings: %w", assertErr{})
	if !errors.Is(err, assertErr{}) {
		t.Fatalf("expected wrapped error in chain")
	}
	if err.Error() != "decode settings: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRetryable(t *testing.T) {
	cases := map[ReasonCode]bool{
		ReasonTransport:  true,
		ReasonTimeout:    true,
		ReasonConfig:     false,
		ReasonPermission: false,
		ReasonCapability: false,
		ReasonProtocol:   false,
	}
	for reason, want := range cases {
		if got := IsRetryable(New(reason, "x")); got != want {
			t.Fatalf("reason %s: expected retryable=%v, got %v", reason, want, got)
		}
	}
	if IsRetryable(nil) {
		t.Fatalf("nil error must not be retryable")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
