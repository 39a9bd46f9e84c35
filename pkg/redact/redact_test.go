package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	got := Text(in)
	if got == in {
		t.Fatalf("expected redaction")
	}
	if want := "[REDACTED_EMAIL]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if want := "[REDACTED_PHONE]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
}

func TestURLMasksToken(t *testing.T) {
	got := URL("wss://nls-gateway-cn-shanghai.aliyuncs.com/ws/v1?token=supersecret")
	if strings.Contains(got, "supersecret") {
		t.Fatalf("token leaked: %s", got)
	}
	if !strings.Contains(got, "token=%2A%2A%2A") {
		t.Fatalf("expected masked token, got %s", got)
	}
}

func TestSecret(t *testing.T) {
	if got := Secret("abcdef123456"); got != "***3456" {
		t.Fatalf("unexpected %q", got)
	}
	if got := Secret("ab"); got != "***" {
		t.Fatalf("unexpected %q", got)
	}
}
