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

func TestRedactContextMap(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := map[string]any{"caller": "a@b.com", "turns": 3}
	got := Context(in)
	if got["caller"] != "[REDACTED_EMAIL]" {
		t.Fatalf("expected email redacted, got %v", got["caller"])
	}
	if got["turns"] != 3 {
		t.Fatalf("expected non-string value untouched")
	}
}
