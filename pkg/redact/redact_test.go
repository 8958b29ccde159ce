package redact

import (
	"strings"
	"testing"
)

func TestRedactText(t *testing.T) {
	in := "email a@b.com and phone +62 812 3456 7890"
	got := Text(in)
	if got == in {
		t.Fatalf("expected redaction")
	}
	if want := "[REDACTED_EMAIL]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if strings.Contains(got, "3456") {
		t.Fatalf("expected digits removed, got %q", got)
	}
}

func TestRedactLeavesPlainText(t *testing.T) {
	in := "my thermostat is set to 72 degrees"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}
