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
	in := "email a@b.com, phone +62 812 3456 7890, key sk-abcdef123456789"
	got := Text(in)
	for _, want := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_KEY]"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "abcdef") {
		t.Fatalf("key leaked in %q", got)
	}
}

func TestSecret(t *testing.T) {
	cases := map[string]string{
		"":                    "",
		"short":               "****",
		"xi-0123456789abcd":   "****abcd",
		"  sk-live-zzzz9876 ": "****9876",
	}
	for in, want := range cases {
		if got := Secret(in); got != want {
			t.Fatalf("Secret(%q) = %q, want %q", in, got, want)
		}
	}
}
