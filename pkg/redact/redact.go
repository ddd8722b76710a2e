package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	// Vendor keys that end up in transcripts or error bodies.
	keyRe = regexp.MustCompile(`\b(?:sk|xi|dg)[-_][A-Za-z0-9_\-]{8,}\b`)
)

// SetEnabled toggles PII redaction of utterances and transcripts.
func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text masks emails, phone numbers and API keys when redaction is on.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := keyRe.ReplaceAllString(in, "[REDACTED_KEY]")
	out = emailRe.ReplaceAllString(out, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

// Secret masks a credential for logging whatever the toggle says. The last
// four characters stay visible so keys can be told apart.
func Secret(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
