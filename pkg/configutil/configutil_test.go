package configutil

import (
	"errors"
	"testing"
	"time"
)

func TestValidateSettingsReportsAll(t *testing.T) {
	schema := Schema{Required: []string{"api_key", "model"}, Optional: []string{"timeout_ms"}}
	err := ValidateSettings(map[string]any{"API-Key": "  ", "TimeoutMs": 10, "bogus": 1}, schema)

	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if len(se.Missing) != 2 || se.Missing[0] != "api_key" || se.Missing[1] != "model" {
		t.Fatalf("missing = %v", se.Missing)
	}
	if len(se.Unknown) != 1 || se.Unknown[0] != "bogus" {
		t.Fatalf("unknown = %v", se.Unknown)
	}
	if se.Error() != "missing: api_key, model; unknown: bogus" {
		t.Fatalf("message = %q", se.Error())
	}
}

func TestValidateSettingsAllowUnknown(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, AllowUnknown: true}
	if err := ValidateSettings(map[string]any{"apiKey": "k", "extra": true}, schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeCoercesStrings(t *testing.T) {
	var out struct {
		APIKey      string  `mapstructure:"api_key"`
		Temperature float64 `mapstructure:"temperature"`
		MaxTokens   int     `mapstructure:"max_tokens"`
	}
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"temperature", "max_tokens"}}
	in := map[string]any{"api_key": "k", "temperature": "0.5", "Max-Tokens": "64"}
	if err := Decode(in, schema, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "k" || out.Temperature != 0.5 || out.MaxTokens != 64 {
		t.Fatalf("decoded %+v", out)
	}
}

func TestRequireOneOf(t *testing.T) {
	if err := RequireOneOf(" WAV ", "playback.device", "exec", "wav"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := RequireOneOf("speaker", "playback.device", "exec", "wav"); err == nil {
		t.Fatal("expected error")
	}
}

func TestMillis(t *testing.T) {
	if got := Millis(0, time.Second); got != time.Second {
		t.Fatalf("fallback = %v", got)
	}
	if got := Millis(250, time.Second); got != 250*time.Millisecond {
		t.Fatalf("got %v", got)
	}
}
