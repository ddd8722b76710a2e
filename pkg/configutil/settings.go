package configutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DecodeSettings decodes a free-form vendor settings map into a typed
// struct. String values are coerced, so "0.7" fills a float field.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		Squash:           true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", path)
	}
	return nil
}

// RequireOneOf accepts value when it matches one of allowed, ignoring case.
func RequireOneOf(value, path string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(value), a) {
			return nil
		}
	}
	return fmt.Errorf("%s %q is not one of %s", path, value, strings.Join(allowed, ", "))
}

// BoolValue returns fallback when value is nil.
func BoolValue(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

// Millis converts a millisecond setting. Non-positive values yield fallback.
func Millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}
