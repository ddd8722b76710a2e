package configutil

import (
	"sort"
	"strings"
)

// Schema lists the keys a vendor settings map may carry.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SchemaError reports every missing and unknown key at once.
type SchemaError struct {
	Missing []string
	Unknown []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	return strings.Join(parts, "; ")
}

// ValidateSettings checks input against schema. Keys match regardless of
// case, underscores and hyphens, so api_key, apiKey and API-KEY are one key.
// A required key holding a blank string counts as missing.
func ValidateSettings(input map[string]any, schema Schema) error {
	required := normalizedSet(schema.Required)
	optional := normalizedSet(schema.Optional)

	var missing, unknown []string
	present := make(map[string]bool, len(input))
	for k, v := range input {
		nk := normalizeKey(k)
		present[nk] = !isBlank(v)
		_, isReq := required[nk]
		_, isOpt := optional[nk]
		if !isReq && !isOpt && !schema.AllowUnknown {
			unknown = append(unknown, k)
		}
	}
	for nk, name := range required {
		if !present[nk] {
			missing = append(missing, name)
		}
	}

	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	return &SchemaError{Missing: missing, Unknown: unknown}
}

// Decode validates input against schema, then decodes it into out.
func Decode(input map[string]any, schema Schema, out any) error {
	if err := ValidateSettings(input, schema); err != nil {
		return err
	}
	return DecodeSettings(input, out)
}

func normalizedSet(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[normalizeKey(k)] = k
	}
	return out
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}
