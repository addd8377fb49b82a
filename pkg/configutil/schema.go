package configutil

import (
	"reflect"
	"sort"
	"strings"
)

// Schema lists the keys a provider settings map may carry.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SettingsError reports the keys that failed validation, sorted.
type SettingsError struct {
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	return strings.Join(parts, "; ")
}

// ValidateSettings checks input against schema. Keys compare case, underscore
// and hyphen insensitively; a required key holding an empty value counts as
// missing. The returned error is a *SettingsError.
func ValidateSettings(input map[string]any, schema Schema) error {
	allowed := make(map[string]bool, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Optional {
		allowed[normalizeKey(k)] = true
	}
	present := make(map[string]any, len(input))
	var unknown []string
	for k, v := range input {
		nk := normalizeKey(k)
		present[nk] = v
		if !allowed[nk] && !schema.AllowUnknown && !contains(schema.Required, nk) {
			unknown = append(unknown, k)
		}
	}
	var missing []string
	for _, k := range schema.Required {
		if v, ok := present[normalizeKey(k)]; !ok || isEmptyValue(v) {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	return &SettingsError{Missing: missing, Unknown: unknown}
}

func contains(keys []string, normalized string) bool {
	for _, k := range keys {
		if normalizeKey(k) == normalized {
			return true
		}
	}
	return false
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	}
	return false
}
