package prefs

import (
	"strconv"
	"strings"
)

// Preference keys, one per configurable fetch option plus the mode toggle.
// Values are stored in their serialized primitive form: numbers as decimal
// strings, booleans as "true"/"false", the literal "null" for absent
// optionals, string lists comma-joined.
const (
	KeyProvider              = "fetch.provider"
	KeyMode                  = "fetch.mode"
	KeyCategories            = "fetch.categories"
	KeyMaxPapers             = "fetch.max_papers"
	KeyDaysBack              = "fetch.days_back"
	KeyMinRelevance          = "fetch.min_relevance"
	KeyDeepAnalysis          = "fetch.deep_analysis"
	KeyDeepAnalysisThreshold = "fetch.deep_analysis_threshold"
	KeyConcurrencyMode       = "fetch.concurrency_mode"
	KeyMaxConcurrent         = "fetch.max_concurrent"
	KeyResponseLanguage      = "fetch.response_language"
)

// Null is the serialized form of an absent optional value.
const Null = "null"

// Int reads an integer preference, falling back to def on a missing or
// malformed entry.
func Int(s Store, key string, def int) int {
	raw, ok := s.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

// Bool reads a boolean preference stored as "true"/"false".
func Bool(s Store, key string, def bool) bool {
	raw, ok := s.Get(key)
	if !ok {
		return def
	}
	switch strings.TrimSpace(raw) {
	case "true":
		return true
	case "false":
		return false
	default:
		return def
	}
}

// String reads a string preference.
func String(s Store, key, def string) string {
	raw, ok := s.Get(key)
	if !ok || raw == "" {
		return def
	}
	return raw
}

// OptionalInt reads an integer preference whose absence is meaningful. The
// literal "null" (and any malformed entry) yields def.
func OptionalInt(s Store, key string, def *int) *int {
	raw, ok := s.Get(key)
	if !ok {
		return def
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == Null {
		return nil
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return def
	}
	return &n
}

// StringList reads a comma-joined string list preference.
func StringList(s Store, key string, def []string) []string {
	raw, ok := s.Get(key)
	if !ok {
		return def
	}
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// FormatOptionalInt serializes a nullable integer for storage.
func FormatOptionalInt(v *int) string {
	if v == nil {
		return Null
	}
	return strconv.Itoa(*v)
}

// FormatBool serializes a boolean for storage.
func FormatBool(v bool) string {
	return strconv.FormatBool(v)
}

// FormatInt serializes an integer for storage.
func FormatInt(v int) string {
	return strconv.Itoa(v)
}

// FormatStringList serializes a string list for storage.
func FormatStringList(v []string) string {
	return strings.Join(v, ",")
}
