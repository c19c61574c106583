package model

import (
	"time"
)

// Memory represents one stored natural-language fact.
//
// Score is populated only on search/dedup results and is always
// similarity-oriented: higher means more similar, regardless of how the
// backend reports relevance internally. Freshly stored records carry the
// zero value.
type Memory struct {
	Text     string
	Metadata map[string]any
	Score    float64
}

// ID returns the record identity from metadata, preferring "id" and falling
// back to "uuid". Empty when the record has no identity yet.
func (m Memory) ID() string {
	if id := StringFromAny(m.Metadata["id"]); id != "" {
		return id
	}
	return StringFromAny(m.Metadata["uuid"])
}

// Timestamp parses the record's normalized timestamp, if present.
func (m Memory) Timestamp() (time.Time, bool) {
	raw := StringFromAny(m.Metadata["timestamp"])
	if raw == "" {
		return time.Time{}, false
	}
	t, err := parseInstant(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NormalizeTimestamp converts a metadata timestamp into an offset-qualified
// RFC 3339 string in the local zone. Accepted inputs are a time.Time or an
// ISO-8601 string; strings without a zone are assumed UTC. Anything else,
// including an unparsable string, falls back to the current time.
func NormalizeTimestamp(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.In(time.Local).Format(time.RFC3339)
	case string:
		if parsed, err := parseInstant(t); err == nil {
			return parsed.In(time.Local).Format(time.RFC3339)
		}
	}
	return time.Now().UTC().In(time.Local).Format(time.RFC3339)
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseInstant(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	var firstErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// StringFromAny coerces loosely-typed metadata values into strings.
func StringFromAny(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return ""
	}
}

// FloatFromAny coerces loosely-typed metadata values into float64.
func FloatFromAny(v any) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int:
		return float64(f)
	case int64:
		return float64(f)
	default:
		return 0
	}
}
