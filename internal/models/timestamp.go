package models

import (
	"encoding/json"
	"time"
)

// timestampLayouts lists the formats the backend is known to emit: RFC 3339
// from timezone-aware columns, and naive ISO 8601 from isoformat().
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// Timestamp is a time.Time that tolerates the several formats the backend
// uses. Unparseable values decode to the zero time instead of failing the
// enclosing payload.
type Timestamp struct {
	time.Time
}

// ParseTimestamp parses s using the known backend layouts.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// null or non-string: leave zero
		t.Time = time.Time{}
		return nil
	}
	t.Time, _ = ParseTimestamp(s)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}
