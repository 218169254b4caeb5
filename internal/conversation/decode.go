package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Result is the outcome of decoding a loosely-typed field. Err is set when
// the field was present but could not be decoded; Value is then the zero value.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether decoding succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// DecodeJSONField decodes a field the server may send either as a JSON value
// or as a string holding the JSON encoding of that value. Absent, null and
// empty-string fields decode to the zero value without error.
func DecodeJSONField[T any](raw json.RawMessage) Result[T] {
	var res Result[T]

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return res
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			res.Err = fmt.Errorf("decode string field: %w", err)
			return res
		}
		if s == "" || s == "null" {
			return res
		}
		raw = json.RawMessage(s)
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		res.Err = fmt.Errorf("decode field: %w", err)
		return res
	}
	res.Value = v
	return res
}
