// Package jsonutil provides shared JSON helpers: decoding with context and
// stable, human-readable encoding of arbitrary values.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnmarshalWithContext unmarshals JSON data into v and wraps any error
// with the provided context message.
func UnmarshalWithContext(data []byte, v interface{}, context string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", context, err)
	}
	return nil
}

// Compact encodes values as a single-line JSON array. Map keys come out
// sorted so equal inputs always encode the same way. Values JSON cannot
// represent (funcs, channels, cycles) are encoded as their ToString form.
func Compact(values []interface{}) string {
	if values == nil {
		values = []interface{}{}
	}
	if s, err := encode(values); err == nil {
		return s
	}

	parts := make([]json.RawMessage, len(values))
	for i, v := range values {
		s, err := encode(v)
		if err != nil {
			s, _ = encode(ToString(v))
		}
		parts[i] = json.RawMessage(s)
	}
	s, _ := encode(parts)
	return s
}

func encode(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// ToString converts an interface{} value to a string representation.
// Handles string, float64 (formatted as integer), bool, and other types.
func ToString(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// Format as integer for whole numbers, otherwise as float
		if val == float64(int64(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
