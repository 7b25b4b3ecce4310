package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// DecodeJSONMap decodes JSON into a map[string]any.
//
// We enable json.Decoder.UseNumber() so numbers are preserved as json.Number.
// Agent payloads carry scores that may be integers or floats; keeping them as
// json.Number avoids lossy conversions before the extractors coerce them.
func DecodeJSONMap(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	// Ensure there is no trailing non-whitespace content.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("unexpected trailing JSON content")
		}
		return nil, fmt.Errorf("unexpected trailing JSON content: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// EncodeJSON marshals a value to JSON using the standard library.
func EncodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ToString attempts to coerce v into a string.
func ToString(v any) (string, bool) {
	s, ok := v.(string)
	if ok {
		return s, true
	}
	return "", false
}

// ToInt attempts to coerce v into an int.
//
// When decoding JSON into map[string]any with json.Decoder.UseNumber(),
// numbers arrive as json.Number.
func ToInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			f, ferr := x.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(i), true
	default:
		return 0, false
	}
}

// MustJSON renders a JSON value as a compact string for logging and for
// surfacing structured agent replies as text.
func MustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<json error: %v>", err)
	}
	return string(b)
}
