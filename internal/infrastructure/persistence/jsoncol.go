package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// encodeJSON renders v for a json/jsonb column
func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}

// decodeJSON reads a json/jsonb column into v, keeping numbers as json.Number
func decodeJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
