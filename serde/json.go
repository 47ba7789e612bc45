package serde

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type jsonSerde[T any] struct{}

// JSON returns a Serde for the wire form of events and stored documents.
// HTML characters are not escaped and no trailing newline is written.
func JSON[T any]() Serde[T] {
	return jsonSerde[T]{}
}

func (s jsonSerde[T]) Serialise(topic string, value T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("serialise %s: %w", topic, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (s jsonSerde[T]) Deserialise(topic string, data []byte) (T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("deserialise %s: %w", topic, err)
	}
	return result, nil
}
