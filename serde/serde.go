package serde

// Serde couples a Serialiser and Deserialiser for one value type.
// The topic is passed so codecs can vary per stream.
type Serde[T any] interface {
	Serialiser[T]
	Deserialiser[T]
}

type Serialiser[T any] interface {
	Serialise(topic string, value T) ([]byte, error)
}

type Deserialiser[T any] interface {
	Deserialise(topic string, data []byte) (T, error)
}

// SerialiserFunc adapts a plain function to Serialiser
type SerialiserFunc[T any] func(topic string, value T) ([]byte, error)

func (f SerialiserFunc[T]) Serialise(topic string, value T) ([]byte, error) {
	return f(topic, value)
}
