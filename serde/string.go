package serde

type stringSerde struct{}

// String is the key codec: record keys are the event id as raw UTF-8
func String() Serde[string] {
	return stringSerde{}
}

func (s stringSerde) Serialise(_ string, value string) ([]byte, error) {
	return []byte(value), nil
}

func (s stringSerde) Deserialise(_ string, data []byte) (string, error) {
	return string(data), nil
}
