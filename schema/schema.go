package schema

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hugolhafner/smartcity/event"
)

var ErrMalformed = errors.New("malformed record")

type FieldType int

const (
	TypeString FieldType = iota
	TypeFloat
	TypeInt
	TypeTimestamp
	TypeLocation
	TypeBase64
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeFloat:
		return "f64"
	case TypeInt:
		return "int"
	case TypeTimestamp:
		return "timestamp"
	case TypeLocation:
		return "location"
	case TypeBase64:
		return "base64"
	default:
		return "unknown"
	}
}

type Field struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// EventTimeField carries the record's event time on every stream
const EventTimeField = "timestamp"

type Schema struct {
	Kind   event.Kind
	Fields []Field
}

// Fingerprint identifies the field list; it changes whenever a field is
// added, removed, renamed, retyped or has its nullability changed.
func (s Schema) Fingerprint() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(string(s.Kind))
	for _, f := range s.Fields {
		_, _ = d.WriteString("|" + f.Name + ":" + f.Type.String() + ":" + strconv.FormatBool(f.Nullable))
	}
	return d.Sum64()
}

// Decoded is a payload that passed validation, with values normalised:
// timestamps as time.Time, ints as int64, floats as float64, locations as event.Location.
type Decoded struct {
	Fields    map[string]any
	EventTime time.Time
}

// Decode validates data against the schema. Every failure wraps ErrMalformed.
// Unknown fields are ignored.
func (s Schema) Decode(data []byte) (Decoded, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return Decoded{}, fmt.Errorf("%w: %s: %v", ErrMalformed, s.Kind, err)
	}
	if raw == nil {
		return Decoded{}, fmt.Errorf("%w: %s: payload is not an object", ErrMalformed, s.Kind)
	}

	out := Decoded{Fields: make(map[string]any, len(s.Fields))}
	for _, f := range s.Fields {
		msg, ok := raw[f.Name]
		if !ok || isNull(msg) {
			if !f.Nullable {
				return Decoded{}, fmt.Errorf("%w: %s: field %q is required", ErrMalformed, s.Kind, f.Name)
			}
			out.Fields[f.Name] = nil
			continue
		}

		v, err := decodeValue(f.Type, msg)
		if err != nil {
			return Decoded{}, fmt.Errorf("%w: %s: field %q: %v", ErrMalformed, s.Kind, f.Name, err)
		}
		out.Fields[f.Name] = v

		if f.Name == EventTimeField {
			out.EventTime = v.(time.Time)
		}
	}

	return out, nil
}

func isNull(msg json.RawMessage) bool {
	return len(bytes.TrimSpace(msg)) == 0 || string(bytes.TrimSpace(msg)) == "null"
}

func decodeValue(t FieldType, msg json.RawMessage) (any, error) {
	switch t {
	case TypeString:
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, errors.New("expected string")
		}
		return s, nil

	case TypeBase64:
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, errors.New("expected base64 string")
		}
		if _, err := base64.StdEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("invalid base64: %v", err)
		}
		return s, nil

	case TypeFloat:
		n, err := number(msg)
		if err != nil {
			return nil, err
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected f64: %v", err)
		}
		return f, nil

	case TypeInt:
		n, err := number(msg)
		if err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("expected int: %v", err)
		}
		return i, nil

	case TypeTimestamp:
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, errors.New("expected ISO8601 string")
		}
		return ParseTimestamp(s)

	case TypeLocation:
		return decodeLocation(msg)

	default:
		return nil, fmt.Errorf("unsupported field type %d", t)
	}
}

func number(msg json.RawMessage) (json.Number, error) {
	if trimmed := bytes.TrimSpace(msg); len(trimmed) > 0 && trimmed[0] == '"' {
		return "", errors.New("expected number, got string")
	}

	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()

	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return "", errors.New("expected number")
	}
	return n, nil
}

// decodeLocation accepts {"lat":..,"lon":..} and the [lat, lon] pair form
func decodeLocation(msg json.RawMessage) (event.Location, error) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pair []float64
		if err := json.Unmarshal(trimmed, &pair); err != nil || len(pair) != 2 {
			return event.Location{}, errors.New("expected [lat, lon]")
		}
		return event.Location{Lat: pair[0], Lon: pair[1]}, nil
	}

	var obj struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return event.Location{}, errors.New("expected location object")
	}
	if obj.Lat == nil || obj.Lon == nil {
		return event.Location{}, errors.New("location requires lat and lon")
	}
	return event.Location{Lat: *obj.Lat, Lon: *obj.Lon}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC3339 and the space separated form. Values without an
// offset are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
