package otel

import (
	"go.opentelemetry.io/otel/propagation"

	"github.com/hugolhafner/smartcity/kafka"
)

type headerCarrier struct {
	headers *[]kafka.Header
}

// HeaderCarrier exposes a record's headers to a propagator. Injected keys
// replace any existing header with the same key, so a republished record
// never carries two traceparents.
func HeaderCarrier(headers *[]kafka.Header) propagation.TextMapCarrier {
	return headerCarrier{headers: headers}
}

func (c headerCarrier) Get(key string) string {
	v, _ := kafka.HeaderValue(*c.headers, key)
	return string(v)
}

func (c headerCarrier) Set(key, value string) {
	out := (*c.headers)[:0]
	for _, h := range *c.headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	*c.headers = append(out, kafka.Header{Key: key, Value: []byte(value)})
}

// Keys lists distinct header keys in first-seen order
func (c headerCarrier) Keys() []string {
	seen := make(map[string]struct{}, len(*c.headers))
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		if _, ok := seen[h.Key]; ok {
			continue
		}
		seen[h.Key] = struct{}{}
		keys = append(keys, h.Key)
	}
	return keys
}
