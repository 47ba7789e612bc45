//go:build unit

package otel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hugolhafner/smartcity/kafka"
)

func TestHeaderCarrier_Get(t *testing.T) {
	t.Parallel()
	headers := []kafka.Header{
		{Key: "traceparent", Value: []byte("00-abc-def-01")},
		{Key: "x-original-topic", Value: []byte("gps_data")},
	}
	carrier := HeaderCarrier(&headers)

	require.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	require.Equal(t, "gps_data", carrier.Get("x-original-topic"))
	require.Empty(t, carrier.Get("tracestate"))
}

func TestHeaderCarrier_SetCollapsesDuplicates(t *testing.T) {
	t.Parallel()
	headers := []kafka.Header{
		{Key: "traceparent", Value: []byte("first")},
		{Key: "x-original-offset", Value: []byte("7")},
		{Key: "traceparent", Value: []byte("second")},
	}
	carrier := HeaderCarrier(&headers)

	carrier.Set("traceparent", "fresh")

	require.Equal(
		t, []kafka.Header{
			{Key: "x-original-offset", Value: []byte("7")},
			{Key: "traceparent", Value: []byte("fresh")},
		}, headers,
	)
}

func TestHeaderCarrier_SetAppendsToEmpty(t *testing.T) {
	t.Parallel()
	var headers []kafka.Header
	HeaderCarrier(&headers).Set("baggage", "route=london-birmingham")

	require.Len(t, headers, 1)
	require.Equal(t, "baggage", headers[0].Key)
}

func TestHeaderCarrier_KeysDistinct(t *testing.T) {
	t.Parallel()
	headers := []kafka.Header{
		{Key: "traceparent", Value: []byte("a")},
		{Key: "tracestate", Value: []byte("b")},
		{Key: "traceparent", Value: []byte("c")},
	}

	require.Equal(t, []string{"traceparent", "tracestate"}, HeaderCarrier(&headers).Keys())
}
