package mockkafka

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func (c *Client) AssertProducedCount(tb testing.TB, expected int) {
	tb.Helper()
	require.Len(tb, c.ProducedRecords(), expected, "produced records")
}

func (c *Client) AssertProducedCountForTopic(tb testing.TB, topic string, expected int) {
	tb.Helper()
	require.Len(tb, c.ProducedRecordsForTopic(topic), expected, "records produced to %q", topic)
}

// AssertProducedKey fails unless some record produced to topic carries key
func (c *Client) AssertProducedKey(tb testing.TB, topic string, key []byte) {
	tb.Helper()

	for _, r := range c.ProducedRecordsForTopic(topic) {
		if bytes.Equal(r.Key, key) {
			return
		}
	}
	require.Failf(tb, "key not produced", "no record with key %q on topic %q", key, topic)
}

// AssertAssigned checks the resume offset of every partition of topic,
// including those that started at the beginning.
func (c *Client) AssertAssigned(tb testing.TB, topic string, expected map[int32]int64) {
	tb.Helper()

	actual, ok := c.Assignment(topic)
	require.True(tb, ok, "topic %q never assigned", topic)
	require.Equal(tb, expected, actual)
}
