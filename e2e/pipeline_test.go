//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hugolhafner/smartcity/driver"
	"github.com/hugolhafner/smartcity/event"
	"github.com/hugolhafner/smartcity/ingest"
	"github.com/hugolhafner/smartcity/kafka"
	"github.com/hugolhafner/smartcity/publisher"
	"github.com/hugolhafner/smartcity/simulator"
	"github.com/hugolhafner/smartcity/sink"
	"github.com/hugolhafner/smartcity/sink/filestore"
)

// simulate runs a full journey against broker and returns the tick count
func simulate(t *testing.T, broker string, topics event.Topics, mode publisher.Mode) int {
	t.Helper()

	client, err := kafka.NewKgoClient(kafka.WithBootstrapServers([]string{broker}))
	require.NoError(t, err)
	defer client.Close()

	sim, err := simulator.New(simulator.WithSeed(42))
	require.NoError(t, err)

	pub := publisher.New(client, publisher.WithMode(mode))
	drv := driver.New(sim, pub, driver.WithTickDelay(0), driver.WithTopics(topics))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	require.NoError(t, drv.Run(ctx))
	require.NoError(t, pub.Close(ctx))

	return int(drv.Ticks())
}

type pipelineRun struct {
	cancel context.CancelFunc
	errCh  chan error
}

func startPipeline(t *testing.T, broker, base string, topics event.Topics, opts ...ingest.Option) *pipelineRun {
	t.Helper()

	consumers := func(topic string) (kafka.Consumer, error) {
		c, err := kafka.NewKgoClient(
			kafka.WithBootstrapServers([]string{broker}),
			kafka.WithPollTimeout(500*time.Millisecond),
		)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	stores := func(topic string) (sink.Store, error) {
		s, err := filestore.New(base, base+"/checkpoints", topic)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	opts = append([]ingest.Option{ingest.WithBatchSize(50), ingest.WithBatchInterval(200 * time.Millisecond)}, opts...)
	p, err := ingest.NewPipeline(topics, consumers, stores, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	run := &pipelineRun{cancel: cancel, errCh: make(chan error, 1)}
	go func() {
		run.errCh <- p.Run(ctx)
	}()
	return run
}

func (r *pipelineRun) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	waitForShutdown(t, r.errCh, shutdownWait)
}

func requireStored(t *testing.T, base string, topics event.Topics, want int) {
	t.Helper()

	for _, topic := range topics.All() {
		eventually(
			t, func() bool { return len(storedOffsets(t, base, topic)) == want }, eventualWait,
			"stored records for "+topic,
		)
		for key, n := range storedOffsets(t, base, topic) {
			require.Equal(t, 1, n, "duplicate %s in %s", key, topic)
		}
	}
}

func TestE2E_SimulatorToStore(t *testing.T) {
	broker := ensureContainer(t)
	topics := testTopics()
	createTopics(t, broker, 2, topics.All()...)
	base := t.TempDir()

	ticks := simulate(t, broker, topics, publisher.ModeAsync)
	require.Greater(t, ticks, 0)
	require.LessOrEqual(t, ticks, 110)

	run := startPipeline(t, broker, base, topics)
	requireStored(t, base, topics, ticks)
	run.stop(t)
}

func TestE2E_ResumeWithoutDuplicates(t *testing.T) {
	broker := ensureContainer(t)
	topics := testTopics()
	createTopics(t, broker, 2, topics.All()...)
	base := t.TempDir()

	ticks := simulate(t, broker, topics, publisher.ModeSync)

	run := startPipeline(t, broker, base, topics)
	requireStored(t, base, topics, ticks)
	run.stop(t)

	// a second journey continues the same topics
	more := simulate(t, broker, topics, publisher.ModeSync)

	run = startPipeline(t, broker, base, topics)
	requireStored(t, base, topics, ticks+more)
	run.stop(t)

	// rereading the whole log writes nothing new
	run = startPipeline(t, broker, base, topics, ingest.WithStartPosition(ingest.StartEarliest))
	time.Sleep(3 * time.Second)
	run.stop(t)
	requireStored(t, base, topics, ticks+more)
}

func TestE2E_MalformedGoesToDeadLetter(t *testing.T) {
	broker := ensureContainer(t)
	topics := testTopics()
	dlqTopic := testTopicName("dlq")
	createTopics(t, broker, 1, append(topics.All(), dlqTopic)...)
	base := t.TempDir()

	ticks := simulate(t, broker, topics, publisher.ModeSync)
	produceRaw(t, broker, topics.Weather, "vehicle-001", `{"timestamp":"yesterday"}`)

	dlq, err := kafka.NewKgoClient(kafka.WithBootstrapServers([]string{broker}))
	require.NoError(t, err)
	defer dlq.Close()

	run := startPipeline(t, broker, base, topics, ingest.WithDLQ(dlqTopic, dlq))
	requireStored(t, base, topics, ticks)

	dead := consumeRecords(t, broker, dlqTopic, 1, consumeWait)
	require.Equal(t, `{"timestamp":"yesterday"}`, dead[0].Value)
	require.Equal(t, topics.Weather, dead[0].Headers[ingest.HeaderOriginalTopic])
	require.Equal(t, "decode", dead[0].Headers[ingest.HeaderErrorPhase])

	run.stop(t)
}
