package ingest

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hugolhafner/smartcity/event"
	"github.com/hugolhafner/smartcity/kafka"
	"github.com/hugolhafner/smartcity/logger"
	"github.com/hugolhafner/smartcity/schema"
	"github.com/hugolhafner/smartcity/sink"
)

// ConsumerFactory returns a dedicated consumer for topic. Chains never share one.
type ConsumerFactory func(topic string) (kafka.Consumer, error)

// StoreFactory returns the store a topic's chain commits to
type StoreFactory func(topic string) (sink.Store, error)

// Pipeline runs one chain per topic and stops all of them when any fails
type Pipeline struct {
	topics    event.Topics
	catalog   *schema.Catalog
	consumers ConsumerFactory
	stores    StoreFactory
	config    Config
	logger    logger.Logger
}

func NewPipeline(topics event.Topics, consumers ConsumerFactory, stores StoreFactory, opts ...Option) (*Pipeline, error) {
	catalog, err := schema.NewCatalog(topics)
	if err != nil {
		return nil, err
	}
	if consumers == nil || stores == nil {
		return nil, errors.New("pipeline needs a consumer factory and a store factory")
	}

	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if _, err := ParseStartPosition(string(config.StartPosition)); err != nil {
		return nil, err
	}

	return &Pipeline{
		topics:    topics,
		catalog:   catalog,
		consumers: consumers,
		stores:    stores,
		config:    config,
		logger:    config.Logger.With("component", "pipeline"),
	}, nil
}

// Run starts every chain and waits for all of them. The first fatal chain error
// cancels the others and is returned once they have stopped. Cancelling ctx
// stops the chains gracefully and Run returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	var (
		consumers []kafka.Consumer
		stores    []sink.Store
		started   bool
	)
	defer func() {
		for _, c := range consumers {
			c.Close()
		}
		if started {
			return
		}
		// chains close their own stores once running
		for _, s := range stores {
			_ = s.Close()
		}
	}()

	chains := make([]*Chain, 0, len(event.Kinds))
	for _, topic := range p.topics.All() {
		sch, err := p.catalog.Lookup(topic)
		if err != nil {
			return err
		}

		consumer, err := p.consumers(topic)
		if err != nil {
			return fmt.Errorf("consumer for %s: %w", topic, err)
		}
		consumers = append(consumers, consumer)

		store, err := p.stores(topic)
		if err != nil {
			return fmt.Errorf("store for %s: %w", topic, err)
		}
		stores = append(stores, store)

		chains = append(chains, newChain(topic, sch, consumer, store, p.config))
	}

	// a schema mismatch on any topic stops the pipeline before anything is read
	for _, c := range chains {
		if err := c.Open(ctx); err != nil {
			p.logger.Error("Refusing to start", "topic", c.Topic(), "error", err)
			return err
		}
	}

	p.logger.Info("Pipeline starting", "topics", p.topics.All(), "start_position", string(p.config.StartPosition))

	started = true
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chains {
		g.Go(
			func() error {
				if err := c.Run(gctx); err != nil {
					p.logger.Error("Chain failed", "topic", c.Topic(), "error", err)
					return err
				}
				return nil
			},
		)
	}

	if err := g.Wait(); err != nil {
		return err
	}

	p.logger.Info("Pipeline stopped")
	return nil
}
