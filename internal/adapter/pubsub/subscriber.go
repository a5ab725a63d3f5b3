package pubsub

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	wamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
)

// SubscriberProvider builds consumer subscriptions for the ingest side.
// On the amqp sink each handler gets its own durable queue bound to the
// source exchange by routing key. On the channel sink a single in-process
// pubsub serves every handler, which is also what the tests run against.
type SubscriberProvider struct {
	cfg    SinkConfig
	logger *slog.Logger

	channel *gochannel.GoChannel
}

// NewSubscriberProvider wires the provider. When shared is the in-process
// channel publisher it is reused so publishers and subscribers meet on
// the same topics.
func NewSubscriberProvider(cfg SinkConfig, logger *slog.Logger, shared message.Publisher) *SubscriberProvider {
	sp := &SubscriberProvider{cfg: cfg, logger: logger}
	if ch, ok := shared.(*gochannel.GoChannel); ok {
		sp.channel = ch
	}
	return sp
}

// Build returns a subscriber consuming topic from exchange via queue.
func (sp *SubscriberProvider) Build(queue, exchange, topic string) (message.Subscriber, error) {
	switch sp.cfg.Sink {
	case SinkAMQP:
		return sp.buildAMQP(queue, exchange)
	case SinkChannel, "":
		return sp.buildChannel(), nil
	default:
		return nil, fmt.Errorf("unsupported ingest sink %q", sp.cfg.Sink)
	}
}

func (sp *SubscriberProvider) buildAMQP(queue, exchange string) (message.Subscriber, error) {
	if sp.cfg.AMQPURL == "" {
		return nil, fmt.Errorf("amqp ingest requires a broker url")
	}

	amqpCfg := wamqp.NewDurablePubSubConfig(sp.cfg.AMQPURL, wamqp.GenerateQueueNameConstant(queue))
	amqpCfg.Exchange.GenerateName = func(string) string { return exchange }
	amqpCfg.Exchange.Type = "topic"
	// Bind by the handler's topic pattern, consume from the queue.
	amqpCfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }

	return wamqp.NewSubscriber(amqpCfg, watermill.NewSlogLogger(sp.logger))
}

func (sp *SubscriberProvider) buildChannel() message.Subscriber {
	if sp.channel == nil {
		sp.channel = gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, watermill.NewSlogLogger(sp.logger))
	}
	return sp.channel
}

// ChannelPublisher exposes the in-process pubsub for producing test or
// loopback traffic on the channel sink. Nil on broker-backed sinks.
func (sp *SubscriberProvider) ChannelPublisher() message.Publisher {
	if sp.channel == nil {
		return nil
	}
	return sp.channel
}
