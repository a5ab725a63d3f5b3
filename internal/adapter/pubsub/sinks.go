package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	wamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/segmentio/kafka-go"
)

// Sink names accepted by BuildPublisher.
const (
	SinkChannel = "channel"
	SinkAMQP    = "amqp"
	SinkKafka   = "kafka"
)

// SinkConfig selects and parameterizes the export transport.
type SinkConfig struct {
	Sink         string
	AMQPURL      string
	Exchange     string
	KafkaBrokers []string
}

// BuildPublisher constructs the watermill publisher for the configured
// sink. The channel sink is the in-process default and needs no
// external broker.
func BuildPublisher(cfg SinkConfig, logger *slog.Logger) (message.Publisher, error) {
	wlog := watermill.NewSlogLogger(logger)
	switch cfg.Sink {
	case SinkAMQP:
		return buildAMQPPublisher(cfg, wlog)
	case SinkKafka:
		return buildKafkaPublisher(cfg)
	case SinkChannel, "":
		return gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, wlog), nil
	default:
		return nil, fmt.Errorf("unknown export sink %q", cfg.Sink)
	}
}

func buildAMQPPublisher(cfg SinkConfig, wlog watermill.LoggerAdapter) (message.Publisher, error) {
	if cfg.AMQPURL == "" {
		return nil, fmt.Errorf("amqp sink requires a broker url")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "jobfinders.events"
	}

	amqpCfg := wamqp.NewDurablePubSubConfig(cfg.AMQPURL, nil)
	amqpCfg.Exchange.GenerateName = func(topic string) string { return exchange }
	amqpCfg.Exchange.Type = "topic"
	// The dispatcher's topic is the routing key inside one exchange.
	amqpCfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }

	return wamqp.NewPublisher(amqpCfg, wlog)
}

// kafkaPublisher adapts a kafka-go writer to the watermill publisher
// contract; each watermill topic maps to a Kafka topic.
type kafkaPublisher struct {
	writer *kafka.Writer
}

func buildKafkaPublisher(cfg SinkConfig) (message.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}, nil
}

func (p *kafkaPublisher) Publish(topic string, msgs ...*message.Message) error {
	batch := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		headers := make([]kafka.Header, 0, len(msg.Metadata))
		for k, v := range msg.Metadata {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		batch = append(batch, kafka.Message{
			Topic:   topic,
			Key:     []byte(msg.UUID),
			Value:   msg.Payload,
			Headers: headers,
		})
	}
	return p.writer.WriteMessages(context.Background(), batch...)
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}
