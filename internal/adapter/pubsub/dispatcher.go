// Package pubsub bridges in-process events onto external transports.
// The dispatcher publishes each exported event to its routing key
// through a watermill publisher; the sink behind that publisher is
// chosen by configuration (in-process channel, AMQP or Kafka).
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

// Metadata keys set on every outgoing message.
const (
	MetaEventID       = "event_id"
	MetaEventType     = "event_type"
	MetaPriority      = "priority"
	MetaCorrelationID = "correlation_id"
	MetaSource        = "source"
)

// EventDispatcher is the high-level contract for outgoing events. It
// keeps the bus agnostic of the transport implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, ev *event.Event) error
	Publisher() message.Publisher
}

type eventDispatcher struct {
	publisher message.Publisher
}

// NewEventDispatcher wraps a watermill publisher behind the dispatcher
// contract.
func NewEventDispatcher(pub message.Publisher) EventDispatcher {
	return &eventDispatcher{publisher: pub}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev *event.Event) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetaEventID, ev.ID)
	msg.Metadata.Set(MetaEventType, string(ev.Type))
	msg.Metadata.Set(MetaPriority, ev.Priority.String())
	msg.Metadata.Set(MetaCorrelationID, ev.CorrelationID)
	msg.Metadata.Set(MetaSource, ev.Source)

	if err := d.publisher.Publish(ev.RoutingKey(), msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", ev.RoutingKey(), err)
	}
	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
