package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

// DomainHandler defines the functional signature for business logic.
type DomainHandler[T any] func(ctx context.Context, payload *T) (*event.Event, error)

// [INFRASTRUCTURE_BRIDGE]
// Bind connects Watermill to domain logic, handling panic recovery,
// decoding and publication onto the internal bus.
func Bind[T any](h *IngestHandler, fn DomainHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		// [PANIC_RECOVERY]
		// Keep the consumer alive through runtime panics.
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
			}
		}()

		// [DECODING]
		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			h.logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
			return nil // ACK: Poison pill protection.
		}

		// [EXECUTION]
		ev, err := fn(msg.Context(), payload)
		if err != nil {
			return err // NACK: Business failure triggers the retry policy.
		}
		if ev == nil {
			return nil
		}

		// [IDENTITY]
		// Drafts from upstream carry no id of their own.
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if traceID := TraceIDFromContext(msg.Context()); traceID != "" && ev.CorrelationID == "" {
			ev.CorrelationID = traceID
		}

		// [ENRICHMENT]
		// Stamp cached user context. A degraded enricher never blocks the
		// pipeline; the bare event moves on.
		if enriched, eerr := h.enricher.EnrichEvent(msg.Context(), ev); eerr == nil {
			ev = enriched
		}

		// [DISPATCH]
		// The bus fans out to subscribers, the live feed hub and the
		// configured export sink.
		if err := h.bus.Publish(msg.Context(), ev); err != nil {
			return fmt.Errorf("INGEST_PUBLISH_FAILED: %w", err)
		}
		return nil
	}
}
