// Package amqp consumes business events from the upstream jobfinders
// services and feeds them into the internal event bus.
package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/adapter/pubsub"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/bus"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/service"
)

const (
	// ------------------- EXCHANGES (SOURCES) -------------------
	IngestExchange = "jobfinders.ingest"

	// ------------------- TOPICS (ROUTING KEYS) -----------------
	TopicMatchCreated         = "ingest.match.created.v1"
	TopicApplicationSubmitted = "ingest.application.submitted.v1"
	TopicProfileUpdated       = "ingest.profile.updated.v1"
	TopicJobPosted            = "ingest.job.posted.v1"
	TopicFeedbackSubmitted    = "ingest.feedback.submitted.v1"

	// ------------------- QUEUES (CONSUMERS) --------------------
	IngestProcessorQueue = "jobfinders-events.ingest-processor.v1"
	IngestPoisonTopic    = "jobfinders-events.ingest-processor.v1.poison"
)

type IngestHandler struct {
	bus        *bus.Bus
	enricher   service.Enricher
	logger     *slog.Logger
	dispatcher pubsub.EventDispatcher
}

func NewIngestHandler(b *bus.Bus, enricher service.Enricher, logger *slog.Logger, dispatcher pubsub.EventDispatcher) *IngestHandler {
	return &IngestHandler{b, enricher, logger, dispatcher}
}

// [REGISTRATION_PIPELINE]
func (h *IngestHandler) RegisterHandlers(router *message.Router, subProvider *pubsub.SubscriberProvider) error {
	mids := []message.HandlerMiddleware{
		TraceIDMiddleware,
		LoggingMiddleware(h.logger),
		NewRetryMiddleware().Middleware,
	}

	// The poison queue needs a publisher. Without an export sink the
	// retry middleware alone decides terminal failures.
	if h.dispatcher != nil {
		poison, err := middleware.PoisonQueue(h.dispatcher.Publisher(), IngestPoisonTopic)
		if err != nil {
			return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
		}
		mids = append(mids, poison)
	} else {
		h.logger.Warn("POISON_QUEUE_DISABLED")
	}

	mids = append(mids,
		middleware.NewThrottle(100, time.Second).Middleware,
		middleware.Timeout(time.Second*30),
	)

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{"ON_MATCH_CREATED", TopicMatchCreated, Bind(h, h.OnMatchCreatedV1)},
		{"ON_APPLICATION_SUBMITTED", TopicApplicationSubmitted, Bind(h, h.OnApplicationSubmittedV1)},
		{"ON_PROFILE_UPDATED", TopicProfileUpdated, Bind(h, h.OnProfileUpdatedV1)},
		{"ON_JOB_POSTED", TopicJobPosted, Bind(h, h.OnJobPostedV1)},
		{"ON_FEEDBACK_SUBMITTED", TopicFeedbackSubmitted, Bind(h, h.OnFeedbackSubmittedV1)},
	}

	for _, c := range configs {
		instanceID := uuid.NewString()[:8]
		// [UNIQUE_HANDLER_QUEUE]
		// Each handler on this node consumes from its own queue.
		// Format: jobfinders-events.ingest-processor.v1.b23a8f12.ON_MATCH_CREATED
		handlerQueue := fmt.Sprintf("%s.%s.%s", IngestProcessorQueue, instanceID, c.name)

		sub, err := subProvider.Build(handlerQueue, IngestExchange, c.topic)
		if err != nil {
			return err
		}

		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(mids...)
	}

	h.logger.Info("INGEST_PIPELINE_READY", "queue", IngestProcessorQueue)
	return nil
}
