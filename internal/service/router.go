package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/bus"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/registry"
)

// FeedRouter bridges the event bus to the feed hub: every user-scoped
// event published on the bus is offered to the owner's live sessions.
type FeedRouter struct {
	bus    *bus.Bus
	hub    registry.Hubber
	logger *slog.Logger

	mu    sync.Mutex
	subID string
}

func NewFeedRouter(b *bus.Bus, hub registry.Hubber, logger *slog.Logger) *FeedRouter {
	return &FeedRouter{
		bus:    b,
		hub:    hub,
		logger: logger,
	}
}

// Start subscribes the router to every event type. Idempotent.
func (r *FeedRouter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subID != "" {
		return nil
	}
	id, err := r.bus.SubscribeMultiple(event.Types(), r.route, nil)
	if err != nil {
		return err
	}
	r.subID = id
	r.logger.Info("FEED_ROUTER_STARTED", "subscription_id", id)
	return nil
}

// Stop detaches the router from the bus. Idempotent.
func (r *FeedRouter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subID == "" {
		return
	}
	r.bus.Unsubscribe(r.subID)
	r.subID = ""
}

// route is the bus handler. Delivery is best effort: an event for an
// offline user, or one shed by a full mailbox, is not a bus failure.
func (r *FeedRouter) route(_ context.Context, ev *event.Event) error {
	if ev.UserID == "" {
		return nil
	}
	if !r.hub.Broadcast(ev) {
		r.logger.Debug("FEED_DELIVERY_SKIPPED",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"user_id", ev.UserID,
		)
	}
	return nil
}
