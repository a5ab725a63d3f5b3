// Package service hosts the application services sitting between the
// transports and the core: per-user feed subscriptions, the bus-to-hub
// router, and event enrichment with cached user context.
package service

import (
	"context"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/registry"
)

// Feeder is the primary interface for transport handlers (WebSocket and
// long-poll).
type Feeder interface {
	Subscribe(ctx context.Context, userID string) (registry.Connector, error)
	Unsubscribe(userID, connID string)
}

type FeedService struct {
	hub registry.Hubber
}

// NewFeedService returns a production-ready instance of the service.
func NewFeedService(hub registry.Hubber) *FeedService {
	return &FeedService{
		hub: hub,
	}
}

// Subscribe opens a live feed for userID and returns the connector the
// transport streams from.
func (s *FeedService) Subscribe(ctx context.Context, userID string) (registry.Connector, error) {
	// [STRATEGY] Buffer size could scale with client transport later;
	// long-poll clients drain in bursts, WebSocket drains continuously.
	const defaultBufferSize = 1024

	conn := registry.NewConnector(ctx, userID, defaultBufferSize)
	s.hub.Register(conn)
	return conn, nil
}

// Unsubscribe detaches a session. The hub closes the connector, which
// recycles it into the pool.
func (s *FeedService) Unsubscribe(userID, connID string) {
	s.hub.Unregister(userID, connID)
}
