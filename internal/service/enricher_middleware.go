package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

// enricherMiddleware implements [DECORATOR_PATTERN] to add observability
// to enrichment without touching business logic.
type enricherMiddleware struct {
	next   Enricher
	logger *slog.Logger
}

// NewEnricherMiddleware creates a logging decorator for the Enricher.
func NewEnricherMiddleware(next Enricher, logger *slog.Logger) Enricher {
	return &enricherMiddleware{
		next:   next,
		logger: logger,
	}
}

func (m *enricherMiddleware) EnrichEvent(ctx context.Context, ev *event.Event) (*event.Event, error) {
	start := time.Now()

	out, err := m.next.EnrichEvent(ctx, ev)

	duration := time.Since(start)
	if err != nil {
		m.logger.Error("EVENT_ENRICHMENT_FAILED",
			"err", err,
			"event_id", ev.ID,
			"event_type", ev.Type,
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		m.logger.Debug("EVENT_ENRICHED",
			"event_id", out.ID,
			"duration_ms", duration.Milliseconds(),
		)
	}

	return out, err
}

func (m *enricherMiddleware) Invalidate(userID string) {
	m.next.Invalidate(userID)
}

func (m *enricherMiddleware) ResolveUser(ctx context.Context, userID string) (UserContext, error) {
	start := time.Now()

	uc, err := m.next.ResolveUser(ctx, userID)
	if err != nil {
		m.logger.Warn("USER_CONTEXT_RESOLVE_FAILED",
			"user_id", userID,
			"err", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	return uc, err
}
