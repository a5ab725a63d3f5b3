package amqp

import (
	"context"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/service/dto"
)

// [ON_MATCH_CREATED]
// Match notifications carry a relevance score driving their priority.
func (h *IngestHandler) OnMatchCreatedV1(ctx context.Context, raw *dto.MatchV1) (*event.Event, error) {
	ev := raw.ToDomain(event.MatchCreated)
	if raw.Score >= 0.9 {
		ev.Priority = event.PriorityUrgent
	} else if raw.Score >= 0.7 {
		ev.Priority = event.PriorityHigh
	}
	return ev, nil
}

// [ON_APPLICATION_SUBMITTED]
func (h *IngestHandler) OnApplicationSubmittedV1(ctx context.Context, raw *dto.ApplicationV1) (*event.Event, error) {
	return raw.ToDomain(event.ApplicationSubmitted), nil
}

// [ON_PROFILE_UPDATED]
// Profile changes invalidate derived state, so the enricher cache must
// not serve the stale context afterwards.
func (h *IngestHandler) OnProfileUpdatedV1(ctx context.Context, raw *dto.ProfileV1) (*event.Event, error) {
	h.enricher.Invalidate(raw.UserID)

	t := event.ProfileUpdated
	if raw.Completeness >= 1.0 {
		t = event.ProfileCompleted
	}
	return raw.ToDomain(t), nil
}

// [ON_JOB_POSTED]
func (h *IngestHandler) OnJobPostedV1(ctx context.Context, raw *dto.JobV1) (*event.Event, error) {
	return raw.ToDomain(event.JobPosted), nil
}

// [ON_FEEDBACK_SUBMITTED]
func (h *IngestHandler) OnFeedbackSubmittedV1(ctx context.Context, raw *dto.FeedbackV1) (*event.Event, error) {
	return raw.ToDomain(event.FeedbackSubmitted), nil
}
