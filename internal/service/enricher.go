package service

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
)

// UserContext is the resolved identity and activity summary stamped onto
// events for downstream consumers.
type UserContext struct {
	UserID       string
	DisplayName  string
	Completeness float64
	LastSeen     time.Time
	RecentEvents int
}

// Enricher defines the contract for event augmentation with user context.
type Enricher interface {
	// EnrichEvent stamps actor and counterpart context onto a copy of ev.
	EnrichEvent(ctx context.Context, ev *event.Event) (*event.Event, error)
	// ResolveUser builds the activity context for a single user.
	ResolveUser(ctx context.Context, userID string) (UserContext, error)
	// Invalidate drops a cached context, forcing a fresh resolve.
	Invalidate(userID string)
}

const recentWindow = 50

type UserEnricher struct {
	store storage.Store
	cache *lru.Cache[string, UserContext]
}

// NewUserEnricher provides a thread-safe enricher with an internal LRU
// cache of hot user contexts.
func NewUserEnricher(store storage.Store) *UserEnricher {
	cache, _ := lru.New[string, UserContext](10000)
	return &UserEnricher{
		store: store,
		cache: cache,
	}
}

// EnrichEvent resolves the actor and, when the payload names one, the
// counterpart candidate in parallel. Both lookups complete or fail
// together. On failure the original event keeps moving unchanged.
func (e *UserEnricher) EnrichEvent(ctx context.Context, ev *event.Event) (*event.Event, error) {
	if ev == nil || ev.UserID == "" {
		return ev, nil
	}

	counterpartID := counterpart(ev)

	g, gCtx := errgroup.WithContext(ctx)

	var actor, other UserContext
	g.Go(func() error {
		var err error
		actor, err = e.ResolveUser(gCtx, ev.UserID)
		return err
	})
	if counterpartID != "" {
		g.Go(func() error {
			var err error
			other, err = e.ResolveUser(gCtx, counterpartID)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return ev, fmt.Errorf("enrichment failed: %w", err)
	}

	out := ev.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any)
	}
	out.Metadata["actor_name"] = actor.DisplayName
	out.Metadata["actor_recent_events"] = actor.RecentEvents
	if !actor.LastSeen.IsZero() {
		out.Metadata["actor_last_seen"] = actor.LastSeen.UTC().Format(time.RFC3339)
	}
	if counterpartID != "" {
		out.Metadata["counterpart_name"] = other.DisplayName
	}
	return out, nil
}

// ResolveUser follows a cache-aside strategy over recent stored events.
func (e *UserEnricher) ResolveUser(ctx context.Context, userID string) (UserContext, error) {
	if userID == "" {
		return UserContext{}, nil
	}

	if cached, ok := e.cache.Get(userID); ok {
		return cached, nil
	}

	recent, err := e.store.GetEventsByUser(ctx, userID, recentWindow, 0)
	if err != nil {
		return UserContext{UserID: userID}, err
	}

	uc := UserContext{
		UserID:       userID,
		DisplayName:  fallbackName(userID),
		RecentEvents: len(recent),
	}
	if len(recent) > 0 {
		// Newest first.
		uc.LastSeen = recent[0].Timestamp
	}
	for _, ev := range recent {
		if p, ok := ev.Payload.(*event.ProfilePayload); ok && p.Completeness > 0 {
			uc.Completeness = p.Completeness
			break
		}
	}

	e.cache.Add(userID, uc)
	return uc, nil
}

func (e *UserEnricher) Invalidate(userID string) {
	e.cache.Remove(userID)
}

// counterpart extracts the other party named by the payload, if any.
func counterpart(ev *event.Event) string {
	var id string
	switch p := ev.Payload.(type) {
	case *event.MatchPayload:
		id = p.CandidateID
	case *event.ApplicationPayload:
		id = p.CandidateID
	case *event.JobPayload:
		id = p.EmployerID
	}
	if id == ev.UserID {
		return ""
	}
	return id
}

func fallbackName(userID string) string {
	if len(userID) > 8 {
		return fmt.Sprintf("user-%s", userID[:8])
	}
	return fmt.Sprintf("user-%s", userID)
}
