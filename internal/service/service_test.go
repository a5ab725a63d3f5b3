package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/bus"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/registry"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) *registry.Hub {
	t.Helper()
	h := registry.NewHub()
	t.Cleanup(h.Shutdown)
	return h
}

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.DefaultConfig(), testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})
	return b
}

func matchEvent(id, userID string) *event.Event {
	return &event.Event{
		ID:        id,
		Type:      event.MatchCreated,
		Timestamp: time.Now().UTC(),
		Priority:  event.PriorityHigh,
		UserID:    userID,
		Payload:   &event.MatchPayload{MatchID: "m-1", CandidateID: "cand-1", Score: 0.92},
	}
}

func TestFeedSubscribeDeliversBusEvents(t *testing.T) {
	h := newTestHub(t)
	b := newTestBus(t)

	router := NewFeedRouter(b, h, testLogger())
	require.NoError(t, router.Start())
	defer router.Stop()

	feed := NewFeedService(h)
	conn, err := feed.Subscribe(context.Background(), "u-1")
	require.NoError(t, err)
	defer feed.Unsubscribe("u-1", conn.GetID())

	require.NoError(t, b.Publish(context.Background(), matchEvent("ev-1", "u-1")))

	select {
	case got := <-conn.Recv():
		assert.Equal(t, "ev-1", got.ID)
		assert.Equal(t, "u-1", got.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed delivery")
	}
}

func TestFeedRouterSkipsUserlessEvents(t *testing.T) {
	h := newTestHub(t)
	b := newTestBus(t)

	router := NewFeedRouter(b, h, testLogger())
	require.NoError(t, router.Start())
	require.NoError(t, router.Start()) // idempotent
	defer router.Stop()

	feed := NewFeedService(h)
	conn, err := feed.Subscribe(context.Background(), "u-1")
	require.NoError(t, err)
	defer feed.Unsubscribe("u-1", conn.GetID())

	system := &event.Event{
		ID:        "ev-sys",
		Type:      event.SystemHealth,
		Timestamp: time.Now().UTC(),
		Payload:   &event.SystemPayload{Component: "bus"},
	}
	require.NoError(t, b.Publish(context.Background(), system))

	select {
	case got := <-conn.Recv():
		t.Fatalf("unexpected delivery: %s", got.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFeedRouterStopDetaches(t *testing.T) {
	h := newTestHub(t)
	b := newTestBus(t)

	router := NewFeedRouter(b, h, testLogger())
	require.NoError(t, router.Start())
	before := b.Metrics().ActiveSubscriptions
	router.Stop()
	router.Stop()
	assert.Equal(t, before-1, b.Metrics().ActiveSubscriptions)
}

func TestFeedUnsubscribeStopsDelivery(t *testing.T) {
	h := newTestHub(t)

	feed := NewFeedService(h)
	conn, err := feed.Subscribe(context.Background(), "u-1")
	require.NoError(t, err)

	feed.Unsubscribe("u-1", conn.GetID())
	assert.False(t, h.IsConnected("u-1"))
	assert.False(t, h.Broadcast(matchEvent("ev-2", "u-1")))
}

func seedStore(t *testing.T, store storage.Store, events ...*event.Event) {
	t.Helper()
	require.NoError(t, store.SaveBatch(context.Background(), events))
}

func TestResolveUserBuildsContextFromHistory(t *testing.T) {
	store := storage.NewMemoryStore(storage.DefaultConfig())
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now().UTC()
	seedStore(t, store,
		&event.Event{
			ID: "ev-old", Type: event.ProfileCompleted, Timestamp: now.Add(-time.Hour),
			UserID:  "u-1",
			Payload: &event.ProfilePayload{ProfileID: "p-1", Completeness: 0.8},
		},
		matchEvent("ev-new", "u-1"),
	)

	e := NewUserEnricher(store)
	uc, err := e.ResolveUser(context.Background(), "u-1")
	require.NoError(t, err)

	assert.Equal(t, "u-1", uc.UserID)
	assert.Equal(t, 2, uc.RecentEvents)
	assert.Equal(t, 0.8, uc.Completeness)
	assert.Equal(t, "user-u-1", uc.DisplayName)
	assert.False(t, uc.LastSeen.IsZero())
}

func TestResolveUserCachesUntilInvalidated(t *testing.T) {
	store := storage.NewMemoryStore(storage.DefaultConfig())
	t.Cleanup(func() { _ = store.Close() })

	seedStore(t, store, matchEvent("ev-1", "u-1"))

	e := NewUserEnricher(store)
	first, err := e.ResolveUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.RecentEvents)

	seedStore(t, store, matchEvent("ev-2", "u-1"))

	cached, err := e.ResolveUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.RecentEvents)

	e.Invalidate("u-1")
	fresh, err := e.ResolveUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.RecentEvents)
}

func TestEnrichEventStampsActorAndCounterpart(t *testing.T) {
	store := storage.NewMemoryStore(storage.DefaultConfig())
	t.Cleanup(func() { _ = store.Close() })

	seedStore(t, store, matchEvent("ev-1", "u-1"))

	e := NewUserEnricher(store)
	ev := matchEvent("ev-2", "u-1")
	out, err := e.EnrichEvent(context.Background(), ev)
	require.NoError(t, err)

	require.NotSame(t, ev, out)
	assert.Equal(t, "user-u-1", out.Metadata["actor_name"])
	assert.Equal(t, 1, out.Metadata["actor_recent_events"])
	assert.Equal(t, "user-cand-1", out.Metadata["counterpart_name"])
	// Original untouched.
	assert.Nil(t, ev.Metadata["actor_name"])
}

func TestEnrichEventPassesThroughUserless(t *testing.T) {
	store := storage.NewMemoryStore(storage.DefaultConfig())
	t.Cleanup(func() { _ = store.Close() })

	e := NewUserEnricher(store)
	ev := &event.Event{
		ID: "ev-sys", Type: event.SystemAlert, Timestamp: time.Now().UTC(),
		Payload: &event.SystemPayload{Component: "bus"},
	}
	out, err := e.EnrichEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Same(t, ev, out)
}

type failingEnricher struct{}

func (failingEnricher) EnrichEvent(_ context.Context, ev *event.Event) (*event.Event, error) {
	return ev, errors.New("store offline")
}

func (failingEnricher) ResolveUser(context.Context, string) (UserContext, error) {
	return UserContext{}, errors.New("store offline")
}

func (failingEnricher) Invalidate(string) {}

func TestEnricherMiddlewarePropagatesResult(t *testing.T) {
	m := NewEnricherMiddleware(failingEnricher{}, testLogger())

	ev := matchEvent("ev-1", "u-1")
	out, err := m.EnrichEvent(context.Background(), ev)
	assert.Error(t, err)
	assert.Same(t, ev, out)

	_, err = m.ResolveUser(context.Background(), "u-1")
	assert.Error(t, err)
}
