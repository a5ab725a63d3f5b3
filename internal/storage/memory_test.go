package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

func storedEvent(id string, t event.Type, userID string, age time.Duration) *event.Event {
	return &event.Event{
		ID:        id,
		Type:      t,
		Timestamp: time.Now().Add(-age),
		Priority:  event.PriorityNormal,
		Source:    "matching-service",
		UserID:    userID,
		Version:   1,
	}
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{})

	ev := storedEvent("ev-1", event.MatchCreated, "u-1", 0)
	ev.Payload = event.MatchPayload{MatchID: "m-1", Score: 0.92}
	require.NoError(t, s.SaveEvent(ctx, ev))

	got, err := s.GetEventByID(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, event.MatchCreated, got.Type)
	assert.Equal(t, "u-1", got.UserID)

	// Stored copy is isolated from later caller mutation.
	ev.UserID = "mutated"
	got, err = s.GetEventByID(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)

	_, err = s.GetEventByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDuplicateIDIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{})

	first := storedEvent("ev-1", event.MatchCreated, "u-1", 0)
	second := storedEvent("ev-1", event.MatchUpdated, "u-2", 0)
	require.NoError(t, s.SaveEvent(ctx, first))
	require.NoError(t, s.SaveEvent(ctx, second))

	got, err := s.GetEventByID(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, event.MatchCreated, got.Type)
}

func TestMemoryStoreSaveEventRejectsInvalid(t *testing.T) {
	s := NewMemoryStore(Config{})
	err := s.SaveEvent(context.Background(), &event.Event{ID: "ev-1"})
	assert.ErrorIs(t, err, event.ErrValidation)
}

func TestMemoryStoreBatchSkipsInvalid(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{})

	batch := []*event.Event{
		storedEvent("ev-1", event.MatchCreated, "u-1", 0),
		{ID: "ev-bad"}, // no type, no timestamp
		storedEvent("ev-2", event.JobPosted, "u-2", 0),
	}
	require.NoError(t, s.SaveBatch(ctx, batch))

	events, err := s.GetEvents(ctx, nil, 10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryStoreQueryOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{})

	for i := 0; i < 5; i++ {
		ev := storedEvent(fmt.Sprintf("ev-%d", i), event.MatchCreated, "u-1", time.Duration(i)*time.Hour)
		require.NoError(t, s.SaveEvent(ctx, ev))
	}

	page1, err := s.GetEvents(ctx, nil, 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "ev-0", page1[0].ID) // newest first
	assert.Equal(t, "ev-1", page1[1].ID)

	page2, err := s.GetEvents(ctx, nil, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "ev-2", page2[0].ID)

	tail, err := s.GetEvents(ctx, nil, 10, 4)
	require.NoError(t, err)
	assert.Len(t, tail, 1)
}

func TestMemoryStoreFilteredQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{})

	require.NoError(t, s.SaveEvent(ctx, storedEvent("ev-1", event.MatchCreated, "u-1", 0)))
	require.NoError(t, s.SaveEvent(ctx, storedEvent("ev-2", event.JobPosted, "u-1", 0)))
	require.NoError(t, s.SaveEvent(ctx, storedEvent("ev-3", event.MatchCreated, "u-2", 0)))

	byUser, err := s.GetEventsByUser(ctx, "u-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byType, err := s.GetEventsByType(ctx, event.MatchCreated, 10, 0)
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	both, err := s.GetEvents(ctx, &event.Filter{
		Types:  []event.Type{event.MatchCreated},
		UserID: "u-1",
	}, 10, 0)
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "ev-1", both[0].ID)

	custom, err := s.GetEvents(ctx, &event.Filter{
		Custom: func(ev *event.Event) bool { return ev.ID == "ev-3" },
	}, 10, 0)
	require.NoError(t, err)
	require.Len(t, custom, 1)
	assert.Equal(t, "ev-3", custom[0].ID)
}

func TestMemoryStoreMetrics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{})

	urgent := storedEvent("ev-1", event.MatchRejected, "u-1", 0)
	urgent.Priority = event.PriorityUrgent
	require.NoError(t, s.SaveEvent(ctx, urgent))
	require.NoError(t, s.SaveEvent(ctx, storedEvent("ev-2", event.MatchCreated, "u-1", 0)))
	require.NoError(t, s.SaveEvent(ctx, storedEvent("ev-3", event.MatchCreated, "u-2", time.Hour)))

	m, err := s.GetEventMetrics(ctx, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Total)
	assert.Equal(t, int64(2), m.ByType[event.MatchCreated])
	assert.Equal(t, int64(1), m.ByPriority[event.PriorityUrgent.String()])

	onlyCreated, err := s.GetEventMetrics(ctx, event.MatchCreated, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), onlyCreated.Total)

	windowed, err := s.GetEventMetrics(ctx, "", time.Now().Add(-30*time.Minute), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), windowed.Total)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{})

	require.NoError(t, s.SaveEvent(ctx, storedEvent("ev-1", event.MatchCreated, "u-1", 0)))
	require.NoError(t, s.SaveEvent(ctx, storedEvent("ev-2", event.JobPosted, "u-1", 0)))

	require.NoError(t, s.DeleteEvent(ctx, "ev-1"))
	assert.ErrorIs(t, s.DeleteEvent(ctx, "ev-1"), ErrNotFound)

	n, err := s.DeleteEvents(ctx, &event.Filter{Types: []event.Type{event.JobPosted}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rest, err := s.GetEvents(ctx, nil, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestMemoryStoreArchiveAndCleanup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{RetentionDays: 30, ArchiveEnabled: true})

	fresh := storedEvent("ev-fresh", event.MatchCreated, "u-1", time.Hour)
	old := storedEvent("ev-old", event.MatchCreated, "u-1", 40*24*time.Hour)
	ancient := storedEvent("ev-ancient", event.MatchCreated, "u-1", 90*24*time.Hour)
	require.NoError(t, s.SaveBatch(ctx, []*event.Event{fresh, old, ancient}))

	moved, err := s.ArchiveOldEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved)

	// Archived rows leave the live store but remain readable from the archive.
	_, err = s.GetEventByID(ctx, "ev-old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok := s.ArchivedEvent("ev-old")
	assert.True(t, ok)
	got, err := s.GetEventByID(ctx, "ev-fresh")
	require.NoError(t, err)
	assert.Equal(t, "ev-fresh", got.ID)

	// Cleanup prunes archive rows past twice the retention window.
	n, err := s.CleanupEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ok = s.ArchivedEvent("ev-ancient")
	assert.False(t, ok)
	_, ok = s.ArchivedEvent("ev-old")
	assert.True(t, ok)
}

func TestMemoryStoreArchiveDisabled(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Config{RetentionDays: 30, ArchiveEnabled: false})
	require.NoError(t, s.SaveEvent(ctx, storedEvent("ev-old", event.MatchCreated, "u-1", 60*24*time.Hour)))

	moved, err := s.ArchiveOldEvents(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestMemoryStorePingAfterClose(t *testing.T) {
	s := NewMemoryStore(Config{})
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), ErrStoreClosed)
}
