package amqp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/adapter/pubsub"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/bus"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/service"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/service/dto"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ingestHarness struct {
	bus      *bus.Bus
	producer message.Publisher

	mu       sync.Mutex
	received []*event.Event
}

func newIngestHarness(t *testing.T) *ingestHarness {
	t.Helper()

	logger := testLogger()
	b := bus.New(bus.DefaultConfig(), logger)
	store := storage.NewMemoryStore(storage.DefaultConfig())
	enricher := service.NewUserEnricher(store)

	h := NewIngestHandler(b, enricher, logger, nil)

	router, err := NewWatermillRouter(logger)
	require.NoError(t, err)

	sp := pubsub.NewSubscriberProvider(pubsub.SinkConfig{Sink: pubsub.SinkChannel}, logger, nil)
	require.NoError(t, h.RegisterHandlers(router, sp))

	harness := &ingestHarness{bus: b}
	_, err = b.SubscribeMultiple(event.Types(), func(_ context.Context, ev *event.Event) error {
		harness.mu.Lock()
		harness.received = append(harness.received, ev)
		harness.mu.Unlock()
		return nil
	}, nil)
	require.NoError(t, err)

	go func() { _ = router.Run(context.Background()) }()
	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	harness.producer = sp.ChannelPublisher()
	require.NotNil(t, harness.producer)

	t.Cleanup(func() {
		_ = router.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
		_ = store.Close()
	})
	return harness
}

func (h *ingestHarness) waitFor(t *testing.T, want event.Type) *event.Event {
	t.Helper()
	var got *event.Event
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, ev := range h.received {
			if ev.Type == want {
				got = ev
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	return got
}

func publishJSON(t *testing.T, pub message.Publisher, topic string, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(topic, message.NewMessage("msg-"+topic, payload)))
}

func TestIngestMatchCreated(t *testing.T) {
	h := newIngestHarness(t)

	publishJSON(t, h.producer, TopicMatchCreated, dto.MatchV1{
		MatchID:     "m-1",
		JobID:       "j-1",
		UserID:      "u-1",
		CandidateID: "cand-1",
		Score:       0.95,
		Status:      "pending",
		OccurredAt:  time.Now().UTC().Format(time.RFC3339),
		Correlation: "corr-1",
	})

	got := h.waitFor(t, event.MatchCreated)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, event.PriorityUrgent, got.Priority)

	p, ok := got.Payload.(*event.MatchPayload)
	require.True(t, ok)
	assert.Equal(t, "m-1", p.MatchID)
	assert.Equal(t, 0.95, p.Score)

	// Enrichment stamps actor context.
	assert.Contains(t, got.Metadata, "actor_name")
}

func TestIngestProfileCompletionUpgrade(t *testing.T) {
	h := newIngestHarness(t)

	publishJSON(t, h.producer, TopicProfileUpdated, dto.ProfileV1{
		ProfileID:    "p-1",
		UserID:       "u-1",
		Completeness: 1.0,
	})
	got := h.waitFor(t, event.ProfileCompleted)

	p, ok := got.Payload.(*event.ProfilePayload)
	require.True(t, ok)
	assert.Equal(t, "p-1", p.ProfileID)
}

func TestIngestSurvivesMalformedPayload(t *testing.T) {
	h := newIngestHarness(t)

	require.NoError(t, h.producer.Publish(TopicFeedbackSubmitted,
		message.NewMessage("bad-1", []byte("{not json"))))

	publishJSON(t, h.producer, TopicFeedbackSubmitted, dto.FeedbackV1{
		FeedbackID: "f-1",
		MatchID:    "m-1",
		UserID:     "u-1",
		Rating:     4,
	})

	got := h.waitFor(t, event.FeedbackSubmitted)
	p, ok := got.Payload.(*event.FeedbackPayload)
	require.True(t, ok)
	assert.Equal(t, "f-1", p.FeedbackID)
	assert.Equal(t, 4, p.Rating)
}

func TestIngestAssignsTraceCorrelation(t *testing.T) {
	h := newIngestHarness(t)

	publishJSON(t, h.producer, TopicJobPosted, dto.JobV1{
		JobID:      "j-1",
		EmployerID: "emp-1",
		UserID:     "u-emp",
		Title:      "Backend Engineer",
	})

	got := h.waitFor(t, event.JobPosted)
	// No upstream correlation id: the trace id fills in.
	assert.NotEmpty(t, got.CorrelationID)
}
