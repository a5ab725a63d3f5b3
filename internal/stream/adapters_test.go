package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

func TestReaderReceivesMatchingEvents(t *testing.T) {
	s := newTestStream(t, Config{FlushInterval: time.Hour}, nil)

	r, err := s.NewReader(&event.Filter{Types: []event.Type{event.MatchCreated}}, 8)
	require.NoError(t, err)
	defer r.Close()

	_, err = s.Publish(context.Background(), draftEvent(event.JobPosted, "u-1"))
	require.NoError(t, err)
	published, err := s.Publish(context.Background(), draftEvent(event.MatchCreated, "u-1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, published.ID, got.ID)

	// The filtered-out job event never arrived.
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err = r.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReaderOverflowCutsSubscription(t *testing.T) {
	s := newTestStream(t, Config{FlushInterval: time.Hour}, nil)

	r, err := s.NewReader(nil, 1)
	require.NoError(t, err)

	// Second publish overflows the buffer of one and closes the reader.
	_, err = s.Publish(context.Background(), draftEvent(event.MatchCreated, "u-1"))
	require.NoError(t, err)
	_, err = s.Publish(context.Background(), draftEvent(event.MatchCreated, "u-1"))
	require.NoError(t, err)

	// Buffered event drains first, then closure is reported.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = r.Next(ctx)
	require.NoError(t, err)
	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, ErrReaderClosed)

	assert.Zero(t, s.Stats().Subscriptions)
}

func TestReaderCloseIdempotent(t *testing.T) {
	s := newTestStream(t, Config{FlushInterval: time.Hour}, nil)

	r, err := s.NewReader(nil, 4)
	require.NoError(t, err)
	r.Close()
	r.Close()

	_, err = r.Next(context.Background())
	assert.ErrorIs(t, err, ErrReaderClosed)
}

func TestWriterPublishesThroughStream(t *testing.T) {
	s := newTestStream(t, Config{FlushInterval: time.Hour}, nil)
	w := s.NewWriter()

	ev, err := w.Write(context.Background(), draftEvent(event.MatchCreated, "u-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
}

func TestTransformerMapsAndDrops(t *testing.T) {
	s := newTestStream(t, Config{FlushInterval: time.Hour}, nil)

	tr := s.NewTransformer(func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		if ev.UserID == "blocked" {
			return nil, nil
		}
		ev.Metadata = map[string]any{"transformed": true}
		return ev, nil
	})

	ev, err := tr.Write(context.Background(), draftEvent(event.MatchCreated, "u-1"))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, true, ev.Metadata["transformed"])

	dropped, err := tr.Write(context.Background(), draftEvent(event.MatchCreated, "blocked"))
	require.NoError(t, err)
	assert.Nil(t, dropped)
	assert.Zero(t, s.Stats().BufferSize)
}

func TestTransformerPropagatesError(t *testing.T) {
	s := newTestStream(t, Config{FlushInterval: time.Hour}, nil)

	wantErr := errors.New("malformed draft")
	tr := s.NewTransformer(func(ctx context.Context, ev *event.Event) (*event.Event, error) {
		return nil, wantErr
	})

	_, err := tr.Write(context.Background(), draftEvent(event.MatchCreated, "u-1"))
	assert.ErrorIs(t, err, wantErr)
}
