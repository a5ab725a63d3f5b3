package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
)

func TestFactoryReturnsSingletonPerName(t *testing.T) {
	f := NewFactory(Config{FlushInterval: time.Hour}, testLogger(), storage.NewMemoryStore(storage.Config{}))
	t.Cleanup(func() { f.ShutdownAll(context.Background()) })

	matching := f.GetStream("matching")
	require.NotNil(t, matching)
	assert.Same(t, matching, f.GetStream("matching"))

	notifications := f.GetStream("notifications")
	require.NotNil(t, notifications)
	assert.NotSame(t, matching, notifications)
	assert.Equal(t, "notifications", notifications.Name())
}

func TestFactoryShutdownAll(t *testing.T) {
	f := NewFactory(Config{FlushInterval: time.Hour}, testLogger(), storage.NewMemoryStore(storage.Config{}))

	matching := f.GetStream("matching")
	require.NotNil(t, matching)
	require.NoError(t, f.ShutdownAll(context.Background()))

	_, err := matching.Publish(context.Background(), draftEvent(event.MatchCreated, "u-1"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, f.GetStream("matching"))
}
