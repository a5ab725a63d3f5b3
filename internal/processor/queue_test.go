package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, p WorkPriority) *WorkItem {
	return &WorkItem{Type: "match.created", UserID: id, Priority: p}
}

func TestQueueDequeueHighestPriorityFirst(t *testing.T) {
	q := NewChannelQueue(10, testLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, item("low", WorkLow)))
	require.NoError(t, q.Enqueue(ctx, item("critical", WorkCritical)))
	require.NoError(t, q.Enqueue(ctx, item("medium", WorkMedium)))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "critical", got.UserID)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "medium", got.UserID)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low", got.UserID)
	assert.Zero(t, q.Len())
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := NewChannelQueue(10, testLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, item("first", WorkHigh)))
	require.NoError(t, q.Enqueue(ctx, item("second", WorkHigh)))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", got.UserID)
}

func TestQueueEvictsLowerPriorityWhenFull(t *testing.T) {
	q := NewChannelQueue(2, testLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, item("old-low", WorkLow)))
	require.NoError(t, q.Enqueue(ctx, item("high", WorkHigh)))
	require.NoError(t, q.Enqueue(ctx, item("critical", WorkCritical)))
	assert.Equal(t, 2, q.Len())

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "critical", got.UserID)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high", got.UserID)
}

func TestQueueDropsWhenNothingRanksLower(t *testing.T) {
	q := NewChannelQueue(2, testLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, item("a", WorkCritical)))
	require.NoError(t, q.Enqueue(ctx, item("b", WorkCritical)))
	require.NoError(t, q.Enqueue(ctx, item("c", WorkLow)))
	assert.Equal(t, 2, q.Len())
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewChannelQueue(10, testLogger())

	done := make(chan *WorkItem, 1)
	go func() {
		got, err := q.Dequeue(context.Background())
		if err == nil {
			done <- got
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), item("late", WorkLow)))

	select {
	case got := <-done:
		assert.Equal(t, "late", got.UserID)
	case <-time.After(time.Second):
		t.Fatal("dequeue never woke up")
	}
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	q := NewChannelQueue(10, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseDrainsThenReports(t *testing.T) {
	q := NewChannelQueue(10, testLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, item("queued", WorkLow)))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Enqueue(ctx, item("late", WorkLow)), ErrQueueClosed)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "queued", got.UserID)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}
