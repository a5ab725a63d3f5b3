package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrQueueClosed = errors.New("work queue is closed")

// ChannelQueue is the in-process RealTimeQueuer. Capacity is bounded;
// when full, a new item evicts the oldest lower-priority item rather
// than blocking the producer. If nothing queued ranks lower, the new
// item is dropped with a warning.
type ChannelQueue struct {
	log *slog.Logger

	mu     sync.Mutex
	items  []*WorkItem
	cap    int
	closed bool
	notify chan struct{}
}

func priorityRank(p WorkPriority) int {
	switch p {
	case WorkCritical:
		return 4
	case WorkHigh:
		return 3
	case WorkMedium:
		return 2
	default:
		return 1
	}
}

func NewChannelQueue(capacity int, log *slog.Logger) *ChannelQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	return &ChannelQueue{
		log:    log,
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends the item, evicting the oldest strictly lower-priority
// item when at capacity.
func (q *ChannelQueue) Enqueue(ctx context.Context, item *WorkItem) error {
	if item == nil {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if len(q.items) >= q.cap {
		evicted := -1
		rank := priorityRank(item.Priority)
		for i, queued := range q.items {
			if priorityRank(queued.Priority) < rank {
				evicted = i
				break
			}
		}
		if evicted < 0 {
			q.mu.Unlock()
			q.log.Warn("WORK_ITEM_DROPPED", "type", item.Type, "priority", item.Priority)
			return nil
		}
		dropped := q.items[evicted]
		q.items = append(q.items[:evicted], q.items[evicted+1:]...)
		q.log.Warn("WORK_ITEM_EVICTED", "type", dropped.Type, "priority", dropped.Priority)
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until an item is available, the queue closes, or ctx
// ends. The highest-priority item queued is returned first; ties go to
// the oldest.
func (q *ChannelQueue) Dequeue(ctx context.Context) (*WorkItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			best := 0
			for i, item := range q.items {
				if priorityRank(item.Priority) > priorityRank(q.items[best].Priority) {
					best = i
				}
			}
			item := q.items[best]
			q.items = append(q.items[:best], q.items[best+1:]...)
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				// Keep sibling consumers awake.
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			select {
			case q.notify <- struct{}{}:
			default:
			}
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len reports the queued backlog.
func (q *ChannelQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further enqueues. Queued items remain dequeueable until
// drained.
func (q *ChannelQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
