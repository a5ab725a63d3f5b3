package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

// Connector is the transport-facing side of a session. WebSocket and
// long-poll handlers read from Recv and write frames downstream.
type Connector interface {
	GetID() string
	GetUserID() string
	Send(ev *event.Event, timeout time.Duration) bool
	Recv() <-chan *event.Event
	Dropped() uint64
	Close()
}

// connPool recycles connector shells across session churn.
var connPool = sync.Pool{
	New: func() any {
		return &connect{}
	},
}

type connect struct {
	id     string
	userID string

	ctx    context.Context
	cancel context.CancelFunc

	sendMu sync.Mutex
	sendCh chan *event.Event

	droppedCount atomic.Uint64
	closeOnce    *sync.Once
}

// NewConnector leases a session connector for userID. bufferSize bounds
// the per-session send queue.
func NewConnector(ctx context.Context, userID string, bufferSize int) Connector {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	c := connPool.Get().(*connect)
	c.reset(ctx, userID, bufferSize)
	return c
}

func (c *connect) reset(ctx context.Context, userID string, bufferSize int) {
	c.id = uuid.NewString()
	c.userID = userID
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.sendCh = make(chan *event.Event, bufferSize)
	c.droppedCount.Store(0)
	c.closeOnce = new(sync.Once)
}

func (c *connect) GetID() string     { return c.id }
func (c *connect) GetUserID() string { return c.userID }

func (c *connect) Recv() <-chan *event.Event { return c.sendCh }

// Dropped reports how many events this session shed under backpressure.
func (c *connect) Dropped() uint64 { return c.droppedCount.Load() }

// Send queues an event for the transport. When the queue stays full past
// timeout the call falls through to [BACKPRESSURE] handling instead of
// blocking the cell loop.
func (c *connect) Send(ev *event.Event, timeout time.Duration) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.sendCh <- ev:
		return true
	case <-c.ctx.Done():
		return false
	case <-timer.C:
		return c.handleBackpressure(ev)
	}
}

// handleBackpressure sheds load when the session queue is saturated.
// Low-priority incoming events are dropped outright. Higher-priority
// events evict the oldest strictly lower-priority queued event to make
// room. Caller holds sendMu.
func (c *connect) handleBackpressure(ev *event.Event) bool {
	if ev.Priority <= event.PriorityLow {
		c.droppedCount.Add(1)
		return false
	}

	depth := len(c.sendCh)
	for i := 0; i < depth; i++ {
		select {
		case queued := <-c.sendCh:
			if queued.Priority < ev.Priority {
				// Evict the stale lower-priority event.
				c.droppedCount.Add(1)
				select {
				case c.sendCh <- ev:
					return true
				default:
					return false
				}
			}
			// Keep it, rotate to the back.
			select {
			case c.sendCh <- queued:
			default:
			}
		default:
			// Queue drained concurrently, retry the straight path.
			select {
			case c.sendCh <- ev:
				return true
			default:
			}
		}
	}

	c.droppedCount.Add(1)
	return false
}

// Close tears the session down and returns the shell to the pool.
func (c *connect) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.sendMu.Lock()
		close(c.sendCh)
		c.sendMu.Unlock()
		c.sanitize()
		connPool.Put(c)
	})
}

// sanitize clears identity before pooling. The cancelled context stays
// so a straggling Send fails cleanly instead of dereferencing nil.
func (c *connect) sanitize() {
	c.id = ""
	c.userID = ""
}
