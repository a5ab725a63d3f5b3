package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

const deliverTimeout = 500 * time.Millisecond

// Celler is a single-user actor that fans events out to the user's
// live sessions.
type Celler interface {
	Push(ev *event.Event) bool
	Attach(conn Connector)
	Detach(connID string) (empty bool)
	IsIdle(timeout time.Duration) bool
	Sessions() int
	Stop()
}

// Cell owns the [MAILBOX] for one user. A dedicated goroutine drains
// the mailbox so slow sessions never block the hub.
type Cell struct {
	userID  string
	mailbox chan *event.Event

	mu       sync.RWMutex
	sessions map[string]Connector

	lastSeen atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewCell(userID string, mailboxSize int) *Cell {
	if mailboxSize <= 0 {
		mailboxSize = 2048
	}
	c := &Cell{
		userID:   userID,
		mailbox:  make(chan *event.Event, mailboxSize),
		sessions: make(map[string]Connector),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.touch()
	go c.loop()
	return c
}

// Push enqueues an event without blocking. A full mailbox means the
// user's sessions cannot keep up and the event is shed.
func (c *Cell) Push(ev *event.Event) bool {
	select {
	case <-c.stopCh:
		return false
	default:
	}
	select {
	case c.mailbox <- ev:
		return true
	default:
		return false
	}
}

func (c *Cell) Attach(conn Connector) {
	c.mu.Lock()
	c.sessions[conn.GetID()] = conn
	c.mu.Unlock()
	c.touch()
}

// Detach removes a session and reports whether the cell is now empty.
func (c *Cell) Detach(connID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.sessions[connID]; ok {
		delete(c.sessions, connID)
		conn.Close()
	}
	c.touch()
	return len(c.sessions) == 0
}

func (c *Cell) Sessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// IsIdle reports whether the cell has no sessions and has seen no
// activity within timeout.
func (c *Cell) IsIdle(timeout time.Duration) bool {
	c.mu.RLock()
	n := len(c.sessions)
	c.mu.RUnlock()
	if n > 0 {
		return false
	}
	last := time.Unix(0, c.lastSeen.Load())
	return time.Since(last) > timeout
}

func (c *Cell) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.done
		c.mu.Lock()
		for id, conn := range c.sessions {
			conn.Close()
			delete(c.sessions, id)
		}
		c.mu.Unlock()
	})
}

func (c *Cell) loop() {
	defer close(c.done)
	for {
		select {
		case ev := <-c.mailbox:
			c.deliver(ev)
		case <-c.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case ev := <-c.mailbox:
					c.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver fans the event out to every attached session. [BEST_EFFORT]
// per session: a stuck transport drops its copy, others still receive.
func (c *Cell) deliver(ev *event.Event) {
	c.touch()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conn := range c.sessions {
		conn.Send(ev, deliverTimeout)
	}
}

func (c *Cell) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}
