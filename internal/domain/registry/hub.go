package registry

import (
	"sync"
	"time"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

// Hubber defines the gateway for user feed management and event routing.
type Hubber interface {
	Broadcast(ev *event.Event) bool
	Register(conn Connector)
	Unregister(userID, connID string)
	IsConnected(userID string) bool
	Shutdown()
}

type hubConfig struct {
	evictionInterval time.Duration
	idleTimeout      time.Duration
	mailboxSize      int
}

// Hub implements a [SCALABLE_REGISTRY] of per-user delivery cells.
type Hub struct {
	// cells stores Map[string]Celler. Optimized for [READ_HEAVY] workloads.
	cells  sync.Map
	config hubConfig

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config: hubConfig{
			evictionInterval: 15 * time.Minute,
			idleTimeout:      30 * time.Minute,
			mailboxSize:      2048,
		},
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.wg.Add(1)
	go h.janitor()
	return h
}

func (h *Hub) IsConnected(userID string) bool {
	_, ok := h.cells.Load(userID)
	return ok
}

// Broadcast routes an event to the owning [USER_CELL]. Returns false on
// miss or mailbox overflow.
func (h *Hub) Broadcast(ev *event.Event) bool {
	if ev == nil || ev.UserID == "" {
		return false
	}
	if val, ok := h.cells.Load(ev.UserID); ok {
		if cell, ok := val.(Celler); ok {
			return cell.Push(ev)
		}
	}
	return false
}

// Register ensures [IDEMPOTENT] cell creation and attaches a transport.
func (h *Hub) Register(conn Connector) {
	uID := conn.GetUserID()
	// [LAZY_INIT] Create the cell only when the first connection arrives.
	fresh := NewCell(uID, h.config.mailboxSize)
	val, loaded := h.cells.LoadOrStore(uID, fresh)
	if loaded {
		// Lost the race; the spare cell must not leak its loop.
		fresh.Stop()
	}
	if cell, ok := val.(Celler); ok {
		cell.Attach(conn)
	}
}

// Unregister performs [GRACEFUL_RECLAMATION] when a session ends. The
// cell is purged once its last session detaches.
func (h *Hub) Unregister(userID, connID string) {
	if val, ok := h.cells.Load(userID); ok {
		if cell, ok := val.(Celler); ok {
			if cell.Detach(connID) {
				cell.Stop()
				h.cells.Delete(userID)
			}
		}
	}
}

// janitor periodically evicts cells whose users went quiet without a
// clean disconnect.
func (h *Hub) janitor() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.config.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.cells.Range(func(key, val any) bool {
				if cell, ok := val.(Celler); ok && cell.IsIdle(h.config.idleTimeout) {
					cell.Stop()
					h.cells.Delete(key)
				}
				return true
			})
		case <-h.stopCh:
			return
		}
	}
}

// Shutdown stops the janitor and every cell. Idempotent.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.wg.Wait()
		h.cells.Range(func(key, val any) bool {
			if cell, ok := val.(Celler); ok {
				cell.Stop()
			}
			h.cells.Delete(key)
			return true
		})
	})
}
