// Package stream implements the high-throughput event stream: buffered
// publish with synchronous filtered notification, pull/push/transform
// adapters, and a periodic flush cycle draining buffered events into the
// persistence store.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
)

var (
	ErrClosed      = errors.New("event stream is closed")
	ErrNilCallback = errors.New("subscription callback is nil")
)

// Callback receives matching events synchronously on the publisher's
// goroutine. Keep it cheap; hand off to a channel or goroutine for slow
// work.
type Callback func(ev *event.Event)

// Config is the recognized stream tuning surface.
type Config struct {
	MaxBufferSize      int
	FlushInterval      time.Duration
	PersistenceEnabled bool
	RetryAttempts      int
	RetryDelay         time.Duration
	DefaultSource      string
}

func DefaultConfig() Config {
	return Config{
		MaxBufferSize:      1000,
		FlushInterval:      5 * time.Second,
		PersistenceEnabled: true,
		RetryAttempts:      3,
		RetryDelay:         time.Second,
		DefaultSource:      "event-stream",
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = d.MaxBufferSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.DefaultSource == "" {
		c.DefaultSource = d.DefaultSource
	}
}

type subscription struct {
	id       string
	filter   *event.Filter
	callback Callback
	seq      uint64
	active   atomic.Bool
}

// Stats is the observable stream state.
type Stats struct {
	Name             string `json:"name"`
	BufferSize       int    `json:"buffer_size"`
	Subscriptions    int    `json:"subscriptions"`
	Processing       bool   `json:"processing"`
	PersistenceQueue int    `json:"persistence_queue"`
	Paused           bool   `json:"paused"`
}

// Stream buffers published events and periodically flushes them into the
// store. Unlike the bus it pushes to subscribers synchronously and
// matches purely through filters.
type Stream struct {
	name  string
	cfg   Config
	log   *slog.Logger
	store storage.Store

	mu     sync.RWMutex
	subs   []*subscription
	seq    atomic.Uint64
	buffer []*event.Event

	persistMu sync.Mutex
	persistQ  []*event.Event

	processing atomic.Bool
	paused     atomic.Bool
	closed     atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a stream and starts the flush loop. store may be nil when
// persistence is disabled.
func New(name string, cfg Config, log *slog.Logger, store storage.Store) *Stream {
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		cfg.PersistenceEnabled = false
	}
	s := &Stream{
		name:   name,
		cfg:    cfg,
		log:    log,
		store:  store,
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.runFlushLoop()
	return s
}

func (s *Stream) Name() string { return s.name }

// Publish assigns id, timestamp and version to the draft event, buffers
// it, and synchronously notifies every matching subscription. Reaching
// the buffer cap triggers an immediate flush.
func (s *Stream) Publish(ctx context.Context, draft *event.Event) (*event.Event, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if draft == nil {
		return nil, event.ErrValidation
	}
	if !draft.Type.Known() {
		return nil, event.ErrValidation
	}

	ev := draft.Clone()
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now().UTC()
	if ev.Version == 0 {
		ev.Version = 1
	}
	ev.Enrich(s.cfg.DefaultSource)

	s.mu.Lock()
	s.buffer = append(s.buffer, ev)
	full := len(s.buffer) >= s.cfg.MaxBufferSize
	subs := make([]*subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if s.cfg.PersistenceEnabled {
		s.persistMu.Lock()
		s.persistQ = append(s.persistQ, ev.Clone())
		s.persistMu.Unlock()
	}

	// Push model: subscribers are notified on the publisher's goroutine,
	// in registration order.
	for _, sub := range subs {
		if sub.active.Load() && sub.filter.Matches(ev) {
			sub.callback(ev.Clone())
		}
	}

	if full {
		s.FlushBuffer(ctx)
	}
	return ev, nil
}

// Subscribe registers a filter-first subscription and returns its id.
func (s *Stream) Subscribe(f *event.Filter, cb Callback) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	if cb == nil {
		return "", ErrNilCallback
	}
	sub := &subscription{
		id:       uuid.NewString(),
		filter:   f,
		callback: cb,
		seq:      s.seq.Add(1),
	}
	sub.active.Store(true)

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub.id, nil
}

// Unsubscribe removes the subscription; returns whether it existed.
func (s *Stream) Unsubscribe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			sub.active.Store(false)
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Stream) runFlushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !s.paused.Load() {
				s.FlushBuffer(context.Background())
			}
		case <-s.stopCh:
			return
		}
	}
}

// FlushBuffer drains the buffer and the persistence queue into the store
// with bounded linear-backoff retries per batch. A failed batch is
// re-queued for the next cycle. Re-entrancy is guarded by the processing
// flag: overlapping flushes are skipped, not serialized.
func (s *Stream) FlushBuffer(ctx context.Context) {
	if !s.processing.CompareAndSwap(false, true) {
		return
	}
	defer s.processing.Store(false)

	s.mu.Lock()
	s.buffer = s.buffer[:0]
	s.mu.Unlock()

	if !s.cfg.PersistenceEnabled {
		return
	}

	s.persistMu.Lock()
	batch := s.persistQ
	s.persistQ = nil
	s.persistMu.Unlock()

	if len(batch) == 0 {
		return
	}

	var err error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		if err = s.store.SaveBatch(ctx, batch); err == nil {
			s.log.Debug("STREAM_FLUSH_COMPLETED", "stream", s.name, "events", len(batch))
			return
		}
		if attempt < s.cfg.RetryAttempts {
			select {
			case <-time.After(s.cfg.RetryDelay * time.Duration(attempt)):
			case <-s.stopCh:
				attempt = s.cfg.RetryAttempts // final flush path: stop retry loop
			case <-ctx.Done():
				attempt = s.cfg.RetryAttempts
			}
		}
	}

	// Requeue at the front so the next cycle retries the oldest first.
	s.log.Warn("STREAM_FLUSH_FAILED", "stream", s.name, "events", len(batch), "err", err)
	s.persistMu.Lock()
	s.persistQ = append(batch, s.persistQ...)
	s.persistMu.Unlock()
}

// Pause stops the periodic flush without discarding buffered state.
func (s *Stream) Pause() { s.paused.Store(true) }

// Resume restarts the periodic flush.
func (s *Stream) Resume() { s.paused.Store(false) }

// Stats returns the current buffer/subscription/queue gauges.
func (s *Stream) Stats() Stats {
	s.mu.RLock()
	bufLen := len(s.buffer)
	subCount := len(s.subs)
	s.mu.RUnlock()

	s.persistMu.Lock()
	qLen := len(s.persistQ)
	s.persistMu.Unlock()

	return Stats{
		Name:             s.name,
		BufferSize:       bufLen,
		Subscriptions:    subCount,
		Processing:       s.processing.Load(),
		PersistenceQueue: qLen,
		Paused:           s.paused.Load(),
	}
}

// Shutdown pauses the flush loop, clears subscriptions and performs one
// final flush. Idempotent.
func (s *Stream) Shutdown(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.Pause()
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	for _, sub := range s.subs {
		sub.active.Store(false)
	}
	s.subs = nil
	s.mu.Unlock()

	s.FlushBuffer(ctx)
	s.log.Info("EVENT_STREAM_STOPPED", "stream", s.name)
	return nil
}
