package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

// MemoryStore is the in-process Store used by tests and single-node
// development. Semantics mirror the Postgres store: duplicate ids are
// no-ops, reads are newest-first, archival moves rows between two maps.
type MemoryStore struct {
	cfg Config

	mu      sync.RWMutex
	live    map[string]*event.Event
	archive map[string]*event.Event
	closed  bool
}

func NewMemoryStore(cfg Config) *MemoryStore {
	cfg.normalize()
	return &MemoryStore{
		cfg:     cfg,
		live:    make(map[string]*event.Event),
		archive: make(map[string]*event.Event),
	}
}

func (s *MemoryStore) SaveEvent(ctx context.Context, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.live[ev.ID]; exists {
		return nil
	}
	s.live[ev.ID] = ev.Clone()
	return nil
}

func (s *MemoryStore) SaveBatch(ctx context.Context, events []*event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			continue
		}
		if _, exists := s.live[ev.ID]; exists {
			continue
		}
		s.live[ev.ID] = ev.Clone()
	}
	return nil
}

// snapshotLocked returns matching live events newest-first.
func (s *MemoryStore) snapshotLocked(f *event.Filter) []*event.Event {
	out := make([]*event.Event, 0, len(s.live))
	for _, ev := range s.live {
		if f.Matches(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func page(events []*event.Event, limit, offset int) []*event.Event {
	if offset >= len(events) {
		return nil
	}
	events = events[offset:]
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	out := make([]*event.Event, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out
}

func (s *MemoryStore) GetEvents(ctx context.Context, f *event.Filter, limit, offset int) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.snapshotLocked(f), limit, offset), nil
}

func (s *MemoryStore) GetEventByID(ctx context.Context, id string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ev, ok := s.live[id]; ok {
		return ev.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetEventsByUser(ctx context.Context, userID string, limit, offset int) ([]*event.Event, error) {
	return s.GetEvents(ctx, &event.Filter{UserID: userID}, limit, offset)
}

func (s *MemoryStore) GetEventsByType(ctx context.Context, t event.Type, limit, offset int) ([]*event.Event, error) {
	return s.GetEvents(ctx, &event.Filter{Types: []event.Type{t}}, limit, offset)
}

func (s *MemoryStore) GetEventMetrics(ctx context.Context, t event.Type, start, end time.Time) (*Metrics, error) {
	f := &event.Filter{Since: start, Until: end}
	if t != "" {
		f.Types = []event.Type{t}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := &Metrics{
		ByType:     make(map[event.Type]int64),
		ByPriority: make(map[string]int64),
		Start:      start,
		End:        end,
	}
	for _, ev := range s.live {
		if !f.Matches(ev) {
			continue
		}
		m.Total++
		m.ByType[ev.Type]++
		m.ByPriority[ev.Priority.String()]++
	}
	return m, nil
}

func (s *MemoryStore) DeleteEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[id]; !ok {
		return ErrNotFound
	}
	delete(s.live, id)
	return nil
}

func (s *MemoryStore) DeleteEvents(ctx context.Context, f *event.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ev := range s.live {
		if f.Matches(ev) {
			delete(s.live, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ArchiveOldEvents(ctx context.Context) (int64, error) {
	if !s.cfg.ArchiveEnabled {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ev := range s.live {
		if ev.Timestamp.Before(cutoff) {
			s.archive[id] = ev
			delete(s.live, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CleanupEvents(ctx context.Context) (int64, error) {
	archived, err := s.ArchiveOldEvents(ctx)
	if err != nil {
		return archived, err
	}
	cutoff := time.Now().AddDate(0, 0, -2*s.cfg.RetentionDays)

	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned int64
	for id, ev := range s.archive {
		if ev.Timestamp.Before(cutoff) {
			delete(s.archive, id)
			pruned++
		}
	}
	return archived + pruned, nil
}

// ArchivedEvent exposes the archive store for tests and reports.
func (s *MemoryStore) ArchivedEvent(id string) (*event.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.archive[id]
	if !ok {
		return nil, false
	}
	return ev.Clone(), true
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
