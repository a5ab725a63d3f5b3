package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
)

// Factory hands out named singleton streams so independent subsystems
// share one stream per logical channel.
type Factory struct {
	cfg   Config
	log   *slog.Logger
	store storage.Store

	mu      sync.Mutex
	streams map[string]*Stream
	closed  bool
}

func NewFactory(cfg Config, log *slog.Logger, store storage.Store) *Factory {
	return &Factory{
		cfg:     cfg,
		log:     log,
		store:   store,
		streams: make(map[string]*Stream),
	}
}

// GetStream returns the stream registered under name, creating it on
// first use. A closed factory returns nil.
func (f *Factory) GetStream(name string) *Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	if s, ok := f.streams[name]; ok {
		return s
	}
	s := New(name, f.cfg, f.log, f.store)
	f.streams[name] = s
	return s
}

// ShutdownAll stops every stream the factory created.
func (f *Factory) ShutdownAll(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	streams := make([]*Stream, 0, len(f.streams))
	for _, s := range f.streams {
		streams = append(streams, s)
	}
	f.streams = make(map[string]*Stream)
	f.mu.Unlock()

	var firstErr error
	for _, s := range streams {
		if err := s.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
