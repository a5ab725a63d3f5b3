// Package storage provides durable event persistence: a Postgres-backed
// store with batched conflict-safe writes, filtered queries, archival and
// transparent payload compression, plus an in-memory store for tests and
// single-node development.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

var (
	ErrNotFound    = errors.New("event not found")
	ErrStoreClosed = errors.New("store is closed")
)

// Config is the recognized persistence tuning surface.
type Config struct {
	RetentionDays        int
	BatchSize            int
	EnableCompression    bool
	CompressionThreshold int
	ArchiveEnabled       bool
}

func DefaultConfig() Config {
	return Config{
		RetentionDays:        90,
		BatchSize:            100,
		EnableCompression:    true,
		CompressionThreshold: 1024,
		ArchiveEnabled:       true,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = d.CompressionThreshold
	}
}

// Metrics is the aggregate view over stored events in a time window.
type Metrics struct {
	Total      int64                `json:"total"`
	ByType     map[event.Type]int64 `json:"by_type"`
	ByPriority map[string]int64     `json:"by_priority"`
	Start      time.Time            `json:"start,omitempty"`
	End        time.Time            `json:"end,omitempty"`
}

// Store is the durable persistence contract. Writes are conflict-safe on
// the event id: the same event offered twice under at-least-once delivery
// is a no-op the second time, never an error. Reads return newest-first.
type Store interface {
	SaveEvent(ctx context.Context, ev *event.Event) error
	SaveBatch(ctx context.Context, events []*event.Event) error

	GetEvents(ctx context.Context, f *event.Filter, limit, offset int) ([]*event.Event, error)
	GetEventByID(ctx context.Context, id string) (*event.Event, error)
	GetEventsByUser(ctx context.Context, userID string, limit, offset int) ([]*event.Event, error)
	GetEventsByType(ctx context.Context, t event.Type, limit, offset int) ([]*event.Event, error)
	GetEventMetrics(ctx context.Context, t event.Type, start, end time.Time) (*Metrics, error)

	DeleteEvent(ctx context.Context, id string) error
	DeleteEvents(ctx context.Context, f *event.Filter) (int64, error)

	// ArchiveOldEvents copies events older than the retention window into
	// the archive store, removes them from the live store, and returns
	// the count moved.
	ArchiveOldEvents(ctx context.Context) (int64, error)
	// CleanupEvents composes archival with pruning of expired archive
	// rows, returning the total rows affected.
	CleanupEvents(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
