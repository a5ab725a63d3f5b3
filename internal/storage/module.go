package storage

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/freelancing-solutions/jobfinders-event-service/config"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/bus"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

var Module = fx.Module("storage",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) (Store, error) {
			sc := Config{
				RetentionDays:        cfg.Persistence.RetentionDays,
				BatchSize:            cfg.Persistence.BatchSize,
				EnableCompression:    cfg.Persistence.EnableCompression,
				CompressionThreshold: cfg.Persistence.CompressionThreshold,
				ArchiveEnabled:       cfg.Persistence.ArchiveEnabled,
			}
			if cfg.Persistence.DSN == "" {
				logger.Warn("NO_DATABASE_CONFIGURED", "fallback", "memory")
				return NewMemoryStore(sc), nil
			}
			store, err := NewPostgresStore(cfg.Persistence.DSN, sc, logger)
			if err != nil {
				return nil, err
			}
			if err := store.EnsureSchema(context.Background()); err != nil {
				return nil, err
			}
			return store, nil
		},
		func(cfg *config.Config, store Store, logger *slog.Logger) *BufferedWriter {
			return NewBufferedWriter(store, WriterConfig{
				BatchSize:     cfg.Persistence.BatchSize,
				FlushInterval: cfg.Persistence.FlushInterval,
			}, logger)
		},
	),
	// Persistence rides the bus: every published event flows into the
	// buffered writer and from there into the store.
	fx.Invoke(func(lc fx.Lifecycle, b *bus.Bus, store Store, writer *BufferedWriter) error {
		_, err := b.SubscribeMultiple(event.Types(), func(_ context.Context, ev *event.Event) error {
			writer.Enqueue(ev)
			return nil
		}, nil)
		if err != nil {
			return err
		}

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if err := writer.Close(ctx); err != nil {
					return err
				}
				return store.Close()
			},
		})
		return nil
	}),
)
