package stream

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/freelancing-solutions/jobfinders-event-service/config"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
)

// MatchingStreamName is the shared channel for match/application events.
const MatchingStreamName = "matching"

var Module = fx.Module("stream",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger, store storage.Store) *Factory {
			return NewFactory(Config{
				MaxBufferSize:      cfg.Stream.MaxBufferSize,
				FlushInterval:      cfg.Stream.FlushInterval,
				PersistenceEnabled: cfg.Stream.PersistenceEnabled,
				RetryAttempts:      cfg.Stream.RetryAttempts,
				RetryDelay:         cfg.Stream.RetryDelay,
				DefaultSource:      cfg.ServiceName,
			}, logger, store)
		},
		// The matching stream is the default channel most components share.
		func(f *Factory) *Stream { return f.GetStream(MatchingStreamName) },
	),
	fx.Invoke(func(lc fx.Lifecycle, f *Factory) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return f.ShutdownAll(ctx)
			},
		})
	}),
)
