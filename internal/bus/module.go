package bus

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/freelancing-solutions/jobfinders-event-service/config"
)

var Module = fx.Module("bus",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger, exporter Exporter) *Bus {
			opts := []Option{}
			if exporter != nil {
				opts = append(opts, WithExporter(exporter))
			}
			return New(Config{
				MaxRetries:          cfg.Bus.MaxRetries,
				RetryDelay:          cfg.Bus.RetryDelay,
				Timeout:             cfg.Bus.Timeout,
				MaxConcurrentEvents: cfg.Bus.MaxConcurrentEvents,
				BufferSize:          cfg.Bus.BufferSize,
				BatchProcessing:     cfg.Bus.BatchProcessing,
				BatchSize:           cfg.Bus.BatchSize,
				BatchTimeout:        cfg.Bus.BatchTimeout,
				DefaultSource:       cfg.ServiceName,
			}, logger, opts...)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, b *Bus) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return b.Shutdown(ctx)
			},
		})
	}),
)
