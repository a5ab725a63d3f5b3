package pubsub

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/freelancing-solutions/jobfinders-event-service/config"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/bus"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) (EventDispatcher, error) {
			if !cfg.Export.Enabled {
				return nil, nil
			}
			pub, err := BuildPublisher(SinkConfig{
				Sink:         cfg.Export.Sink,
				AMQPURL:      cfg.Export.AMQPURL,
				Exchange:     cfg.Export.Exchange,
				KafkaBrokers: cfg.Export.KafkaBrokers,
			}, logger)
			if err != nil {
				return nil, err
			}
			logger.Info("EXPORT_SINK_READY", "sink", cfg.Export.Sink)
			return NewEventDispatcher(pub), nil
		},
		func(d EventDispatcher) bus.Exporter {
			if d == nil {
				return nil
			}
			return d
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, d EventDispatcher) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if d == nil {
					return nil
				}
				return d.Publisher().Close()
			},
		})
	}),
)
