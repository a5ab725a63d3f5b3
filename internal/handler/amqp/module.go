package amqp

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/freelancing-solutions/jobfinders-event-service/config"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/adapter/pubsub"
)

func NewWatermillRouter(logger *slog.Logger) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{}, watermill.NewSlogLogger(logger))
}

var Module = fx.Module("amqp-handler",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger, d pubsub.EventDispatcher) *pubsub.SubscriberProvider {
			var shared message.Publisher
			if d != nil {
				shared = d.Publisher()
			}
			return pubsub.NewSubscriberProvider(pubsub.SinkConfig{
				Sink:    cfg.Ingest.Sink,
				AMQPURL: cfg.Ingest.AMQPURL,
			}, logger, shared)
		},

		NewIngestHandler,
		NewWatermillRouter,
	),

	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, h *IngestHandler, router *message.Router, subProvider *pubsub.SubscriberProvider, logger *slog.Logger) error {
		if !cfg.Ingest.Enabled {
			logger.Info("INGEST_DISABLED")
			return nil
		}
		if err := h.RegisterHandlers(router, subProvider); err != nil {
			return err
		}

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := router.Run(context.Background()); err != nil {
						logger.Error("INGEST_ROUTER_STOPPED", "err", err)
					}
				}()
				select {
				case <-router.Running():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			OnStop: func(ctx context.Context) error {
				return router.Close()
			},
		})
		return nil
	}),
)
