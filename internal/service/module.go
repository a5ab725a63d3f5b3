package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		fx.Annotate(
			NewFeedService,
			fx.As(new(Feeder)),
		),
		fx.Annotate(
			NewUserEnricher,
			fx.As(new(Enricher)),
		),
		NewFeedRouter,
	),

	// [DECORATION_LAYER] Intercept Enricher to add cross-cutting concerns
	fx.Decorate(func(orig Enricher, logger *slog.Logger) Enricher {
		return &enricherMiddleware{
			next:   orig,
			logger: logger,
		}
	}),

	fx.Invoke(func(lc fx.Lifecycle, r *FeedRouter) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return r.Start()
			},
			OnStop: func(ctx context.Context) error {
				r.Stop()
				return nil
			},
		})
	}),
)
