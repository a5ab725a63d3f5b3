package processor

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/freelancing-solutions/jobfinders-event-service/config"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/monitor"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/stream"
)

var Module = fx.Module("processor",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) RealTimeQueuer {
			return NewChannelQueue(cfg.Processor.QueueCapacity, logger)
		},
		func(s *stream.Stream, queue RealTimeQueuer, mon *monitor.Monitor, logger *slog.Logger) (*Processor, error) {
			return New(s, queue, mon, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, p *Processor, queue RealTimeQueuer) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				p.Close()
				if cq, ok := queue.(*ChannelQueue); ok {
					cq.Close()
				}
				return nil
			},
		})
	}),
)
