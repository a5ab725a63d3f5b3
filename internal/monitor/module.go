package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/freelancing-solutions/jobfinders-event-service/config"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/bus"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
)

var Module = fx.Module("monitor",
	fx.Provide(
		func(b *bus.Bus, store storage.Store, cfg *config.Config, logger *slog.Logger) *Monitor {
			return New(b, store, Config{
				MetricsInterval: cfg.Monitoring.MetricsInterval,
				HealthInterval:  cfg.Monitoring.HealthInterval,
				RetentionDays:   cfg.Monitoring.RetentionDays,
				MaxHistory:      cfg.Monitoring.MaxHistory,
				Thresholds: Thresholds{
					MaxErrorRate:      cfg.Monitoring.MaxErrorRate,
					MaxAvgLatency:     cfg.Monitoring.MaxAvgLatency,
					MaxQueueSize:      cfg.Monitoring.MaxQueueSize,
					MaxHeapBytes:      cfg.Monitoring.MaxHeapBytes,
					MaxProcessingTime: cfg.Monitoring.MaxProcessingTime,
				},
			}, logger)
		},
		// The reporter is optional; without a Redis address snapshots
		// stay in-process only.
		func(m *Monitor, cfg *config.Config, logger *slog.Logger) *Reporter {
			if cfg.Redis.Addr == "" {
				return nil
			}
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			r := NewReporter(cfg.ServiceName, client, m, logger)
			if cfg.Monitoring.ReportInterval > 0 {
				r.SetInterval(cfg.Monitoring.ReportInterval)
			}
			return r
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, m *Monitor, r *Reporter, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				m.StartMonitoring()
				if r != nil {
					r.Start(context.Background())
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if r != nil {
					done := make(chan struct{})
					go func() { r.Stop(); close(done) }()
					select {
					case <-done:
					case <-time.After(5 * time.Second):
						logger.Warn("METRICS_REPORTER_STOP_TIMEOUT")
					}
				}
				m.StopMonitoring()
				return nil
			},
		})
	}),
)
