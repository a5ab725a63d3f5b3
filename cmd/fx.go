package cmd

import (
	"log/slog"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/freelancing-solutions/jobfinders-event-service/config"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/adapter/pubsub"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/bus"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/registry"
	amqphandler "github.com/freelancing-solutions/jobfinders-event-service/internal/handler/amqp"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/handler/httpapi"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/monitor"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/processor"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/service"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/stream"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger}
		}),

		pubsub.Module,
		bus.Module,
		storage.Module,
		stream.Module,
		monitor.Module,
		processor.Module,
		registry.Module,
		service.Module,
		amqphandler.Module,
		httpapi.Module,
	)
}

// ProvideLogger builds the process-wide structured logger from the
// logging section.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", cfg.ServiceName)
	slog.SetDefault(logger)
	return logger
}
