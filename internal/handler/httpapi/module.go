package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/freelancing-solutions/jobfinders-event-service/config"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/handler/lp"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/handler/ws"
)

var Module = fx.Module("http-handler",
	fx.Provide(
		ws.NewWSHandler,
		lp.NewLPHandler,
		NewAPI,
		func(cfg *config.Config, a *API, wsHandler *ws.WSHandler, lpHandler *lp.LPHandler) *http.Server {
			return &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           a.Routes(wsHandler, lpHandler),
				ReadHeaderTimeout: 10 * time.Second,
			}
		},
	),

	fx.Invoke(func(lc fx.Lifecycle, srv *http.Server, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				ln, err := net.Listen("tcp", srv.Addr)
				if err != nil {
					return err
				}
				logger.Info("HTTP_LISTENING", "addr", ln.Addr().String())
				go func() {
					if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("HTTP_SERVER_STOPPED", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
