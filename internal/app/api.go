package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mohans/yebragi/asyncx"
	"github.com/mohans/yebragi/internal/config"
	"github.com/mohans/yebragi/internal/httpapi"
	"github.com/mohans/yebragi/internal/jobs"
	"github.com/mohans/yebragi/internal/otp"
	"github.com/mohans/yebragi/internal/store"
)

// API serves the HTTP surface.
var API = fx.Module("api",
	fx.Provide(NewOTPStore, NewRouter),
	fx.Invoke(StartHTTPServer),
)

func NewOTPStore(rdb redis.UniversalClient, cfg *config.Config) *otp.Store {
	return otp.NewStore(rdb, cfg.OTP.TTL, cfg.OTP.MaxTries)
}

func NewRouter(cfg *config.Config, db *sql.DB, s *store.Store, otps *otp.Store, producer *jobs.Producer, queue *asyncx.Client, log *zap.Logger) http.Handler {
	return httpapi.NewRouter(httpapi.Deps{
		Appointments:  s.Appointments,
		Payments:      s.Payments,
		Articles:      s.Articles,
		OTPs:          otps,
		Producer:      producer,
		Jobs:          queue,
		DB:            db,
		WebhookSecret: cfg.Payment.WebhookSecret,
		Logger:        log,
	})
}

func StartHTTPServer(lc fx.Lifecycle, cfg *config.Config, h http.Handler, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serveInBackground(lc, srv, cfg.ShutdownTimeout, log.Named("http"))
}

// serveInBackground starts srv on fx start and drains it on stop.
func serveInBackground(lc fx.Lifecycle, srv *http.Server, shutdownTimeout time.Duration, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
}
