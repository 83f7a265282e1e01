package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"autotrader/src/auth"
	"autotrader/src/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"
)

// Routes are the handlers mounted by NewRouter. Nil handlers are not mounted.
type Routes struct {
	Trader      handler.Trader
	Orders      http.Handler
	Allocations http.Handler
	Metrics     http.Handler
}

func NewRouter(cfg *Config, routes Routes) http.Handler {
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})
	if routes.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", routes.Metrics)
	}

	// Token protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireToken(cfg.APIToken))
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		if routes.Trader != nil {
			r.Post("/signals/{crypto}", handler.BuySignalHandler(routes.Trader))
			r.Post("/exits/{crypto}", handler.ExitCheckHandler(routes.Trader))
			r.Post("/positions/{id}/close", handler.ClosePositionHandler(routes.Trader))
		}
		if routes.Orders != nil {
			r.Method(http.MethodGet, "/orders", routes.Orders)
		}
		if routes.Allocations != nil {
			r.Method(http.MethodPut, "/accounts/{id}/assets/{asset}", routes.Allocations)
		}
	})

	return r
}

// Run serves h until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, cfg *Config, h http.Handler) error {
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			logger.WithError(err).Error("Server crashed")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
