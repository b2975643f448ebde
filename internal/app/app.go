// Package app собирает сервис исполнения заказов и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает зависимости, outbox worker, consumer рейтинга и ops HTTP сервер.
// Возвращает nil после отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithFields(version.Fields()).WithFields(log.Fields{
		"storage": cfg.StorageDriver,
		"locks":   cfg.LockDriver,
	}).Info("starting fulfillment service")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	return serve(ctx, cfg, deps, logger)
}

func serve(ctx context.Context, cfg Config, deps *Dependencies, logger *log.Entry) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deps.Worker.Run(ctx)
		return nil
	})

	if deps.Retention != nil {
		g.Go(func() error {
			deps.Retention.Run(ctx)
			return nil
		})
	}

	if deps.Consumer != nil {
		if err := deps.Consumer.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			return deps.Consumer.Stop()
		})
	}

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newOpsRouter(deps.Health),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Infof("ops server listens on %s (/metrics, /healthz, /livez, /readyz)", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
		return nil
	})

	err := g.Wait()
	logger.Info("fulfillment service stopped")
	return err
}

// newOpsRouter отдаёт метрики и пробы. Запросного API у сервиса нет.
func newOpsRouter(h *health.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/healthz", h).Methods(http.MethodGet)
	r.HandleFunc("/livez", health.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.ReadinessHandler).Methods(http.MethodGet)
	return r
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("ops server shutdown with error")
	}
}
