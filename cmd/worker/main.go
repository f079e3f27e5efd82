package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/internal/app"
	"github.com/jwalitptl/notification-api/pkg/logger"
)

// The worker runs the detectors and the retention sweep. Notifications it
// creates reach online users through the Redis relay when configured, and
// device push or email otherwise.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	l := app.NewLogger(cfg.Log).With("worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.NewCore(ctx, cfg, l)
	if err != nil {
		l.Fatal(err, "failed to initialise")
	}

	dispatcher := core.Dispatcher(nil, nil)
	if err := core.Subscribe(dispatcher); err != nil {
		l.Fatal(err, "failed to register event handlers")
	}
	core.Bus.Start()

	srv := setupHealthCheck(core, cfg.Server.MetricsPort, l)

	var wg sync.WaitGroup
	for _, runner := range core.Runners() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Start(ctx)
		}()
	}

	<-ctx.Done()
	l.Info("shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wg.Wait()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error(err, "health server forced to shutdown")
	}
	if err := core.Shutdown(shutdownCtx, dispatcher); err != nil {
		l.Error(err, "shutdown incomplete")
		os.Exit(1)
	}
	l.Info("worker exited properly")
}

func setupHealthCheck(core *app.Core, port int, l *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(core.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := core.DB.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error(err, "health server failed")
		}
	}()
	return srv
}
