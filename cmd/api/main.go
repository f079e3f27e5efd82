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

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/internal/app"
	"github.com/jwalitptl/notification-api/internal/gateway"
	"github.com/jwalitptl/notification-api/internal/handler/health"
	notificationHandler "github.com/jwalitptl/notification-api/internal/handler/notification"
	"github.com/jwalitptl/notification-api/internal/handler/prometheus"
	"github.com/jwalitptl/notification-api/internal/middleware"
	"github.com/jwalitptl/notification-api/internal/router"
	authService "github.com/jwalitptl/notification-api/internal/service/auth"
	"github.com/jwalitptl/notification-api/internal/service/delivery"
	"github.com/jwalitptl/notification-api/pkg/auth"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	l := app.NewLogger(cfg.Log)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.NewCore(ctx, cfg, l)
	if err != nil {
		l.Fatal(err, "failed to initialise")
	}

	hub := gateway.NewHub(l, core.Metrics, core.Presence)
	dispatcher := core.Dispatcher(hub, delivery.HubPresence(hub))
	if err := core.Subscribe(dispatcher); err != nil {
		l.Fatal(err, "failed to register event handlers")
	}

	authSvc := authService.NewService(auth.NewJWTService(cfg.JWT.Secret), cfg.JWT)
	channel := gateway.NewServer(hub, core.NotificationStore, authSvc,
		gateway.NewConfig(cfg.Gateway, cfg.Server.AllowedOrigins), l)

	r := router.NewRouter(
		middleware.NewAuthMiddleware(authSvc),
		notificationHandler.NewHandler(core.NotificationStore, core.Tokens, authSvc),
		health.NewHandler(core.DB, hub),
		prometheus.New(core.Registry).Handler(),
		channel.ServeWS,
		core.Metrics,
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			CORSConfig:       middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins),
		},
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Setup(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	core.Bus.Start()

	var background sync.WaitGroup
	if core.Relay != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := core.Relay.Run(ctx, hub.HandleRelay); err != nil {
				l.Error(err, "relay stopped")
			}
		}()
	}
	if cfg.Server.RunDetectors {
		for _, runner := range core.Runners() {
			background.Add(1)
			go func() {
				defer background.Done()
				runner.Start(ctx)
			}()
		}
	}

	go func() {
		l.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	l.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), orDefault(cfg.Server.ShutdownTimeout, 5*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error(err, "server forced to shutdown")
	}
	// hijacked websocket connections are not closed by Shutdown
	hub.Close()
	background.Wait()

	if err := core.Shutdown(shutdownCtx, dispatcher); err != nil {
		l.Error(err, "shutdown incomplete")
		os.Exit(1)
	}
	l.Info("server exited properly")
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
