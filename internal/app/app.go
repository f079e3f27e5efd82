// Package app assembles the components shared by the API and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/internal/email"
	"github.com/jwalitptl/notification-api/internal/repository"
	"github.com/jwalitptl/notification-api/internal/repository/postgres"
	"github.com/jwalitptl/notification-api/internal/service/delivery"
	"github.com/jwalitptl/notification-api/internal/service/devicetoken"
	"github.com/jwalitptl/notification-api/internal/service/notification"
	"github.com/jwalitptl/notification-api/internal/worker"
	"github.com/jwalitptl/notification-api/pkg/event"
	"github.com/jwalitptl/notification-api/pkg/logger"
	"github.com/jwalitptl/notification-api/pkg/messaging"
	"github.com/jwalitptl/notification-api/pkg/messaging/redis"
	"github.com/jwalitptl/notification-api/pkg/metrics"
	"github.com/jwalitptl/notification-api/pkg/push"
)

const metricsNamespace = "notification"

// Core holds the long-lived dependencies. Optional parts (Redis, FCM, SMTP)
// are nil when not configured.
type Core struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	DB       *sqlx.DB
	Bus      *event.Bus

	Notifications     repository.NotificationRepository
	Stats             repository.StatsRepository
	Directory         repository.DirectoryRepository
	NotificationStore *notification.Service
	Tokens            *devicetoken.Service

	Redis    *goredis.Client
	Broker   messaging.Broker
	Relay    *messaging.Relay
	Presence messaging.Presence

	Push push.Sender
	Mail email.Service
}

// NewLogger builds the process logger and installs it as the global zerolog
// logger used by request middleware.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	l := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.JSON,
	})
	log.Logger = *l.Zerolog()
	return l
}

func NewCore(ctx context.Context, cfg *config.Config, l *logger.Logger) (*Core, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(metricsNamespace, reg)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	c := &Core{
		Config:        cfg,
		Logger:        l,
		Registry:      reg,
		Metrics:       m,
		DB:            db,
		Notifications: postgres.NewNotificationRepository(db),
		Stats:         postgres.NewStatsRepository(db),
		Directory:     postgres.NewDirectoryRepository(db),
		Bus: event.NewBus(event.Config{
			Workers:        cfg.Bus.Workers,
			QueueSize:      cfg.Bus.QueueSize,
			HandlerTimeout: cfg.Bus.HandlerTimeout,
		}, l, m),
	}
	c.Tokens = devicetoken.NewService(postgres.NewDeviceTokenRepository(db), l)

	if cfg.Redis.Enabled() {
		client, err := redis.NewClient(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		c.Redis = client
		c.Broker = redis.NewRedisBroker(client, l)
		c.Relay = messaging.NewRelay(c.Broker, cfg.Redis.Channel, l)
		c.Presence = redis.NewPresence(client, cfg.Redis.PresenceTTL)
		l.Info("redis relay enabled", "channel", cfg.Redis.Channel)
	}

	if cfg.Firebase.Enabled() {
		sender, err := push.NewFCMSender(ctx, cfg.Firebase.CredentialsFile, cfg.Firebase.ProjectID)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialise push: %w", err)
		}
		c.Push = sender
		l.Info("device push enabled")
	}

	if cfg.SMTP.Enabled() {
		c.Mail = email.NewSMTPService(cfg.SMTP)
		l.Info("email alerts enabled", "host", cfg.SMTP.Host)
	}

	return c, nil
}

// Dispatcher builds delivery for this process. local is the in-process hub,
// or nil in processes that hold no real-time connections. Without Redis the
// local hub is the only source of presence.
func (c *Core) Dispatcher(local delivery.LocalPusher, localPresence delivery.Presence) *delivery.Dispatcher {
	var opts []delivery.Option
	presence := localPresence
	if c.Relay != nil {
		opts = append(opts, delivery.WithRelay(c.Relay))
		presence = delivery.SharedPresence(c.Presence)
	}
	if c.Push != nil {
		opts = append(opts, delivery.WithPush(c.Tokens, c.Push))
	}
	if c.Mail != nil {
		opts = append(opts, delivery.WithEmail(c.Mail, c.Directory))
	}
	return delivery.NewDispatcher(presence, local, c.Logger, c.Metrics, opts...)
}

// Subscribe builds the notification store around dispatcher and maps every
// domain event onto it.
func (c *Core) Subscribe(dispatcher notification.Dispatcher) error {
	c.NotificationStore = notification.NewService(c.Notifications, c.Logger, c.Metrics,
		notification.WithDispatcher(dispatcher),
		notification.WithMissedLimit(c.Config.Gateway.MissedLimit),
	)
	return notification.NewEventHandlers(c.NotificationStore, c.Directory, c.Logger).Register(c.Bus)
}

// Runners returns the scheduled detectors and the retention worker.
func (c *Core) Runners() []*worker.Runner {
	d := c.Config.Detectors
	runners := []*worker.Runner{
		worker.NewRunner(
			worker.NewMilestoneDetector(c.Stats, c.Directory, c.Bus, c.Logger),
			worker.Every(orDefault(d.MilestoneInterval, time.Hour)), c.Logger, c.Metrics),
		worker.NewRunner(
			worker.NewPerformanceDetector(c.Stats, c.Directory, c.Bus, worker.ThresholdsFromConfig(d), worker.RuntimeMemory, c.Logger),
			worker.Every(orDefault(d.PerformanceInterval, 5*time.Minute)), c.Logger, c.Metrics),
		worker.NewRunner(
			worker.NewRetentionWorker(c.Notifications, c.Tokens, c.Config.Retention, c.Logger),
			worker.Every(orDefault(c.Config.Retention.Interval, 6*time.Hour)), c.Logger, c.Metrics),
	}
	if d.MonthlyEnabled {
		runners = append(runners, worker.NewRunner(
			worker.NewMonthlyReporter(c.Stats, c.Directory, c.Bus, c.Logger),
			worker.Monthly, c.Logger, c.Metrics))
	}
	return runners
}

// Shutdown drains the bus, waits for background deliveries started by its
// handlers, then closes external connections.
func (c *Core) Shutdown(ctx context.Context, dispatcher *delivery.Dispatcher) error {
	err := c.Bus.Shutdown(ctx)
	if dispatcher != nil {
		dispatcher.Wait()
	}
	return errors.Join(err, c.Close())
}

func (c *Core) Close() error {
	var errs []error
	// the broker owns the redis client
	if c.Broker != nil {
		errs = append(errs, c.Broker.Close())
	}
	errs = append(errs, c.DB.Close())
	return errors.Join(errs...)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
