package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. NOTIFY_DATABASE_DSN.
const EnvPrefix = "NOTIFY"

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" split_words:"true"`
	MetricsPort     int           `mapstructure:"metrics_port" split_words:"true"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" split_words:"true"`
	// RunDetectors starts the detectors inside the API process instead of cmd/worker.
	RunDetectors bool `mapstructure:"run_detectors" split_words:"true"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" split_words:"true"`
	Migrate         bool          `mapstructure:"migrate"`
}

type JWTConfig struct {
	Secret    string        `mapstructure:"secret"`
	Issuer    string        `mapstructure:"issuer"`
	TicketTTL time.Duration `mapstructure:"ticket_ttl" split_words:"true"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" split_words:"true"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
	Channel      string        `mapstructure:"channel"`
	PresenceTTL  time.Duration `mapstructure:"presence_ttl" split_words:"true"`
}

func (c RedisConfig) Enabled() bool { return c.URL != "" }

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" && c.From != "" }

type FirebaseConfig struct {
	CredentialsFile string `mapstructure:"credentials_file" split_words:"true"`
	ProjectID       string `mapstructure:"project_id" split_words:"true"`
}

func (c FirebaseConfig) Enabled() bool { return c.CredentialsFile != "" }

type GatewayConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer" split_words:"true"`
	WriteWait      time.Duration `mapstructure:"write_wait" split_words:"true"`
	PongWait       time.Duration `mapstructure:"pong_wait" split_words:"true"`
	MaxMessageSize int64         `mapstructure:"max_message_size" split_words:"true"`
	InboundRate    float64       `mapstructure:"inbound_rate" split_words:"true"`
	InboundBurst   int           `mapstructure:"inbound_burst" split_words:"true"`
	MissedLimit    int           `mapstructure:"missed_limit" split_words:"true"`
}

type BusConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size" split_words:"true"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" split_words:"true"`
}

type DetectorsConfig struct {
	MilestoneInterval   time.Duration `mapstructure:"milestone_interval" split_words:"true"`
	PerformanceInterval time.Duration `mapstructure:"performance_interval" split_words:"true"`
	PerformanceWindow   time.Duration `mapstructure:"performance_window" split_words:"true"`
	LatencyThreshold    time.Duration `mapstructure:"latency_threshold" split_words:"true"`
	ErrorRateThreshold  float64       `mapstructure:"error_rate_threshold" split_words:"true"`
	MemoryHighPercent   float64       `mapstructure:"memory_high_percent" split_words:"true"`
	MemoryCritPercent   float64       `mapstructure:"memory_critical_percent" envconfig:"MEMORY_CRITICAL_PERCENT"`
	MonthlyEnabled      bool          `mapstructure:"monthly_enabled" split_words:"true"`
}

type RetentionConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	ReadAfter        time.Duration `mapstructure:"read_after" split_words:"true"`
	InactiveTokenAge time.Duration `mapstructure:"inactive_token_age" split_words:"true"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" split_words:"true"`
	Burst             int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Redis     RedisConfig     `mapstructure:"redis"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Firebase  FirebaseConfig  `mapstructure:"firebase"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Bus       BusConfig       `mapstructure:"bus"`
	Detectors DetectorsConfig `mapstructure:"detectors"`
	Retention RetentionConfig `mapstructure:"retention"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" split_words:"true"`
	Log       LogConfig       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.metrics_port", 8081)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("jwt.issuer", "notification-api")
	v.SetDefault("jwt.ticket_ttl", 60*time.Second)

	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.channel", "notifications")
	v.SetDefault("redis.presence_ttl", 90*time.Second)

	v.SetDefault("smtp.port", 587)

	v.SetDefault("gateway.send_buffer", 64)
	v.SetDefault("gateway.write_wait", 10*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.max_message_size", 4096)
	v.SetDefault("gateway.inbound_rate", 10)
	v.SetDefault("gateway.inbound_burst", 20)
	v.SetDefault("gateway.missed_limit", 100)

	v.SetDefault("bus.workers", 4)
	v.SetDefault("bus.queue_size", 256)
	v.SetDefault("bus.handler_timeout", 30*time.Second)

	v.SetDefault("detectors.milestone_interval", time.Hour)
	v.SetDefault("detectors.performance_interval", 5*time.Minute)
	v.SetDefault("detectors.performance_window", 10*time.Minute)
	v.SetDefault("detectors.latency_threshold", 120*time.Second)
	v.SetDefault("detectors.error_rate_threshold", 5.0)
	v.SetDefault("detectors.memory_high_percent", 85.0)
	v.SetDefault("detectors.memory_critical_percent", 95.0)
	v.SetDefault("detectors.monthly_enabled", true)

	v.SetDefault("retention.interval", 6*time.Hour)
	v.SetDefault("retention.read_after", 30*24*time.Hour)
	v.SetDefault("retention.inactive_token_age", 30*24*time.Hour)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yml from the usual search paths, falls back to
// defaults when no file exists, then applies NOTIFY_* environment overrides.
func LoadConfig() (*Config, error) {
	return load(viper.New(), []string{".", "./config", "/app", "/app/config"})
}

func load(v *viper.Viper, paths []string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	return nil
}
