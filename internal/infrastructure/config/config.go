package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	HealthCheck     time.Duration `mapstructure:"health_check_period"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	ApplicationName string        `mapstructure:"application_name"`
	// Isolation is read_committed, repeatable_read or serializable.
	Isolation string `mapstructure:"isolation"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type PaymentConfig struct {
	MinAmount      int64           `mapstructure:"min_amount"`
	MaxAmount      int64           `mapstructure:"max_amount"`
	Currency       string          `mapstructure:"currency"`
	LockTTL        time.Duration   `mapstructure:"lock_ttl"`
	LockRetries    int             `mapstructure:"lock_retries"`
	LockRetryDelay time.Duration   `mapstructure:"lock_retry_delay"`
	Reference      ReferenceConfig `mapstructure:"reference"`
	Gateway        GatewayConfig   `mapstructure:"gateway"`
}

// ReferenceConfig configures the local provider. Store is "memory" or
// "redis"; redis shares intents across API instances.
type ReferenceConfig struct {
	Store            string        `mapstructure:"store"`
	StoreTTL         time.Duration `mapstructure:"store_ttl"`
	SynthesizeStatus bool          `mapstructure:"synthesize_status"`
}

type GatewayConfig struct {
	Name                string        `mapstructure:"name"`
	SecretKey           string        `mapstructure:"secret_key"`
	WebhookSecret       string        `mapstructure:"webhook_secret"`
	Timeout             time.Duration `mapstructure:"timeout"`
	BreakerMinRequests  uint32        `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio float64       `mapstructure:"breaker_failure_ratio"`
	BreakerOpenTimeout  time.Duration `mapstructure:"breaker_open_timeout"`
}

type WorkerConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	EventStream        string        `mapstructure:"event_stream"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// PAYCORE_PAYMENT_GATEWAY_SECRET_KEY maps to payment.gateway.secret_key
	v.SetEnvPrefix("PAYCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paycore")

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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	switch c.Database.Isolation {
	case "", "read_committed", "repeatable_read", "serializable":
	default:
		errs = append(errs, fmt.Errorf("database.isolation must be read_committed, repeatable_read or serializable, got %q", c.Database.Isolation))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Payment.MinAmount <= 0 {
		errs = append(errs, fmt.Errorf("payment.min_amount must be positive"))
	}
	if c.Payment.MaxAmount < c.Payment.MinAmount {
		errs = append(errs, fmt.Errorf("payment.max_amount (%d) must not be below payment.min_amount (%d)",
			c.Payment.MaxAmount, c.Payment.MinAmount))
	}
	if len(c.Payment.Currency) != 3 {
		errs = append(errs, fmt.Errorf("payment.currency must be a 3-letter code, got %q", c.Payment.Currency))
	}
	if c.Payment.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("payment.lock_ttl must be positive"))
	}
	switch c.Payment.Reference.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("payment.reference.store must be memory or redis, got %q", c.Payment.Reference.Store))
	}
	if c.Payment.Gateway.BreakerFailureRatio < 0 || c.Payment.Gateway.BreakerFailureRatio > 1 {
		errs = append(errs, fmt.Errorf("payment.gateway.breaker_failure_ratio must be within [0,1]"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}

	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Payment.Reference.SynthesizeStatus {
			errs = append(errs, fmt.Errorf("payment.reference.synthesize_status must be off in production"))
		}
		if c.Payment.Gateway.SecretKey != "" && c.Payment.Gateway.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("payment.gateway.webhook_secret required in production when the gateway is enabled"))
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.rate_limit.requests", 100)
	v.SetDefault("server.rate_limit.window", "1m")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "paycore")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "paycore")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.health_check_period", "1m")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.application_name", "paycore")
	v.SetDefault("database.isolation", "read_committed")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Payment defaults
	v.SetDefault("payment.min_amount", 100)
	v.SetDefault("payment.max_amount", 9_999_999)
	v.SetDefault("payment.currency", "JPY")
	v.SetDefault("payment.lock_ttl", "30s")
	v.SetDefault("payment.lock_retries", 3)
	v.SetDefault("payment.lock_retry_delay", "100ms")
	v.SetDefault("payment.reference.store", "memory")
	v.SetDefault("payment.reference.store_ttl", "168h")
	v.SetDefault("payment.reference.synthesize_status", false)
	v.SetDefault("payment.gateway.name", "stripe")
	v.SetDefault("payment.gateway.secret_key", "")
	v.SetDefault("payment.gateway.webhook_secret", "")
	v.SetDefault("payment.gateway.timeout", "15s")
	v.SetDefault("payment.gateway.breaker_min_requests", 10)
	v.SetDefault("payment.gateway.breaker_failure_ratio", 0.6)
	v.SetDefault("payment.gateway.breaker_open_timeout", "30s")

	// Worker defaults
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.event_stream", "payments:events")
	v.SetDefault("worker.reconcile_interval", "1m")
	v.SetDefault("worker.stale_after", "5m")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	v.SetDefault("instance_id", "paycore-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MigrateURL is the postgres:// form golang-migrate expects.
func (c *DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GatewayEnabled reports whether a gateway secret is present.
func (c *PaymentConfig) GatewayEnabled() bool {
	return c.Gateway.SecretKey != ""
}
