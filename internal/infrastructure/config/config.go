package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Notifier      NotifierConfig      `mapstructure:"notifier"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
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
	SSLMode         string        `mapstructure:"ssl_mode"`
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
	ProviderTimeout   time.Duration `mapstructure:"provider_timeout"`
	TransitionRetries int           `mapstructure:"transition_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	RedirectURL       string        `mapstructure:"redirect_url"`
}

// ProvidersConfig holds per-gateway credentials. A provider with an empty
// secret key is not registered.
type ProvidersConfig struct {
	Default     string            `mapstructure:"default"`
	Flutterwave FlutterwaveConfig `mapstructure:"flutterwave"`
	Stripe      StripeConfig      `mapstructure:"stripe"`
	Test        TestConfig        `mapstructure:"test"`
}

type FlutterwaveConfig struct {
	SecretKey         string `mapstructure:"secret_key"`
	WebhookSecretHash string `mapstructure:"webhook_secret_hash"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type TestConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BaseURL       string `mapstructure:"base_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type WorkerConfig struct {
	BatchSize       int64         `mapstructure:"batch_size"`
	BlockDuration   time.Duration `mapstructure:"block_duration"`
	ConsumerGroup   string        `mapstructure:"consumer_group"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	DeliveryRetries int           `mapstructure:"delivery_retries"`
}

// NotifierConfig configures delivery of transaction transitions to the
// booking service.
type NotifierConfig struct {
	BookingCallbackURL string        `mapstructure:"booking_callback_url"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("BOOKINGS")
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/bookings")

	// Config file is optional
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
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Payment.TransitionRetries <= 0 {
		errs = append(errs, fmt.Errorf("payment.transition_retries must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}

	if len(c.EnabledProviders()) == 0 {
		errs = append(errs, fmt.Errorf("at least one payment provider must be configured"))
	}
	if c.Providers.Default != "" {
		found := false
		for _, name := range c.EnabledProviders() {
			if name == c.Providers.Default {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, fmt.Errorf("providers.default %q is not an enabled provider", c.Providers.Default))
		}
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Providers.Test.Enabled {
			errs = append(errs, fmt.Errorf("providers.test must not be enabled in production"))
		}
		if c.Providers.Flutterwave.SecretKey != "" && c.Providers.Flutterwave.WebhookSecretHash == "" {
			errs = append(errs, fmt.Errorf("providers.flutterwave.webhook_secret_hash required in production"))
		}
		if c.Providers.Stripe.SecretKey != "" && c.Providers.Stripe.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("providers.stripe.webhook_secret required in production"))
		}
	}

	return errors.Join(errs...)
}

// EnabledProviders lists the names of providers with usable credentials.
func (c *Config) EnabledProviders() []string {
	var names []string
	if c.Providers.Flutterwave.SecretKey != "" {
		names = append(names, "flutterwave")
	}
	if c.Providers.Stripe.SecretKey != "" {
		names = append(names, "stripe")
	}
	if c.Providers.Test.Enabled {
		names = append(names, "test")
	}
	return names
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "bookings")
	v.SetDefault("database.database", "bookings")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Payment defaults
	v.SetDefault("payment.provider_timeout", "15s")
	v.SetDefault("payment.transition_retries", 3)
	v.SetDefault("payment.retry_delay", "50ms")
	v.SetDefault("payment.lock_ttl", "30s")

	// Provider defaults
	v.SetDefault("providers.default", "flutterwave")
	v.SetDefault("providers.test.enabled", false)
	v.SetDefault("providers.test.base_url", "http://localhost:8080")

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.consumer_group", "booking-notifiers")
	v.SetDefault("worker.cleanup_interval", "1h")
	v.SetDefault("worker.delivery_retries", 5)

	// Notifier defaults
	v.SetDefault("notifier.request_timeout", "10s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Instance ID
	v.SetDefault("instance_id", "bookings-payments-1")
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
