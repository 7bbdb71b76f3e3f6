package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	API         APIConfig         `mapstructure:"api"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Email       EmailConfig       `mapstructure:"email"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// APIConfig holds REST API server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL connection pool configuration.
type DatabaseConfig struct {
	URL               string        `mapstructure:"url"`
	PoolMin           int32         `mapstructure:"pool_min"`
	PoolMax           int32         `mapstructure:"pool_max"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// EmailConfig holds outbound email transport configuration.
// Transport selects the client implementation: "smtp" or "stdout".
type EmailConfig struct {
	Transport   string        `mapstructure:"transport"`
	SenderEmail string        `mapstructure:"sender_email"`
	SenderName  string        `mapstructure:"sender_name"`
	SMTPAddr    string        `mapstructure:"smtp_addr"`
	SMTPUser    string        `mapstructure:"smtp_user"`
	SMTPPass    string        `mapstructure:"smtp_pass"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// DeliveryConfig holds worker loop and retry policy configuration.
type DeliveryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	EmptyQueueSleep time.Duration `mapstructure:"empty_queue_sleep"`
	PostponedFloor  time.Duration `mapstructure:"postponed_floor"`
	PostponedCap    time.Duration `mapstructure:"postponed_cap"`
	InfraErrorSleep time.Duration `mapstructure:"infra_error_sleep"`
}

// IdempotencyConfig holds idempotency record retention configuration.
type IdempotencyConfig struct {
	KeyLifetime   time.Duration `mapstructure:"key_lifetime"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix NEWSLETTER_ override file values.
// For example, NEWSLETTER_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("NEWSLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)

	v.SetDefault("database.pool_min", 2)
	v.SetDefault("database.pool_max", 10)
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check_period", time.Minute)

	v.SetDefault("email.transport", "stdout")
	v.SetDefault("email.send_timeout", 10*time.Second)

	v.SetDefault("delivery.max_retries", 3)
	v.SetDefault("delivery.retry_backoff", 60*time.Second)
	v.SetDefault("delivery.empty_queue_sleep", 10*time.Second)
	v.SetDefault("delivery.postponed_floor", 10*time.Millisecond)
	v.SetDefault("delivery.postponed_cap", 10*time.Second)
	v.SetDefault("delivery.infra_error_sleep", time.Second)

	v.SetDefault("idempotency.key_lifetime", 48*time.Hour)
	v.SetDefault("idempotency.sweep_interval", 10*time.Minute)

	v.SetDefault("logging.level", "info")
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Database.PoolMax < c.Database.PoolMin {
		return fmt.Errorf("database.pool_max must not be below database.pool_min")
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("delivery.max_retries must not be negative")
	}
	if c.Delivery.PostponedFloor <= 0 || c.Delivery.PostponedCap < c.Delivery.PostponedFloor {
		return fmt.Errorf("delivery postponed backoff bounds are invalid")
	}
	if c.Email.Transport == "smtp" && c.Email.SMTPAddr == "" {
		return fmt.Errorf("email.smtp_addr is required for the smtp transport")
	}
	return nil
}
