package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Webhook     WebhookConfig
	Ledger      LedgerConfig
	Notify      NotifyConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	SMTP        SMTPConfig
	SideEffects SideEffectConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type WebhookConfig struct {
	APIKey string
	// AmountTolerance is the absolute VND difference still accepted as a
	// match. Zero means exact equality.
	AmountTolerance int64
}

type LedgerConfig struct {
	RateVND     decimal.Decimal
	RateVersion string
	HoldPeriod  time.Duration
}

type NotifyConfig struct {
	Sinks []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether confirmation emails should be sent.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type SideEffectConfig struct {
	Concurrency int
	Timeout     time.Duration
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	rate, err := decimal.NewFromString(getEnv("PI_RATE_VND", "1000"))
	if err != nil {
		return nil, fmt.Errorf("parse PI_RATE_VND: %w", err)
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("PI_RATE_VND must be positive, got %s", rate)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Env:         getEnv("ENVIRONMENT", "development"),
			CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "sqlite"),
			DSN:    getEnv("DB_DSN", "reconciler.db"),
		},
		Webhook: WebhookConfig{
			APIKey:          getEnv("WEBHOOK_API_KEY", ""),
			AmountTolerance: int64(getEnvInt("AMOUNT_TOLERANCE_VND", 0)),
		},
		Ledger: LedgerConfig{
			RateVND:     rate,
			RateVersion: getEnv("PI_RATE_VERSION", "2024-01"),
			HoldPeriod:  getEnvDuration("EARNING_HOLD_PERIOD", 72*time.Hour),
		},
		Notify: NotifyConfig{
			Sinks: getEnvList("NOTIFY_SINKS", nil),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_CHANNEL", "payment_events"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "payment-events"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@pimarket.vn"),
		},
		SideEffects: SideEffectConfig{
			Concurrency: getEnvInt("SIDE_EFFECT_CONCURRENCY", 8),
			Timeout:     getEnvDuration("SIDE_EFFECT_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Webhook.APIKey == "" {
		return errors.New("WEBHOOK_API_KEY is required")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Webhook.AmountTolerance < 0 {
		return fmt.Errorf("AMOUNT_TOLERANCE_VND must not be negative")
	}
	if c.Ledger.HoldPeriod <= 0 {
		return fmt.Errorf("EARNING_HOLD_PERIOD must be positive")
	}
	for _, s := range c.Notify.Sinks {
		if s != "redis" && s != "kafka" {
			return fmt.Errorf("unknown notify sink %q", s)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
