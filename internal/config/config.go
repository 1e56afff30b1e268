package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, production

	// Application database. DB_DRIVER is sqlite or postgres.
	DBDriver   string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath     string `env:"DB_PATH" envDefault:"./whatsapp.db"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"whatsapp"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	DBMaxIdle  int    `env:"DB_MAX_IDLE" envDefault:"10"`
	DBMaxOpen  int    `env:"DB_MAX_OPEN" envDefault:"50"`

	// Session credential store (whatsmeow device store).
	SessionStoreDialect string `env:"SESSION_STORE_DIALECT" envDefault:"sqlite3"` // sqlite3, postgres
	SessionStoreDSN     string `env:"SESSION_STORE_DSN" envDefault:"file:whatsapp-session.db?_foreign_keys=on"`
	DeviceName          string `env:"DEVICE_NAME" envDefault:"Chrome (Linux)"`

	// Shop
	WebhookToken string  `env:"WEBHOOK_VERIFY_TOKEN"`
	AdminPhone   string  `env:"ADMIN_WHATSAPP_NUMBER"`
	Currency     string  `env:"CURRENCY" envDefault:"FCFA"`
	VIPThreshold float64 `env:"VIP_THRESHOLD" envDefault:"50000"`

	// Workers
	ScheduleInterval time.Duration `env:"SCHEDULE_WORKER_INTERVAL" envDefault:"1m"`
	FollowUpInterval time.Duration `env:"FOLLOWUP_WORKER_INTERVAL" envDefault:"5m"`
	SegmentInterval  time.Duration `env:"SEGMENT_WORKER_INTERVAL" envDefault:"24h"`
	WorkerTimeout    time.Duration `env:"WORKER_TIMEOUT" envDefault:"30m"`

	// Pacing between consecutive sends
	DirectSendDelay   time.Duration `env:"DIRECT_SEND_DELAY" envDefault:"1s"`
	GroupSendDelay    time.Duration `env:"GROUP_SEND_DELAY" envDefault:"2s"`
	FollowUpSendDelay time.Duration `env:"FOLLOWUP_SEND_DELAY" envDefault:"2s"`
	AutoReplyDelay    time.Duration `env:"AUTO_REPLY_DELAY" envDefault:"1s"`

	// Connection lifecycle
	PairStabilizeDelay time.Duration `env:"PAIR_STABILIZE_DELAY" envDefault:"3s"`
	PairAttempts       int           `env:"PAIR_ATTEMPTS" envDefault:"3"`
	PairBackoff        time.Duration `env:"PAIR_BACKOFF" envDefault:"2s"`
	ReconnectDelay     time.Duration `env:"RECONNECT_DELAY" envDefault:"5s"`
	MediaFetchTimeout  time.Duration `env:"MEDIA_FETCH_TIMEOUT" envDefault:"30s"`

	// Redis tick lease, empty address disables it
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"wa"`

	// RabbitMQ event sink, empty URL disables it
	RabbitMQURL      string `env:"RABBITMQ_URL"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE" envDefault:"whatsapp.events"`
	// bounds each sink publish so a stalled broker cannot hold up callers
	EventPublishTimeout time.Duration `env:"EVENT_PUBLISH_TIMEOUT" envDefault:"5s"`

	LoggerLevel  string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	switch c.SessionStoreDialect {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("SESSION_STORE_DIALECT must be sqlite3 or postgres, got %q", c.SessionStoreDialect)
	}
	if c.PairAttempts < 1 {
		return fmt.Errorf("PAIR_ATTEMPTS must be at least 1")
	}
	if c.ScheduleInterval <= 0 || c.FollowUpInterval <= 0 || c.SegmentInterval <= 0 {
		return fmt.Errorf("worker intervals must be positive")
	}
	if c.AdminPhone == "" {
		log.Println("Warning: ADMIN_WHATSAPP_NUMBER is not set, order notifications will fail")
	}
	return nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
