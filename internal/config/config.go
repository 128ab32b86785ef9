// Package config loads application configuration from a YAML file and
// LAYA_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root application configuration.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Database   DatabaseConfig   `koanf:"database"`
	Queue      QueueConfig      `koanf:"queue"`
	Escalation EscalationConfig `koanf:"escalation"`
	Email      EmailConfig      `koanf:"email"`
	Push       PushConfig       `koanf:"push"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// DatabaseConfig controls the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=1"`
	MinIdleConns    int           `koanf:"min_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gte=1"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	MigrationsURL   string        `koanf:"migrations_url"`
}

// QueueConfig controls the delivery worker.
type QueueConfig struct {
	BatchSize      int           `koanf:"batch_size" validate:"gte=1"`
	MaxAttempts    int           `koanf:"max_attempts" validate:"gte=1"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	PurgeRetention time.Duration `koanf:"purge_retention"`
	StuckTimeout   time.Duration `koanf:"stuck_timeout"`
}

// EscalationConfig controls the escalation scheduler.
type EscalationConfig struct {
	BatchSize int    `koanf:"batch_size" validate:"gte=1"`
	Channel   string `koanf:"channel" validate:"oneof=email push both"`
}

// EmailConfig controls the SMTP sender.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// PushConfig controls the push gateway sender.
type PushConfig struct {
	Enabled    bool    `koanf:"enabled"`
	GatewayURL string  `koanf:"gateway_url"`
	ServerKey  string  `koanf:"server_key"`
	RateLimit  float64 `koanf:"rate_limit"`
}

// Default returns the configuration defaults applied before file and env
// values.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MinIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			ConnectAttempts: 5,
			ConnectTimeout:  30 * time.Second,
			MigrationsURL:   "file://migrations",
		},
		Queue: QueueConfig{
			BatchSize:      50,
			MaxAttempts:    3,
			PollInterval:   60 * time.Second,
			PurgeRetention: 30 * 24 * time.Hour,
			StuckTimeout:   15 * time.Minute,
		},
		Escalation: EscalationConfig{
			BatchSize: 50,
			Channel:   "both",
		},
		Push: PushConfig{
			RateLimit: 20,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// given), then LAYA_-prefixed environment variables. LAYA_DATABASE__URL maps
// to database.url.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("LAYA_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "LAYA_")), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
