// Package app wires configuration, storage, senders, worker and scheduler
// into a runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/config"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/escalation"
	escalationpostgres "github.com/MarcosDelSer/laya-backbone-sub002/internal/escalation/postgres"
	incidentspostgres "github.com/MarcosDelSer/laya-backbone-sub002/internal/incidents/postgres"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/notify/email"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/notify/push"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/pkg/postgres"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/queue"
	queuepostgres "github.com/MarcosDelSer/laya-backbone-sub002/internal/queue/postgres"
	recipientspostgres "github.com/MarcosDelSer/laya-backbone-sub002/internal/recipients/postgres"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/runner"
	settingspostgres "github.com/MarcosDelSer/laya-backbone-sub002/internal/settings/postgres"
)

// App holds the wired application and its database pool.
type App struct {
	Runner *runner.Runner
	DB     *pgxpool.Pool
}

// InitLogger configures the process-wide slog handler. Verbose forces debug
// level regardless of configuration.
func InitLogger(cfg config.LogConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// New connects to the database and wires the full delivery stack. With
// migrate set the schema migrations are applied first.
func New(ctx context.Context, cfg *config.Config, migrate bool) (*App, error) {
	if migrate {
		if err := postgres.Migrate(cfg.Database.MigrationsURL, cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MinIdleConns:    cfg.Database.MinIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	emailSender, err := email.NewSender(email.Config{
		Enabled:      cfg.Email.Enabled,
		SMTPHost:     cfg.Email.SMTPHost,
		SMTPPort:     cfg.Email.SMTPPort,
		SMTPUser:     cfg.Email.SMTPUser,
		SMTPPassword: cfg.Email.SMTPPassword,
		FromAddress:  cfg.Email.FromAddress,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	pushSender, err := push.NewSender(push.Config{
		Enabled:    cfg.Push.Enabled,
		GatewayURL: cfg.Push.GatewayURL,
		ServerKey:  cfg.Push.ServerKey,
		RateLimit:  cfg.Push.RateLimit,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	recipients := recipientspostgres.NewRepository(db)
	queueRepo := queuepostgres.NewRepository(db)

	worker := queue.NewWorker(queue.Config{
		BatchSize:      cfg.Queue.BatchSize,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		PurgeRetention: cfg.Queue.PurgeRetention,
		StuckTimeout:   cfg.Queue.StuckTimeout,
	}, queueRepo, recipients, emailSender, pushSender)

	scheduler := escalation.NewScheduler(escalation.Config{
		BatchSize:           cfg.Escalation.BatchSize,
		NotificationChannel: domain.DeliveryChannel(cfg.Escalation.Channel),
		MaxAttempts:         cfg.Queue.MaxAttempts,
	},
		escalationpostgres.NewRepository(db),
		incidentspostgres.NewRepository(db),
		recipients,
		queueRepo,
	)

	return &App{
		Runner: runner.New(worker, scheduler, settingspostgres.NewRepository(db)),
		DB:     db,
	}, nil
}

// Close releases the database pool.
func (a *App) Close() {
	a.DB.Close()
}

// PollInterval exposes the configured loop interval with a safe floor.
func PollInterval(cfg *config.Config) time.Duration {
	if cfg.Queue.PollInterval < time.Second {
		return time.Second
	}
	return cfg.Queue.PollInterval
}
