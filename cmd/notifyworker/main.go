// Command notifyworker runs the delivery loop until terminated. It serves
// prometheus metrics and prints a cumulative summary on shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/app"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/config"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/pkg/ctxlog"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/runner"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		interval    = flag.Int("interval", 0, "seconds between iterations (0 = configured poll interval)")
		limit       = flag.Int("limit", 0, "maximum notifications per iteration (0 = settings/configured batch size)")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
		metricsAddr = flag.String("metrics-addr", ":9090", "metrics listen address")
		migrate     = flag.Bool("migrate", false, "apply schema migrations before running")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "notifyworker: %v\n", err)
		return 1
	}

	logger := app.InitLogger(cfg.Log, *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.WithLogger(ctx, logger)

	a, err := app.New(ctx, cfg, *migrate)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		return 1
	}
	defer a.Close()

	metricsServer := runner.NewMetricsServer(*metricsAddr)
	go func() {
		logger.Info("starting metrics server", "addr", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	pollEvery := time.Duration(*interval) * time.Second
	if *interval <= 0 {
		pollEvery = app.PollInterval(cfg)
	}

	logger.Info("starting notification worker",
		"interval", pollEvery,
		"limit", *limit,
	)

	totals := a.Runner.RunLoop(ctx, pollEvery, runner.Options{
		Limit: *limit,
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	logger.Info("worker stopped")
	fmt.Println(runner.FormatTotals(totals))
	return 0
}
