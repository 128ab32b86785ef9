// Command notifyqueue drains the notification queue once and exits. Exit
// code 0 means every processed notification succeeded; 1 means at least one
// failed or a store error surfaced.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
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
		configPath = flag.String("config", "", "path to YAML config file")
		limit      = flag.Int("limit", 0, "maximum notifications to process (0 = settings/configured batch size)")
		dryRun     = flag.Bool("dry-run", false, "report due work without sending")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
		purge      = flag.Bool("purge", false, "purge old terminal rows after processing")
		purgeDays  = flag.Int("purge-days", 0, "purge retention in days (0 = settings/configured retention)")
		migrate    = flag.Bool("migrate", false, "apply schema migrations before running")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "notifyqueue: %v\n", err)
		return 1
	}

	logger := app.InitLogger(cfg.Log, *verbose)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	a, err := app.New(ctx, cfg, *migrate)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		return 1
	}
	defer a.Close()

	totals := a.Runner.RunOnce(ctx, runner.Options{
		Limit:          *limit,
		DryRun:         *dryRun,
		Purge:          *purge,
		PurgeRetention: time.Duration(*purgeDays) * 24 * time.Hour,
	})

	fmt.Println(runner.FormatTotals(totals))

	if !totals.Clean() {
		return 1
	}
	return 0
}
