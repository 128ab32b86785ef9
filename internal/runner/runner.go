// Package runner ties the queue worker and escalation scheduler into the
// single-shot and long-running entrypoints.
package runner

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/escalation"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/pkg/ctxlog"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/queue"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/settings"
)

// sleepSlice bounds how long a shutdown signal can go unnoticed while the
// loop is between iterations.
const sleepSlice = time.Second

// Options controls one run.
type Options struct {
	// Limit caps the notification batch per iteration. Zero means: consult
	// the settings table, then the configured default.
	Limit int

	// DryRun reports due work without claiming or sending.
	DryRun bool

	// Purge removes terminal rows older than PurgeRetention after processing.
	Purge          bool
	PurgeRetention time.Duration
}

// Totals is the cumulative result of a run, printed on shutdown.
type Totals struct {
	Iterations  int
	Queue       queue.Summary
	Escalations escalation.Summary
	Purged      int64
	StoreErrors int
}

// Clean reports whether the whole run completed without failures or store
// errors. It decides the batch CLI's exit code.
func (t *Totals) Clean() bool {
	return t.StoreErrors == 0 && t.Queue.Clean() && t.Escalations.Failed == 0
}

// Runner executes worker iterations.
type Runner struct {
	worker    *queue.Worker
	scheduler *escalation.Scheduler
	settings  settings.Store
}

// New creates a runner. The settings store may be nil; configured defaults
// then apply.
func New(worker *queue.Worker, scheduler *escalation.Scheduler, settingsStore settings.Store) *Runner {
	return &Runner{
		worker:    worker,
		scheduler: scheduler,
		settings:  settingsStore,
	}
}

// RunOnce performs one full iteration: queue statistics, stuck-row recovery,
// one notification batch, due escalations, and an optional purge. Store
// errors are counted and logged, never fatal to the iteration.
func (r *Runner) RunOnce(ctx context.Context, opts Options) Totals {
	log := ctxlog.FromContext(ctx)
	totals := Totals{Iterations: 1}

	if stats, err := r.worker.CollectStats(ctx); err != nil {
		log.Error("failed to collect queue stats", "error", err)
		totals.StoreErrors++
	} else {
		log.Debug("queue stats",
			"pending", stats.Pending,
			"processing", stats.Processing,
			"sent", stats.Sent,
			"failed", stats.Failed,
		)
	}

	if !opts.DryRun {
		if _, err := r.worker.ResetStuck(ctx); err != nil {
			log.Error("failed to reset stuck notifications", "error", err)
			totals.StoreErrors++
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = settings.IntOr(ctx, r.settings, settings.ScopeNotifications, "batch_size", 0)
	}
	r.worker.SetMaxAttempts(
		settings.IntOr(ctx, r.settings, settings.ScopeNotifications, "max_attempts", 0))

	qs, err := r.worker.ProcessBatch(ctx, limit, opts.DryRun)
	totals.Queue.Add(qs)
	if err != nil {
		log.Error("notification batch failed", "error", err)
		totals.StoreErrors++
	}

	es, err := r.processEscalations(ctx, opts.DryRun)
	totals.Escalations.Add(es)
	if err != nil {
		log.Error("escalation batch failed", "error", err)
		totals.StoreErrors++
	}

	// Operators can switch purging on through the settings table without
	// redeploying; the CLI flags always win.
	purge := opts.Purge ||
		settings.BoolOr(ctx, r.settings, settings.ScopeNotifications, "purge_enabled", false)
	retention := opts.PurgeRetention
	if retention <= 0 {
		days := settings.IntOr(ctx, r.settings, settings.ScopeNotifications, "purge_retention_days", 0)
		retention = time.Duration(days) * 24 * time.Hour
	}

	if purge && !opts.DryRun {
		purged, err := r.worker.Purge(ctx, retention)
		if err != nil {
			log.Error("purge failed", "error", err)
			totals.StoreErrors++
		}
		totals.Purged = purged
	}

	return totals
}

// processEscalations fires due escalations, or only reports them when dry
// running.
func (r *Runner) processEscalations(ctx context.Context, dryRun bool) (escalation.Summary, error) {
	if dryRun {
		return r.scheduler.ReportDue(ctx)
	}
	return r.scheduler.ProcessDue(ctx)
}

// RunLoop repeats RunOnce every interval until the context is cancelled. The
// sleep is sliced so cancellation is honored within one slice, never
// mid-delivery. Returns the cumulative totals for the shutdown summary.
func (r *Runner) RunLoop(ctx context.Context, interval time.Duration, opts Options) Totals {
	log := ctxlog.FromContext(ctx)
	var totals Totals

	for {
		iteration := r.RunOnce(ctx, opts)
		totals.Iterations += iteration.Iterations
		totals.Queue.Add(iteration.Queue)
		totals.Escalations.Add(iteration.Escalations)
		totals.Purged += iteration.Purged
		totals.StoreErrors += iteration.StoreErrors

		if iteration.Queue.Processed > 0 || iteration.Escalations.Processed > 0 {
			log.Info("iteration complete",
				"queue", queue.FormatSummary(iteration.Queue),
				"escalations_sent", iteration.Escalations.Sent,
				"escalations_cancelled", iteration.Escalations.Cancelled,
				"escalations_failed", iteration.Escalations.Failed,
			)
		}

		if !sleepSliced(ctx, interval) {
			return totals
		}
	}
}

// FormatTotals renders the cumulative shutdown summary.
func FormatTotals(t Totals) string {
	return fmt.Sprintf(
		"iterations=%d processed=%d sent_email=%d sent_push=%d skipped=%d failed=%d escalations_sent=%d escalations_cancelled=%d escalations_failed=%d purged=%d store_errors=%d",
		t.Iterations,
		t.Queue.Processed,
		t.Queue.SentEmail,
		t.Queue.SentPush,
		t.Queue.Skipped,
		t.Queue.Failed,
		t.Escalations.Sent,
		t.Escalations.Cancelled,
		t.Escalations.Failed,
		t.Purged,
		t.StoreErrors,
	)
}

// sleepSliced waits for d in short slices, returning false as soon as the
// context is cancelled.
func sleepSliced(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		slice := sleepSlice
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(slice):
		}
	}
}

// NewMetricsServer builds the /metrics HTTP server for the long-running
// worker.
func NewMetricsServer(addr string) *http.Server {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
