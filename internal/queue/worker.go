package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/notify"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/pkg/ctxlog"
)

// Config contains worker configuration.
type Config struct {
	BatchSize      int
	MaxAttempts    int
	PurgeRetention time.Duration
	StuckTimeout   time.Duration
}

// DefaultConfig returns default worker configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		MaxAttempts:    3,
		PurgeRetention: 30 * 24 * time.Hour,
		StuckTimeout:   15 * time.Minute,
	}
}

// Summary accumulates the outcomes of processed notifications.
type Summary struct {
	Processed int
	SentEmail int
	SentPush  int
	Skipped   int
	Failed    int
	Retried   int
}

// Add merges another summary into this one.
func (s *Summary) Add(other Summary) {
	s.Processed += other.Processed
	s.SentEmail += other.SentEmail
	s.SentPush += other.SentPush
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Retried += other.Retried
}

// Clean reports whether every processed notification ended well: nothing
// failed this run and nothing was returned for retry.
func (s *Summary) Clean() bool {
	return s.Failed == 0 && s.Retried == 0
}

// Worker drains the notification queue: it polls pending rows, claims them
// one at a time, delivers through the configured channels and books the
// outcome. Retries are paced by the caller's poll cycle, not by a per-row
// delay timer.
type Worker struct {
	config    Config
	repo      Repository
	directory notify.RecipientDirectory
	channels  map[domain.DeliveryChannel]notify.Channel
}

// NewWorker creates a queue worker. Channels are registered by the delivery
// channel they serve.
func NewWorker(config Config, repo Repository, directory notify.RecipientDirectory, channels ...notify.Channel) *Worker {
	channelMap := make(map[domain.DeliveryChannel]notify.Channel)
	for _, ch := range channels {
		channelMap[ch.Kind()] = ch
	}
	return &Worker{
		config:    config,
		repo:      repo,
		directory: directory,
		channels:  channelMap,
	}
}

// SetMaxAttempts adjusts the worker's attempt ceiling. It caps each row's
// own limit and substitutes for rows that carry none. The runner applies the
// settings-table value before each batch; non-positive values are ignored.
func (w *Worker) SetMaxAttempts(n int) {
	if n > 0 {
		w.config.MaxAttempts = n
	}
}

// ProcessBatch polls one bounded batch of due notifications and processes
// each claimed row sequentially. A non-positive limit falls back to the
// configured batch size. With dryRun set it only reports what is due;
// nothing is claimed or sent. Store errors on individual rows are logged and
// counted, not propagated; only the initial poll can fail the batch.
func (w *Worker) ProcessBatch(ctx context.Context, limit int, dryRun bool) (Summary, error) {
	var summary Summary

	if limit <= 0 {
		limit = w.config.BatchSize
	}

	items, err := w.repo.FetchPending(ctx, limit)
	if err != nil {
		return summary, fmt.Errorf("fetch pending notifications: %w", err)
	}

	if len(items) == 0 {
		return summary, nil
	}

	log := ctxlog.FromContext(ctx)

	if dryRun {
		for _, item := range items {
			log.Info("would process notification",
				"notification_id", item.ID,
				"type", item.Type,
				"channel", item.Channel,
				"attempts", item.Attempts,
			)
		}
		summary.Processed = len(items)
		return summary, nil
	}

	log.Debug("processing notifications", "count", len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		claimed, err := w.repo.Claim(ctx, item.ID)
		if err != nil {
			log.Error("failed to claim notification", "notification_id", item.ID, "error", err)
			continue
		}
		if !claimed {
			// Another worker got there first.
			continue
		}

		summary.Add(w.processItem(ctx, item))
	}

	return summary, nil
}

// processItem delivers one claimed notification and books the outcome.
func (w *Worker) processItem(ctx context.Context, item *domain.QueuedNotification) Summary {
	ctx = ctxlog.With(ctx, "notification_id", item.ID)
	log := ctxlog.FromContext(ctx)
	start := time.Now()
	summary := Summary{Processed: 1}

	rcpt, err := w.directory.GetRecipient(ctx, item.RecipientID)
	if err != nil {
		if errors.Is(err, notify.ErrRecipientNotFound) {
			// Referenced recipient is gone: terminal, not retried.
			log.Error("recipient not found", "recipient_id", item.RecipientID)
			w.markFailed(ctx, item, err)
			summary.Failed = 1
			recordOutcome(string(item.Channel), "failed")
			return summary
		}
		log.Error("failed to load recipient", "error", err)
		w.returnForRetry(ctx, item, err, &summary)
		return summary
	}

	var (
		delivered bool
		skipped   int
		invoked   int
		retryable bool
		sendErrs  []error
	)

	for _, kind := range []domain.DeliveryChannel{domain.DeliveryChannelEmail, domain.DeliveryChannelPush} {
		if kind == domain.DeliveryChannelEmail && !item.Channel.WantsEmail() {
			continue
		}
		if kind == domain.DeliveryChannelPush && !item.Channel.WantsPush() {
			continue
		}

		ch, ok := w.channels[kind]
		if !ok {
			// A sender can be missing through config alone; worth retrying
			// once the operator fixes it.
			sendErrs = append(sendErrs, fmt.Errorf("no %s sender configured", kind))
			retryable = true
			invoked++
			continue
		}

		invoked++
		result := ch.Send(ctx, item, rcpt)

		if result.InvalidIdentity {
			w.deactivateIdentity(ctx, kind, rcpt)
		}

		switch {
		case result.Delivered:
			delivered = true
			if kind == domain.DeliveryChannelEmail {
				summary.SentEmail++
			} else {
				summary.SentPush++
			}
			recordOutcome(string(kind), "sent")
		case result.Err != nil:
			sendErrs = append(sendErrs, fmt.Errorf("%s: %w", kind, result.Err))
			if notify.IsRetryable(result.Err) {
				retryable = true
			}
		default:
			skipped++
			recordOutcome(string(kind), "skipped")
		}
	}

	duration := time.Since(start)
	recordSendDuration(string(item.Channel), duration)

	switch {
	case invoked == 0:
		// Channel field holds no deliverable value: terminal.
		w.markFailed(ctx, item, fmt.Errorf("no channel implied by %q", item.Channel))
		summary.Failed = 1
		recordOutcome(string(item.Channel), "failed")

	case delivered, skipped == invoked:
		// At least one channel delivered, or every invoked channel skipped:
		// nothing left to deliver is not a failure.
		if err := w.repo.MarkSent(ctx, item.ID); err != nil {
			log.Error("failed to mark as sent", "error", err)
		}
		if !delivered {
			summary.Skipped = 1
		}
		log.Debug("notification processed",
			"channel", item.Channel,
			"delivered", delivered,
			"duration", duration,
		)

	case !retryable:
		// Every failing channel reported a permanent error: retrying cannot
		// succeed, fail now instead of burning the remaining attempts.
		w.markFailed(ctx, item, errors.Join(sendErrs...))
		summary.Failed = 1
		recordOutcome(string(item.Channel), "failed")

	default:
		w.returnForRetry(ctx, item, errors.Join(sendErrs...), &summary)
	}

	return summary
}

// returnForRetry books a failed attempt: the row terminally fails once the
// attempt counter reaches the limit, otherwise it goes back to pending for
// the next poll cycle.
func (w *Worker) returnForRetry(ctx context.Context, item *domain.QueuedNotification, sendErr error, summary *Summary) {
	log := ctxlog.FromContext(ctx)

	// The configured ceiling caps the row's own limit so operators can stop
	// retry storms fleet-wide without touching enqueued rows. Raising it
	// above a row's limit has no effect: the picker stops polling a row once
	// its own attempt budget is spent.
	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 || (w.config.MaxAttempts > 0 && w.config.MaxAttempts < maxAttempts) {
		maxAttempts = w.config.MaxAttempts
	}

	log.Warn("notification delivery failed",
		"attempt", item.Attempts+1,
		"max_attempts", maxAttempts,
		"error", sendErr,
	)

	if item.Attempts+1 >= maxAttempts {
		w.markFailed(ctx, item, fmt.Errorf("max attempts exceeded: %w", sendErr))
		summary.Failed = 1
		recordOutcome(string(item.Channel), "failed")
		return
	}

	if err := w.repo.ReturnForRetry(ctx, item.ID, sendErr); err != nil {
		log.Error("failed to return for retry", "error", err)
	}
	summary.Retried = 1
	recordOutcome(string(item.Channel), "retry")
}

func (w *Worker) markFailed(ctx context.Context, item *domain.QueuedNotification, cause error) {
	if err := w.repo.MarkFailed(ctx, item.ID, cause); err != nil {
		ctxlog.FromContext(ctx).Error("failed to mark as failed", "error", err)
	}
}

// deactivateIdentity disables the channel identity a sender reported invalid
// so future sends stop targeting it.
func (w *Worker) deactivateIdentity(ctx context.Context, kind domain.DeliveryChannel, rcpt *domain.Recipient) {
	log := ctxlog.FromContext(ctx)

	var err error
	switch kind {
	case domain.DeliveryChannelEmail:
		err = w.directory.DeactivateEmail(ctx, rcpt.ID)
	case domain.DeliveryChannelPush:
		err = w.directory.DeactivatePushToken(ctx, rcpt.ID)
	}
	if err != nil {
		log.Error("failed to deactivate channel identity",
			"recipient_id", rcpt.ID,
			"channel", kind,
			"error", err,
		)
		return
	}

	log.Info("deactivated invalid channel identity", "recipient_id", rcpt.ID, "channel", kind)
}

// Purge removes terminal rows older than the configured retention.
func (w *Worker) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = w.config.PurgeRetention
	}

	removed, err := w.repo.Purge(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge queue: %w", err)
	}

	recordPurged(removed)
	if removed > 0 {
		ctxlog.FromContext(ctx).Info("purged terminal notifications", "removed", removed, "older_than", olderThan)
	}
	return removed, nil
}

// ResetStuck returns rows stuck in processing past the configured timeout to
// pending.
func (w *Worker) ResetStuck(ctx context.Context) (int64, error) {
	reset, err := w.repo.ResetStuck(ctx, w.config.StuckTimeout)
	if err != nil {
		return 0, fmt.Errorf("reset stuck notifications: %w", err)
	}

	if reset > 0 {
		ctxlog.FromContext(ctx).Warn("reset stuck notifications", "count", reset, "timeout", w.config.StuckTimeout)
	}
	return reset, nil
}

// CollectStats fetches queue counts and exports them to the metrics gauges.
func (w *Worker) CollectStats(ctx context.Context) (*Stats, error) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	RecordStats(stats)
	return stats, nil
}

// FormatSummary renders a one-line human-readable summary for CLI output.
func FormatSummary(s Summary) string {
	return strings.TrimSpace(fmt.Sprintf(
		"processed=%d sent_email=%d sent_push=%d skipped=%d retried=%d failed=%d",
		s.Processed, s.SentEmail, s.SentPush, s.Skipped, s.Retried, s.Failed,
	))
}
