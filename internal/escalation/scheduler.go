package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/notify"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/pkg/ctxlog"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/queue"
)

// Config contains scheduler configuration.
type Config struct {
	BatchSize           int
	NotificationChannel domain.DeliveryChannel
	MaxAttempts         int
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:           50,
		NotificationChannel: domain.DeliveryChannelBoth,
		MaxAttempts:         3,
	}
}

// Summary accumulates the outcomes of processed escalations.
type Summary struct {
	Processed int
	Sent      int
	Cancelled int
	Failed    int
}

// Add merges another summary into this one.
func (s *Summary) Add(other Summary) {
	s.Processed += other.Processed
	s.Sent += other.Sent
	s.Cancelled += other.Cancelled
	s.Failed += other.Failed
}

// Scheduler creates, deduplicates and fires escalations. Firing an
// escalation enqueues one director notification per resolved recipient
// through the normal delivery queue.
type Scheduler struct {
	config    Config
	repo      Repository
	incidents IncidentStore
	resolver  notify.RecipientResolver
	queue     queue.Repository
}

// NewScheduler creates an escalation scheduler.
func NewScheduler(config Config, repo Repository, incidents IncidentStore, resolver notify.RecipientResolver, queueRepo queue.Repository) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.NotificationChannel == "" {
		config.NotificationChannel = domain.DeliveryChannelBoth
	}
	return &Scheduler{
		config:    config,
		repo:      repo,
		incidents: incidents,
		resolver:  resolver,
		queue:     queueRepo,
	}
}

// RequiresImmediateEscalation reports whether an incident's severity demands
// an immediate (zero-delay) director escalation.
func RequiresImmediateEscalation(incident *domain.Incident) bool {
	return incident.Severity == domain.IncidentSeverityCritical ||
		incident.Severity == domain.IncidentSeverityHigh
}

// QueueEscalation schedules an escalation for an incident. Scheduling is
// idempotent: while a pending row exists for (incidentID, typ) the same row
// is returned and no duplicate is created. With delay zero the escalation is
// fired synchronously and the returned row is already terminal.
func (s *Scheduler) QueueEscalation(ctx context.Context, incidentID string, typ domain.EscalationType, delay time.Duration, data map[string]any) (*domain.Escalation, error) {
	existing, err := s.repo.GetPending(ctx, incidentID, typ)
	if err == nil {
		ctxlog.FromContext(ctx).Debug("escalation already pending",
			"escalation_id", existing.ID,
			"incident_id", incidentID,
			"type", typ,
		)
		return existing, nil
	}
	if !errors.Is(err, ErrEscalationNotFound) {
		return nil, fmt.Errorf("look up pending escalation: %w", err)
	}

	esc := &domain.Escalation{
		ID:             uuid.NewString(),
		IncidentID:     incidentID,
		EscalationType: typ,
		Status:         domain.EscalationStatusPending,
		ScheduledAt:    scheduledFor(time.Now(), delay),
		AdditionalData: data,
	}

	created, err := s.repo.Create(ctx, esc)
	if err != nil {
		return nil, fmt.Errorf("create escalation: %w", err)
	}

	ctxlog.FromContext(ctx).Info("escalation queued",
		"escalation_id", created.ID,
		"incident_id", incidentID,
		"type", typ,
		"scheduled_at", created.ScheduledAt,
	)

	if delay <= 0 {
		s.process(ctx, created)
		// The row was marked terminal in the same call; hand back its final
		// state.
		if fired, err := s.repo.GetByID(ctx, created.ID); err == nil {
			return fired, nil
		}
	}

	return created, nil
}

// ProcessDue selects due pending escalations, bounded batch, oldest first,
// and fires each one. A failing escalation marks only its own row and never
// blocks the rest of the batch.
func (s *Scheduler) ProcessDue(ctx context.Context) (Summary, error) {
	var summary Summary

	due, err := s.repo.FetchDue(ctx, s.config.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("fetch due escalations: %w", err)
	}

	for _, esc := range due {
		if ctx.Err() != nil {
			break
		}
		summary.Add(s.process(ctx, esc))
	}

	return summary, nil
}

// ReportDue logs the escalations that would fire without claiming, sending
// or cancelling anything. Used by dry runs.
func (s *Scheduler) ReportDue(ctx context.Context) (Summary, error) {
	log := ctxlog.FromContext(ctx)

	due, err := s.repo.FetchDue(ctx, s.config.BatchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch due escalations: %w", err)
	}

	for _, esc := range due {
		log.Info("would process escalation",
			"escalation_id", esc.ID,
			"incident_id", esc.IncidentID,
			"type", esc.EscalationType,
			"scheduled_at", esc.ScheduledAt,
		)
	}

	return Summary{Processed: len(due)}, nil
}

// process fires one escalation: re-fetch the incident, re-check the
// triggering condition against live state, resolve directors and enqueue
// their notifications.
func (s *Scheduler) process(ctx context.Context, esc *domain.Escalation) Summary {
	log := ctxlog.FromContext(ctx)
	summary := Summary{Processed: 1}

	incident, err := s.incidents.GetByID(ctx, esc.IncidentID)
	if err != nil {
		reason := "incident not found"
		if !errors.Is(err, ErrIncidentNotFound) {
			reason = fmt.Sprintf("fetch incident: %v", err)
		}
		log.Error("escalation references unavailable incident",
			"escalation_id", esc.ID,
			"incident_id", esc.IncidentID,
			"error", err,
		)
		s.markFailed(ctx, esc, reason)
		summary.Failed = 1
		return summary
	}

	// A delayed escalation must not fire if its triggering condition was
	// resolved in the meantime.
	if esc.EscalationType == domain.EscalationTypeUnacknowledged && incident.ParentAcknowledged() {
		if err := s.repo.MarkCancelled(ctx, esc.ID, "parent already acknowledged"); err != nil {
			log.Error("failed to cancel escalation", "escalation_id", esc.ID, "error", err)
		}
		log.Info("escalation cancelled",
			"escalation_id", esc.ID,
			"incident_id", esc.IncidentID,
			"reason", "parent already acknowledged",
		)
		recordEscalation(string(esc.EscalationType), "cancelled")
		summary.Cancelled = 1
		return summary
	}

	if err := s.notifyDirectors(ctx, esc, incident); err != nil {
		log.Error("escalation delivery failed", "escalation_id", esc.ID, "error", err)
		s.markFailed(ctx, esc, err.Error())
		summary.Failed = 1
		return summary
	}

	if err := s.repo.MarkSent(ctx, esc.ID); err != nil {
		log.Error("failed to mark escalation sent", "escalation_id", esc.ID, "error", err)
	}
	recordEscalation(string(esc.EscalationType), "sent")
	summary.Sent = 1
	return summary
}

// notifyDirectors enqueues one queue notification per resolved director.
func (s *Scheduler) notifyDirectors(ctx context.Context, esc *domain.Escalation, incident *domain.Incident) error {
	reason := notify.EscalationReason(esc.EscalationType, esc.AdditionalData)

	var title, body string
	var notifType domain.NotificationType
	if esc.EscalationType == domain.EscalationTypePattern {
		patternType := additionalString(esc.AdditionalData, "pattern_type")
		window := additionalString(esc.AdditionalData, "window")
		title, body = notify.BuildPatternAlert(incident, patternType, window)
		notifType = domain.NotificationTypePatternAlert
	} else {
		title, body = notify.BuildDirectorEscalation(incident, reason)
		notifType = domain.NotificationTypeIncidentDirector
	}

	directors, err := s.resolver.Directors(ctx, incident.SchoolID)
	if err != nil {
		return fmt.Errorf("resolve directors: %w", err)
	}
	if len(directors) == 0 {
		return errors.New("no directors resolved")
	}

	notifications := make([]*domain.QueuedNotification, 0, len(directors))
	for _, d := range directors {
		notifications = append(notifications, &domain.QueuedNotification{
			RecipientID: d.ID,
			Type:        notifType,
			Title:       title,
			Body:        body,
			Channel:     s.config.NotificationChannel,
			Status:      domain.NotificationStatusPending,
			MaxAttempts: s.config.MaxAttempts,
			Payload: map[string]any{
				"incident_id":     incident.ID,
				"escalation_id":   esc.ID,
				"escalation_type": string(esc.EscalationType),
				"reason":          reason,
			},
		})
	}

	if err := s.queue.EnqueueBatch(ctx, notifications); err != nil {
		return fmt.Errorf("enqueue director notifications: %w", err)
	}

	ctxlog.FromContext(ctx).Info("escalation notifications enqueued",
		"escalation_id", esc.ID,
		"incident_id", incident.ID,
		"recipients", len(notifications),
	)
	return nil
}

func (s *Scheduler) markFailed(ctx context.Context, esc *domain.Escalation, reason string) {
	if err := s.repo.MarkFailed(ctx, esc.ID, reason); err != nil {
		ctxlog.FromContext(ctx).Error("failed to mark escalation failed", "escalation_id", esc.ID, "error", err)
	}
	recordEscalation(string(esc.EscalationType), "failed")
}

func additionalString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
