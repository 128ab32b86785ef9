package domain

import "time"

type EscalationStatus string

const (
	EscalationStatusPending   EscalationStatus = "pending"
	EscalationStatusSent      EscalationStatus = "sent"
	EscalationStatusFailed    EscalationStatus = "failed"
	EscalationStatusCancelled EscalationStatus = "cancelled"
)

type EscalationType string

const (
	EscalationTypeSeverity       EscalationType = "severity"
	EscalationTypePattern        EscalationType = "pattern"
	EscalationTypeUnacknowledged EscalationType = "unacknowledged"
	EscalationTypeMedical        EscalationType = "medical"
	EscalationTypeRegulatory     EscalationType = "regulatory"
	EscalationTypeManual         EscalationType = "manual"
)

// Escalation is a time-delayed secondary notification to supervisory staff.
// At most one row per (IncidentID, EscalationType) may be pending at a time;
// the store enforces this with a partial unique index.
type Escalation struct {
	ID             string
	IncidentID     string
	EscalationType EscalationType
	Status         EscalationStatus
	ScheduledAt    time.Time
	SentAt         *time.Time
	AdditionalData map[string]any
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
