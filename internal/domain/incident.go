package domain

import "time"

type IncidentSeverity string

const (
	IncidentSeverityMinor    IncidentSeverity = "minor"
	IncidentSeverityModerate IncidentSeverity = "moderate"
	IncidentSeverityHigh     IncidentSeverity = "high"
	IncidentSeverityCritical IncidentSeverity = "critical"
)

type IncidentType string

const (
	IncidentTypeInjury     IncidentType = "injury"
	IncidentTypeIllness    IncidentType = "illness"
	IncidentTypeBehavioral IncidentType = "behavioral"
	IncidentTypeMedical    IncidentType = "medical"
	IncidentTypeOther      IncidentType = "other"
)

// Incident carries the fields the delivery queue needs. The full incident
// entity (vitals, attachments, follow-ups) is owned by the incidents module.
type Incident struct {
	ID                   string
	ChildID              string
	ChildName            string
	SchoolID             string
	Type                 IncidentType
	Severity             IncidentSeverity
	Description          string
	ActionTaken          string
	OccurredAt           time.Time
	ParentNotified       bool
	ParentAcknowledgedAt *time.Time
	CreatedAt            time.Time
}

// ParentAcknowledged reports whether a guardian has acknowledged the incident.
func (i *Incident) ParentAcknowledged() bool {
	return i.ParentAcknowledgedAt != nil
}
