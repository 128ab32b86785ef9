package notify

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
)

var titleCaser = cases.Title(language.English)

// urgencyMarker returns the title prefix for severities that demand
// immediate attention.
func urgencyMarker(severity domain.IncidentSeverity) string {
	switch severity {
	case domain.IncidentSeverityCritical:
		return "[URGENT] "
	case domain.IncidentSeverityHigh:
		return "[IMPORTANT] "
	default:
		return ""
	}
}

// BuildParentNotification produces the title and body for a guardian-facing
// incident notification. The body is a fixed-order field dump so the output
// is deterministic and testable without the store or channels.
func BuildParentNotification(incident *domain.Incident) (title, body string) {
	title = fmt.Sprintf("%sIncident report for %s", urgencyMarker(incident.Severity), incident.ChildName)

	var b strings.Builder
	fmt.Fprintf(&b, "An incident involving %s was recorded.\n\n", incident.ChildName)
	fmt.Fprintf(&b, "Date: %s\n", incident.OccurredAt.Format("Monday, 2 January 2006"))
	fmt.Fprintf(&b, "Time: %s\n", incident.OccurredAt.Format("15:04"))
	fmt.Fprintf(&b, "Type: %s\n", titleCaser.String(string(incident.Type)))
	fmt.Fprintf(&b, "Severity: %s\n", titleCaser.String(string(incident.Severity)))
	fmt.Fprintf(&b, "Description: %s\n", incident.Description)
	fmt.Fprintf(&b, "Action taken: %s\n", incident.ActionTaken)
	fmt.Fprintf(&b, "\nPlease acknowledge this report in the app.")

	return title, b.String()
}

// BuildDirectorEscalation produces the title and body for a supervisory-staff
// escalation notification. reason is the human-readable escalation cause from
// EscalationReason.
func BuildDirectorEscalation(incident *domain.Incident, reason string) (title, body string) {
	title = fmt.Sprintf("%sEscalated incident: %s", urgencyMarker(incident.Severity), incident.ChildName)

	var b strings.Builder
	fmt.Fprintf(&b, "An incident requires director attention.\n\n")
	fmt.Fprintf(&b, "Reason: %s\n\n", reason)
	fmt.Fprintf(&b, "Child: %s\n", incident.ChildName)
	fmt.Fprintf(&b, "Date: %s\n", incident.OccurredAt.Format("Monday, 2 January 2006"))
	fmt.Fprintf(&b, "Time: %s\n", incident.OccurredAt.Format("15:04"))
	fmt.Fprintf(&b, "Type: %s\n", titleCaser.String(string(incident.Type)))
	fmt.Fprintf(&b, "Severity: %s\n", titleCaser.String(string(incident.Severity)))
	fmt.Fprintf(&b, "Description: %s\n", incident.Description)
	fmt.Fprintf(&b, "Action taken: %s\n", incident.ActionTaken)
	fmt.Fprintf(&b, "Parent notified: %s\n", yesNo(incident.ParentNotified))
	fmt.Fprintf(&b, "Parent acknowledged: %s\n", yesNo(incident.ParentAcknowledged()))

	return title, b.String()
}

// BuildPatternAlert produces the title and body for a detected-pattern alert.
// patternType and window come from the escalation's additional data.
func BuildPatternAlert(incident *domain.Incident, patternType, window string) (title, body string) {
	title = fmt.Sprintf("Pattern alert: %s for %s", patternType, incident.ChildName)

	var b strings.Builder
	fmt.Fprintf(&b, "A recurring incident pattern was detected.\n\n")
	fmt.Fprintf(&b, "Child: %s\n", incident.ChildName)
	fmt.Fprintf(&b, "Pattern: %s\n", patternType)
	if window != "" {
		fmt.Fprintf(&b, "Window: %s\n", window)
	}
	fmt.Fprintf(&b, "Latest incident: %s, severity %s\n",
		titleCaser.String(string(incident.Type)), titleCaser.String(string(incident.Severity)))

	return title, b.String()
}

// EscalationReason renders a human-readable cause for an escalation from its
// type and additional data.
func EscalationReason(typ domain.EscalationType, data map[string]any) string {
	switch typ {
	case domain.EscalationTypeSeverity:
		return "incident severity requires immediate director notification"
	case domain.EscalationTypePattern:
		pattern := stringField(data, "pattern_type")
		if pattern == "" {
			return "recurring incident pattern detected"
		}
		return fmt.Sprintf("recurring incident pattern detected: %s", pattern)
	case domain.EscalationTypeUnacknowledged:
		hours := stringField(data, "hours_elapsed")
		if hours == "" {
			return "parent has not acknowledged the incident"
		}
		return fmt.Sprintf("parent has not acknowledged the incident after %s hours", hours)
	case domain.EscalationTypeMedical:
		return "medical attention was required"
	case domain.EscalationTypeRegulatory:
		return "incident is reportable to the regulator"
	case domain.EscalationTypeManual:
		reason := stringField(data, "reason")
		if reason == "" {
			return "manually escalated by staff"
		}
		return fmt.Sprintf("manually escalated by staff: %s", reason)
	default:
		return string(typ)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// stringField pulls a string-ish value out of additional data. Numbers land
// here as float64 after a JSONB round trip.
func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}
