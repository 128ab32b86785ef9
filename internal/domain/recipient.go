package domain

import "time"

// RecipientRole distinguishes guardians from supervisory staff.
type RecipientRole string

const (
	RecipientRoleGuardian RecipientRole = "guardian"
	RecipientRoleDirector RecipientRole = "director"
)

// Recipient is the delivery-side view of an account: address material and
// per-channel preferences. How an account becomes a guardian of a child or a
// director of a school is resolved elsewhere.
type Recipient struct {
	ID             string
	Name           string
	Role           RecipientRole
	Email          string
	PushToken      string
	EmailOptOut    bool
	PushOptOut     bool
	PushTokenValid bool
	CreatedAt      time.Time
}
