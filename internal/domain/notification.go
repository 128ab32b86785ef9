package domain

import "time"

type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "pending"
	NotificationStatusProcessing NotificationStatus = "processing"
	NotificationStatusSent       NotificationStatus = "sent"
	NotificationStatusFailed     NotificationStatus = "failed"
	NotificationStatusRead       NotificationStatus = "read"
)

type DeliveryChannel string

const (
	DeliveryChannelEmail DeliveryChannel = "email"
	DeliveryChannelPush  DeliveryChannel = "push"
	DeliveryChannelBoth  DeliveryChannel = "both"
)

// WantsEmail reports whether the channel selection includes email delivery.
func (c DeliveryChannel) WantsEmail() bool {
	return c == DeliveryChannelEmail || c == DeliveryChannelBoth
}

// WantsPush reports whether the channel selection includes push delivery.
func (c DeliveryChannel) WantsPush() bool {
	return c == DeliveryChannelPush || c == DeliveryChannelBoth
}

type NotificationType string

const (
	NotificationTypeIncidentParent   NotificationType = "incident-parent"
	NotificationTypeIncidentDirector NotificationType = "incident-director"
	NotificationTypePatternAlert     NotificationType = "pattern-alert"
)

// QueuedNotification is one row of the delivery queue. Rows are created by
// the enqueuing caller, mutated only by the queue worker and removed only by
// purge.
type QueuedNotification struct {
	ID            string
	RecipientID   string
	Type          NotificationType
	Title         string
	Body          string
	Channel       DeliveryChannel
	Status        NotificationStatus
	Attempts      int
	MaxAttempts   int
	LastAttemptAt *time.Time
	SentAt        *time.Time
	ReadAt        *time.Time
	LastError     string
	Payload       map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
