package notify

import (
	"context"
	"errors"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
)

// Resolution errors.
var (
	ErrRecipientNotFound = errors.New("recipient not found")
)

// RecipientResolver turns a child or school into ordered recipient lists.
// Who counts as a guardian or a director is decided by the accounts module;
// the queue depends only on the returned ordering.
type RecipientResolver interface {
	// GuardiansFor returns the active guardian accounts for a child,
	// priority-ordered (primary contact first).
	GuardiansFor(ctx context.Context, childID string) ([]domain.Recipient, error)

	// Directors returns the supervisory staff for a school, bounded in size.
	Directors(ctx context.Context, schoolID string) ([]domain.Recipient, error)
}

// RecipientDirectory provides per-recipient lookups and channel-identity
// maintenance for the worker.
type RecipientDirectory interface {
	GetRecipient(ctx context.Context, id string) (*domain.Recipient, error)

	// DeactivateEmail marks a recipient's email address unusable after the
	// email channel reported it invalid.
	DeactivateEmail(ctx context.Context, recipientID string) error

	// DeactivatePushToken marks a recipient's push token unusable after the
	// push gateway reported it unregistered.
	DeactivatePushToken(ctx context.Context, recipientID string) error
}
