// Package notify defines the delivery channel contract, recipient resolution
// contracts and the notification content builders.
package notify

import (
	"context"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
)

// Result is the outcome of one channel send attempt.
//
// Exactly one of Delivered, Skipped or a non-nil Err is expected. Skipped
// means the recipient has opted out of this channel; it is terminal and never
// an error. InvalidIdentity is a side signal: the recipient's address or
// token is permanently unusable and should be deactivated, independent of the
// notification's own retry bookkeeping.
type Result struct {
	Delivered       bool
	Skipped         bool
	InvalidIdentity bool
	Err             error
}

// Channel delivers one notification to one recipient over a single transport.
type Channel interface {
	// Kind reports which delivery channel this implementation serves.
	Kind() domain.DeliveryChannel

	// Send attempts delivery. Implementations must check the recipient's
	// opt-out preference themselves and return Skipped rather than an error.
	Send(ctx context.Context, n *domain.QueuedNotification, rcpt *domain.Recipient) Result
}

// RetryableError wraps a transport error that is worth another attempt.
type RetryableError struct {
	Message string
	Code    int
}

func (e *RetryableError) Error() string {
	return e.Message
}

// IsRetryable marks the error as retryable for the worker.
func (e *RetryableError) IsRetryable() bool { return true }

// PermanentError wraps a transport error that will not succeed on retry.
type PermanentError struct {
	Message string
	Code    int
}

func (e *PermanentError) Error() string {
	return e.Message
}

// IsRetryable marks the error as not retryable.
func (e *PermanentError) IsRetryable() bool { return false }

// IsRetryable reports whether an error is worth retrying. Errors that do not
// classify themselves default to retryable; transient transport failures are
// the common case.
func IsRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}
	return true
}
