package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not
	// properly configured.
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature
	// validation fails.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrEventMalformed is returned when a webhook payload cannot be
	// decoded or is missing required identifiers. Terminal: redelivery
	// of the same payload cannot succeed.
	ErrEventMalformed = errors.New("malformed billing event")

	// ErrUnknownSubject is returned when an event references a
	// customer with no local subscription and carries no user id.
	// Terminal: the sender will redeliver the same payload.
	ErrUnknownSubject = errors.New("no local subscription for billing event")

	// ErrProviderAPIError is returned when the processor's API fails.
	// Propagated verbatim; needs operator visibility.
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrTierNotConfigured is returned when a tier has no configured
	// processor price.
	ErrTierNotConfigured = errors.New("tier not configured in price mapping")

	// ErrNoActiveSubscription is returned when cancellation is
	// requested for a user with no processor subscription.
	ErrNoActiveSubscription = errors.New("no active subscription")
)

// retryableError marks a failure the event sender should retry, such
// as the store being unavailable. Handling is idempotent, so
// at-least-once redelivery is safe.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return "retryable: " + e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// MarkRetryable wraps err so IsRetryable reports true for it.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
