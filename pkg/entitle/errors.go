package entitle

import "errors"

var (
	// ErrSubscriptionNotFound is returned when a user has no subscription row.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInvalidTier is returned for an unknown tier name.
	ErrInvalidTier = errors.New("invalid tier")

	// ErrInvalidAmount is returned for negative usage amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidFeature is returned for an empty feature name.
	ErrInvalidFeature = errors.New("invalid feature")

	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)
