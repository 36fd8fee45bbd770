package entitle

import (
	"context"
	"time"
)

// Store defines the persistence interface for subscriptions, payment
// records, usage counters, and the user -> processor-customer mapping.
// All methods are single bounded operations safe for concurrent use.
//
// Implementations live under storage/ (memory, postgres, redis).
type Store interface {
	// GetSubscription returns the user's subscription row, or
	// ErrSubscriptionNotFound if none exists.
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)

	// GetSubscriptionByCustomer resolves a subscription by the
	// processor's customer id. Returns ErrSubscriptionNotFound when no
	// row carries that id.
	GetSubscriptionByCustomer(ctx context.Context, customerID string) (*Subscription, error)

	// CreateSubscription inserts a new subscription row. If the user
	// already has one the call is a no-op and returns
	// OutcomeAlreadyExisted.
	CreateSubscription(ctx context.Context, sub *Subscription) (InsertOutcome, error)

	// UpsertSubscription applies a partial patch in a single
	// transaction, creating a free/active row first when none exists.
	// The row's UpdatedAt is stamped with patch.UpdatedAt when set,
	// otherwise with the store clock. Returns the row after the patch.
	UpsertSubscription(ctx context.Context, userID string, patch SubscriptionPatch) (*Subscription, error)

	// RecordPayment inserts a payment record, unique on PaymentID.
	// A duplicate insert is a no-op reported as OutcomeAlreadyExisted,
	// never an error. This is the idempotency boundary for all billing
	// writes.
	RecordPayment(ctx context.Context, rec *PaymentRecord) (InsertOutcome, error)

	// ListPayments returns the user's payment records, newest first.
	ListPayments(ctx context.Context, userID string) ([]PaymentRecord, error)

	// GetOrCreateCustomer returns the processor customer id for the
	// user, invoking create to mint one on first use. The mapping is
	// written under a uniqueness constraint: when two first-time calls
	// race, the loser re-reads the winner's id instead of erroring, so
	// exactly one external customer is ever created per user.
	GetOrCreateCustomer(ctx context.Context, userID string, create func(context.Context) (string, error)) (string, error)

	// AddUsage atomically adds amount to the (user, feature, bucket)
	// counter in one store operation, creating the row at amount when
	// absent. Never a read followed by a write. Returns the new count.
	AddUsage(ctx context.Context, userID, feature string, amount int, bucket string) (int, error)

	// GetUsage returns the counter for (user, feature, bucket), zero
	// when no row exists.
	GetUsage(ctx context.Context, userID, feature, bucket string) (int, error)

	// UsageSince returns per-feature usage totals across buckets
	// touched at or after since.
	UsageSince(ctx context.Context, userID string, since time.Time) (map[string]int, error)
}
