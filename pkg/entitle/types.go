package entitle

import (
	"time"
)

// Tier identifies a subscription plan.
type Tier string

const (
	// TierFree is the default tier assigned at signup.
	TierFree Tier = "free"
	// TierFamily is the shared household plan.
	TierFamily Tier = "family"
	// TierPremium is the full recurring plan.
	TierPremium Tier = "premium"
	// TierLifetime is the one-time purchase plan.
	TierLifetime Tier = "lifetime"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierFamily, TierPremium, TierLifetime:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a subscription.
type Status string

const (
	// StatusActive means the subscription is paid up and grants access.
	StatusActive Status = "active"
	// StatusTrialing means the subscription is in its trial window.
	StatusTrialing Status = "trialing"
	// StatusPastDue means a renewal payment failed.
	StatusPastDue Status = "past_due"
	// StatusCanceled means the subscription ended.
	StatusCanceled Status = "canceled"
	// StatusPaused means the subscription is temporarily suspended.
	StatusPaused Status = "paused"
)

// Grants reports whether the status permits feature access.
// Status gates before any quota check: a past_due, canceled, or paused
// subscription is denied even with quota remaining.
func (s Status) Grants() bool {
	return s == StatusActive || s == StatusTrialing
}

// Limit is a per-feature cap within a billing period.
//
// The encoding mirrors the plan table: LimitUnlimited means no cap,
// 0 means the feature is disabled for the tier, 1 means a boolean
// feature (unlimited invocations once enabled), and N>1 is a numeric
// monthly quota. A feature absent from a tier has no Limit at all;
// Catalog.LimitFor reports absence separately.
type Limit int

// LimitUnlimited marks a feature with no usage cap.
const LimitUnlimited Limit = -1

// Metered reports whether the limit is a numeric quota that requires
// a usage counter read.
func (l Limit) Metered() bool {
	return l > 1
}

// Subscription is the local view of a user's subscription. Exactly one
// row exists per user once created; it is transitioned in place and
// never deleted (cancellation downgrades to free/canceled).
type Subscription struct {
	UserID string
	Tier   Tier
	Status Status

	// CustomerID and SubscriptionID are the payment processor's
	// identifiers. Empty until the first checkout.
	CustomerID     string
	SubscriptionID string

	// PriceID is the processor price backing the current tier.
	// Empty for free and for one-time lifetime purchases.
	PriceID string

	TrialEndsAt       *time.Time
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubscriptionPatch is a partial update applied by
// Store.UpsertSubscription. Nil fields are left unchanged; the store
// always stamps UpdatedAt.
type SubscriptionPatch struct {
	Tier              *Tier
	Status            *Status
	CustomerID        *string
	SubscriptionID    *string
	PriceID           *string
	TrialEndsAt       *time.Time
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
	CanceledAt        *time.Time

	// UpdatedAt, when set, stamps the row with the event's timestamp
	// instead of the store clock. Used by the billing reconciler so
	// that stale events can be detected on the next delivery.
	UpdatedAt *time.Time
}

// PaymentKind distinguishes recurring from one-time payments.
type PaymentKind string

const (
	// PaymentKindSubscription is a recurring subscription payment.
	PaymentKindSubscription PaymentKind = "subscription"
	// PaymentKindOneTime is a single purchase (lifetime plan).
	PaymentKindOneTime PaymentKind = "one_time"
)

// PaymentRecord is an append-only record of a processor payment,
// unique on PaymentID. Rows are immutable once written.
type PaymentRecord struct {
	PaymentID  string
	UserID     string
	CustomerID string
	// Amount is in minor currency units (cents).
	Amount    int64
	Currency  string
	Kind      PaymentKind
	CreatedAt time.Time
}

// InsertOutcome reports whether an idempotent insert wrote a new row.
// Duplicate detection is part of the result type, not an error.
type InsertOutcome int

const (
	// OutcomeInserted means a new row was written.
	OutcomeInserted InsertOutcome = iota
	// OutcomeAlreadyExisted means a row with the same unique id was
	// already present; the insert was a no-op.
	OutcomeAlreadyExisted
)

// DenialKind is the machine-readable reason class for a denial.
type DenialKind string

const (
	// DenyNoSubscription means no subscription row exists for the user.
	DenyNoSubscription DenialKind = "no_subscription"
	// DenyPaymentRequired means the subscription status does not grant
	// access (past_due, canceled, paused).
	DenyPaymentRequired DenialKind = "payment_required"
	// DenyNotInPlan means the tier does not offer the feature at all.
	DenyNotInPlan DenialKind = "not_in_plan"
	// DenyUpgradeRequired means the feature exists but is disabled for
	// the tier (limit 0).
	DenyUpgradeRequired DenialKind = "upgrade_required"
	// DenyQuotaExhausted means the monthly quota has been reached.
	DenyQuotaExhausted DenialKind = "quota_exhausted"
)

// Decision is the result of an access evaluation.
type Decision struct {
	Allowed bool
	// Reason is a human-readable explanation, set only when denied.
	Reason string
	// Kind classifies the denial for programmatic handling.
	Kind DenialKind
}

// Allow returns an allowed decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denied decision with the given kind and reason.
func Deny(kind DenialKind, reason string) Decision {
	return Decision{Allowed: false, Kind: kind, Reason: reason}
}
