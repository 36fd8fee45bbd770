// Package billing reconciles local subscription state from payment
// processor events. Events are decoded at the transport boundary into
// the fixed variants below; nothing past that boundary inspects a
// loosely typed payload.
package billing

import (
	"time"

	"github.com/pantryplan/entitle/pkg/entitle"
)

// Event is a decoded billing event. Each variant carries the
// processor's event id (for logging) and the event creation time (for
// stale-event detection).
type Event interface {
	// EventID returns the processor's unique event identifier.
	EventID() string
	// EventType returns the processor-agnostic event type name.
	EventType() string
	// OccurredAt returns when the processor created the event.
	OccurredAt() time.Time
}

// CheckoutCompleted is emitted when a checkout session finishes.
// Mode distinguishes recurring subscriptions from one-time purchases
// (the lifetime tier).
type CheckoutCompleted struct {
	ID      string
	Created time.Time

	// UserID and Tier come from the session metadata the checkout
	// orchestrator attached, so no side-channel lookup is needed.
	UserID string
	Tier   entitle.Tier

	CustomerID     string
	SubscriptionID string
	// PaymentID keys the payment record; unique per payment.
	PaymentID string
	PriceID   string

	Mode        entitle.PaymentKind
	AmountTotal int64
	Currency    string
}

func (e *CheckoutCompleted) EventID() string       { return e.ID }
func (e *CheckoutCompleted) EventType() string     { return "checkout_completed" }
func (e *CheckoutCompleted) OccurredAt() time.Time { return e.Created }

// SubscriptionUpdated carries the processor's current view of a
// subscription: status, period bounds, and the cancel flag.
type SubscriptionUpdated struct {
	ID      string
	Created time.Time

	UserID         string // from subscription metadata, may be empty
	CustomerID     string
	SubscriptionID string

	// Tier is resolved from metadata; empty means leave unchanged.
	Tier    entitle.Tier
	Status  entitle.Status
	PriceID string

	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	TrialEnd          *time.Time
}

func (e *SubscriptionUpdated) EventID() string       { return e.ID }
func (e *SubscriptionUpdated) EventType() string     { return "subscription_updated" }
func (e *SubscriptionUpdated) OccurredAt() time.Time { return e.Created }

// SubscriptionDeleted is the hard downgrade: the processor ended the
// subscription.
type SubscriptionDeleted struct {
	ID      string
	Created time.Time

	UserID         string
	CustomerID     string
	SubscriptionID string
}

func (e *SubscriptionDeleted) EventID() string       { return e.ID }
func (e *SubscriptionDeleted) EventType() string     { return "subscription_deleted" }
func (e *SubscriptionDeleted) OccurredAt() time.Time { return e.Created }

// InvoicePaid marks a successful renewal payment.
type InvoicePaid struct {
	ID      string
	Created time.Time

	UserID         string
	CustomerID     string
	SubscriptionID string
	InvoiceID      string
	// PaymentID keys the payment record (the payment intent id when
	// available, otherwise the invoice id).
	PaymentID string

	AmountPaid int64
	Currency   string

	PeriodStart time.Time
	PeriodEnd   time.Time
}

func (e *InvoicePaid) EventID() string       { return e.ID }
func (e *InvoicePaid) EventType() string     { return "invoice_paid" }
func (e *InvoicePaid) OccurredAt() time.Time { return e.Created }

// InvoicePaymentFailed marks a failed renewal payment.
type InvoicePaymentFailed struct {
	ID      string
	Created time.Time

	UserID         string
	CustomerID     string
	SubscriptionID string
	InvoiceID      string

	AmountDue int64
	Currency  string
}

func (e *InvoicePaymentFailed) EventID() string       { return e.ID }
func (e *InvoicePaymentFailed) EventType() string     { return "invoice_payment_failed" }
func (e *InvoicePaymentFailed) OccurredAt() time.Time { return e.Created }
