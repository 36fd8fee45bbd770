// Package memory provides an in-memory implementation of the
// entitle.Store interface. This implementation is primarily intended
// for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pantryplan/entitle/pkg/entitle"
)

// Store implements entitle.Store using in-memory maps guarded by a
// single mutex. Every method is one critical section, which gives the
// same atomicity the SQL backends get from single-statement upserts.
type Store struct {
	mu            sync.Mutex
	subscriptions map[string]*entitle.Subscription
	byCustomer    map[string]string // customer id -> user id
	payments      map[string]entitle.PaymentRecord
	paymentOrder  []string
	customers     map[string]string // user id -> customer id
	usage         map[string]*usageRow
	now           func() time.Time
}

type usageRow struct {
	userID    string
	feature   string
	bucket    string
	count     int
	updatedAt time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		subscriptions: make(map[string]*entitle.Subscription),
		byCustomer:    make(map[string]string),
		payments:      make(map[string]entitle.PaymentRecord),
		customers:     make(map[string]string),
		usage:         make(map[string]*usageRow),
		now:           time.Now,
	}
}

// SetClock overrides the store clock. Test helper.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// GetSubscription implements entitle.Store.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitle.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, entitle.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

// GetSubscriptionByCustomer implements entitle.Store.
func (s *Store) GetSubscriptionByCustomer(ctx context.Context, customerID string) (*entitle.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.byCustomer[customerID]
	if !ok {
		return nil, entitle.ErrSubscriptionNotFound
	}
	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, entitle.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

// CreateSubscription implements entitle.Store.
func (s *Store) CreateSubscription(ctx context.Context, sub *entitle.Subscription) (entitle.InsertOutcome, error) {
	if sub == nil || sub.UserID == "" {
		return 0, fmt.Errorf("invalid subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.UserID]; ok {
		return entitle.OutcomeAlreadyExisted, nil
	}
	cp := *sub
	s.subscriptions[sub.UserID] = &cp
	if cp.CustomerID != "" {
		s.byCustomer[cp.CustomerID] = cp.UserID
	}
	return entitle.OutcomeInserted, nil
}

// UpsertSubscription implements entitle.Store.
func (s *Store) UpsertSubscription(ctx context.Context, userID string, patch entitle.SubscriptionPatch) (*entitle.Subscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("invalid user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		now := s.now().UTC()
		sub = &entitle.Subscription{
			UserID:    userID,
			Tier:      entitle.TierFree,
			Status:    entitle.StatusActive,
			CreatedAt: now,
		}
		s.subscriptions[userID] = sub
	}

	applyPatch(sub, patch)
	if patch.UpdatedAt != nil {
		sub.UpdatedAt = patch.UpdatedAt.UTC()
	} else {
		sub.UpdatedAt = s.now().UTC()
	}
	if sub.CustomerID != "" {
		s.byCustomer[sub.CustomerID] = userID
	}

	cp := *sub
	return &cp, nil
}

func applyPatch(sub *entitle.Subscription, patch entitle.SubscriptionPatch) {
	if patch.Tier != nil {
		sub.Tier = *patch.Tier
	}
	if patch.Status != nil {
		sub.Status = *patch.Status
	}
	if patch.CustomerID != nil {
		sub.CustomerID = *patch.CustomerID
	}
	if patch.SubscriptionID != nil {
		sub.SubscriptionID = *patch.SubscriptionID
	}
	if patch.PriceID != nil {
		sub.PriceID = *patch.PriceID
	}
	if patch.TrialEndsAt != nil {
		t := *patch.TrialEndsAt
		sub.TrialEndsAt = &t
	}
	if patch.PeriodStart != nil {
		t := *patch.PeriodStart
		sub.PeriodStart = &t
	}
	if patch.PeriodEnd != nil {
		t := *patch.PeriodEnd
		sub.PeriodEnd = &t
	}
	if patch.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *patch.CancelAtPeriodEnd
	}
	if patch.CanceledAt != nil {
		t := *patch.CanceledAt
		sub.CanceledAt = &t
	}
}

// RecordPayment implements entitle.Store.
func (s *Store) RecordPayment(ctx context.Context, rec *entitle.PaymentRecord) (entitle.InsertOutcome, error) {
	if rec == nil || rec.PaymentID == "" {
		return 0, fmt.Errorf("invalid payment record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[rec.PaymentID]; ok {
		return entitle.OutcomeAlreadyExisted, nil
	}
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	s.payments[rec.PaymentID] = cp
	s.paymentOrder = append(s.paymentOrder, rec.PaymentID)
	return entitle.OutcomeInserted, nil
}

// ListPayments implements entitle.Store.
func (s *Store) ListPayments(ctx context.Context, userID string) ([]entitle.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entitle.PaymentRecord
	for i := len(s.paymentOrder) - 1; i >= 0; i-- {
		rec := s.payments[s.paymentOrder[i]]
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetOrCreateCustomer implements entitle.Store. The mutex is held
// across the create callback, which serializes concurrent first-time
// calls for the same user the way a uniqueness constraint does in the
// SQL backends.
func (s *Store) GetOrCreateCustomer(ctx context.Context, userID string, create func(context.Context) (string, error)) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("invalid user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.customers[userID]; ok {
		return id, nil
	}

	id, err := create(ctx)
	if err != nil {
		return "", err
	}
	s.customers[userID] = id
	s.byCustomer[id] = userID
	if sub, ok := s.subscriptions[userID]; ok && sub.CustomerID == "" {
		sub.CustomerID = id
	}
	return id, nil
}

// AddUsage implements entitle.Store.
func (s *Store) AddUsage(ctx context.Context, userID, feature string, amount int, bucket string) (int, error) {
	if amount < 0 {
		return 0, entitle.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(userID, feature, bucket)
	row, ok := s.usage[key]
	if !ok {
		row = &usageRow{userID: userID, feature: feature, bucket: bucket}
		s.usage[key] = row
	}
	row.count += amount
	row.updatedAt = s.now().UTC()
	return row.count, nil
}

// GetUsage implements entitle.Store.
func (s *Store) GetUsage(ctx context.Context, userID, feature, bucket string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.usage[usageKey(userID, feature, bucket)]
	if !ok {
		return 0, nil
	}
	return row.count, nil
}

// UsageSince implements entitle.Store.
func (s *Store) UsageSince(ctx context.Context, userID string, since time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := make(map[string]int)
	for _, row := range s.usage {
		if row.userID != userID || row.updatedAt.Before(since) {
			continue
		}
		totals[row.feature] += row.count
	}
	return totals, nil
}

// Buckets returns the sorted bucket keys recorded for a user and
// feature. Test helper.
func (s *Store) Buckets(userID, feature string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, row := range s.usage {
		if row.userID == userID && row.feature == feature {
			out = append(out, row.bucket)
		}
	}
	sort.Strings(out)
	return out
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions = make(map[string]*entitle.Subscription)
	s.byCustomer = make(map[string]string)
	s.payments = make(map[string]entitle.PaymentRecord)
	s.paymentOrder = nil
	s.customers = make(map[string]string)
	s.usage = make(map[string]*usageRow)
}

func usageKey(userID, feature, bucket string) string {
	return fmt.Sprintf("%s:%s:%s", userID, feature, bucket)
}
