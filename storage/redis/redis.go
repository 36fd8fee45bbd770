// Package redis provides a Redis implementation of the entitle.Store
// interface. Usage counters are plain HINCRBY operations, payment and
// customer writes are SET NX, and subscription patches run under
// WATCH/MULTI with bounded retries.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pantryplan/entitle/pkg/entitle"
)

// Store implements entitle.Store using Redis.
type Store struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "entitle:").
	KeyPrefix string

	// UsageTTL is the TTL applied to usage buckets (0 = no expiration).
	// Buckets are month-scoped, so anything past ~90 days is safe to
	// expire once stats windows no longer reach it.
	UsageTTL time.Duration

	// MaxRetries bounds optimistic-lock retries for subscription
	// patches (default: 3).
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "entitle:",
		UsageTTL:   0,
		MaxRetries: 3,
	}
}

// New creates a new Redis store. The client can be *redis.Client,
// *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "entitle:"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	return &Store{client: client, config: config}, nil
}

func (s *Store) subKey(userID string) string {
	return s.config.KeyPrefix + "sub:" + userID
}

func (s *Store) customerKey(userID string) string {
	return s.config.KeyPrefix + "customer:" + userID
}

func (s *Store) customerUserKey(customerID string) string {
	return s.config.KeyPrefix + "customer_user:" + customerID
}

func (s *Store) paymentKey(paymentID string) string {
	return s.config.KeyPrefix + "payment:" + paymentID
}

func (s *Store) paymentListKey(userID string) string {
	return s.config.KeyPrefix + "payments:" + userID
}

func (s *Store) usageKey(userID, bucket string) string {
	return s.config.KeyPrefix + "usage:" + userID + ":" + bucket
}

// GetSubscription implements entitle.Store.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitle.Subscription, error) {
	data, err := s.client.Get(ctx, s.subKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, entitle.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	var sub entitle.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	return &sub, nil
}

// GetSubscriptionByCustomer implements entitle.Store.
func (s *Store) GetSubscriptionByCustomer(ctx context.Context, customerID string) (*entitle.Subscription, error) {
	userID, err := s.client.Get(ctx, s.customerUserKey(customerID)).Result()
	if err == redis.Nil {
		return nil, entitle.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer: %w", err)
	}
	return s.GetSubscription(ctx, userID)
}

// CreateSubscription implements entitle.Store.
func (s *Store) CreateSubscription(ctx context.Context, sub *entitle.Subscription) (entitle.InsertOutcome, error) {
	if sub == nil || sub.UserID == "" {
		return 0, fmt.Errorf("invalid subscription")
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return 0, fmt.Errorf("failed to encode subscription: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.subKey(sub.UserID), data, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to create subscription: %w", err)
	}
	if !ok {
		return entitle.OutcomeAlreadyExisted, nil
	}
	if sub.CustomerID != "" {
		if err := s.client.Set(ctx, s.customerUserKey(sub.CustomerID), sub.UserID, 0).Err(); err != nil {
			return 0, fmt.Errorf("failed to index customer: %w", err)
		}
	}
	return entitle.OutcomeInserted, nil
}

// UpsertSubscription implements entitle.Store. The read-patch-write
// cycle runs under WATCH so a concurrent patch restarts it instead of
// being overwritten.
func (s *Store) UpsertSubscription(ctx context.Context, userID string, patch entitle.SubscriptionPatch) (*entitle.Subscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("invalid user id")
	}

	key := s.subKey(userID)
	var result *entitle.Subscription

	txf := func(tx *redis.Tx) error {
		var sub entitle.Subscription
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			now := time.Now().UTC()
			sub = entitle.Subscription{
				UserID:    userID,
				Tier:      entitle.TierFree,
				Status:    entitle.StatusActive,
				CreatedAt: now,
			}
		case err != nil:
			return fmt.Errorf("failed to get subscription: %w", err)
		default:
			if err := json.Unmarshal(data, &sub); err != nil {
				return fmt.Errorf("failed to decode subscription: %w", err)
			}
		}

		applyPatch(&sub, patch)
		if patch.UpdatedAt != nil {
			sub.UpdatedAt = patch.UpdatedAt.UTC()
		} else {
			sub.UpdatedAt = time.Now().UTC()
		}

		encoded, err := json.Marshal(&sub)
		if err != nil {
			return fmt.Errorf("failed to encode subscription: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if sub.CustomerID != "" {
				pipe.Set(ctx, s.customerUserKey(sub.CustomerID), userID, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = &sub
		return nil
	}

	for i := 0; i < s.config.MaxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("subscription patch for %s: too many conflicts", userID)
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

// RecordPayment implements entitle.Store. SET NX on the payment id is
// the idempotency boundary: the loser of a duplicate delivery sees
// AlreadyExisted, never an error.
func (s *Store) RecordPayment(ctx context.Context, rec *entitle.PaymentRecord) (entitle.InsertOutcome, error) {
	if rec == nil || rec.PaymentID == "" {
		return 0, fmt.Errorf("invalid payment record")
	}

	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payment: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.paymentKey(rec.PaymentID), data, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to record payment: %w", err)
	}
	if !ok {
		return entitle.OutcomeAlreadyExisted, nil
	}

	if err := s.client.LPush(ctx, s.paymentListKey(rec.UserID), rec.PaymentID).Err(); err != nil {
		return 0, fmt.Errorf("failed to index payment: %w", err)
	}
	return entitle.OutcomeInserted, nil
}

// ListPayments implements entitle.Store.
func (s *Store) ListPayments(ctx context.Context, userID string) ([]entitle.PaymentRecord, error) {
	ids, err := s.client.LRange(ctx, s.paymentListKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	out := make([]entitle.PaymentRecord, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.paymentKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get payment %s: %w", id, err)
		}
		var rec entitle.PaymentRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode payment %s: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetOrCreateCustomer implements entitle.Store. SET NX on the mapping
// key decides the race; the loser discards its freshly minted id and
// re-reads the winner's.
func (s *Store) GetOrCreateCustomer(ctx context.Context, userID string, create func(context.Context) (string, error)) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("invalid user id")
	}

	key := s.customerKey(userID)
	existing, err := s.client.Get(ctx, key).Result()
	if err == nil {
		return existing, nil
	}
	if err != redis.Nil {
		return "", fmt.Errorf("failed to look up customer: %w", err)
	}

	customerID, err := create(ctx)
	if err != nil {
		return "", err
	}

	ok, err := s.client.SetNX(ctx, key, customerID, 0).Result()
	if err != nil {
		return "", fmt.Errorf("failed to store customer mapping: %w", err)
	}
	if !ok {
		winner, err := s.client.Get(ctx, key).Result()
		if err != nil {
			return "", fmt.Errorf("failed to re-read customer mapping: %w", err)
		}
		return winner, nil
	}

	if err := s.client.Set(ctx, s.customerUserKey(customerID), userID, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to index customer: %w", err)
	}
	return customerID, nil
}

// AddUsage implements entitle.Store. HINCRBY is a single atomic server
// operation, so M concurrent increments for the same key total M.
func (s *Store) AddUsage(ctx context.Context, userID, feature string, amount int, bucket string) (int, error) {
	if amount < 0 {
		return 0, entitle.ErrInvalidAmount
	}

	key := s.usageKey(userID, bucket)
	count, err := s.client.HIncrBy(ctx, key, feature, int64(amount)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}
	if s.config.UsageTTL > 0 {
		// Best effort; a missing TTL only delays cleanup.
		_ = s.client.Expire(ctx, key, s.config.UsageTTL).Err()
	}
	return int(count), nil
}

// GetUsage implements entitle.Store.
func (s *Store) GetUsage(ctx context.Context, userID, feature, bucket string) (int, error) {
	count, err := s.client.HGet(ctx, s.usageKey(userID, bucket), feature).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return count, nil
}

// UsageSince implements entitle.Store. Bucket keys encode the month,
// so the window is walked bucket by bucket instead of scanning.
func (s *Store) UsageSince(ctx context.Context, userID string, since time.Time) (map[string]int, error) {
	totals := make(map[string]int)

	cursor := entitle.BucketStart(since)
	end := entitle.BucketStart(time.Now().UTC())
	for !cursor.After(end) {
		fields, err := s.client.HGetAll(ctx, s.usageKey(userID, entitle.BucketKey(cursor))).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read usage bucket: %w", err)
		}
		for feature, raw := range fields {
			var count int
			if _, err := fmt.Sscanf(raw, "%d", &count); err != nil {
				continue
			}
			totals[feature] += count
		}
		cursor = cursor.AddDate(0, 1, 0)
	}
	return totals, nil
}
