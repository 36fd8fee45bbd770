// Package postgres provides a PostgreSQL implementation of the
// entitle.Store interface using pgx/v5. Atomic counter updates and
// idempotent inserts are expressed as single ON CONFLICT statements,
// so no operation is a read followed by a separate write.
//
// Expected schema:
//
//	CREATE TABLE subscriptions (
//	    user_id              TEXT PRIMARY KEY,
//	    tier                 TEXT NOT NULL DEFAULT 'free',
//	    status               TEXT NOT NULL DEFAULT 'active',
//	    customer_id          TEXT UNIQUE,
//	    subscription_id      TEXT,
//	    price_id             TEXT NOT NULL DEFAULT '',
//	    trial_ends_at        TIMESTAMPTZ,
//	    period_start         TIMESTAMPTZ,
//	    period_end           TIMESTAMPTZ,
//	    cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
//	    canceled_at          TIMESTAMPTZ,
//	    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
//	CREATE TABLE payment_records (
//	    payment_id  TEXT PRIMARY KEY,
//	    user_id     TEXT NOT NULL,
//	    customer_id TEXT NOT NULL DEFAULT '',
//	    amount      BIGINT NOT NULL,
//	    currency    TEXT NOT NULL DEFAULT '',
//	    kind        TEXT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE INDEX payment_records_user_idx ON payment_records (user_id, created_at DESC);
//
//	CREATE TABLE customer_mappings (
//	    user_id     TEXT PRIMARY KEY,
//	    customer_id TEXT NOT NULL UNIQUE,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
//	CREATE TABLE feature_usage (
//	    user_id    TEXT NOT NULL,
//	    feature    TEXT NOT NULL,
//	    bucket     TEXT NOT NULL,
//	    count      BIGINT NOT NULL DEFAULT 0,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (user_id, feature, bucket)
//	);
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pantryplan/entitle/pkg/entitle"
)

// Store implements entitle.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// NewFromPool creates a store over an existing pool. The caller keeps
// ownership of the pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, config: DefaultConfig()}
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const subscriptionColumns = `user_id, tier, status, COALESCE(customer_id, ''), COALESCE(subscription_id, ''),
	price_id, trial_ends_at, period_start, period_end, cancel_at_period_end, canceled_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*entitle.Subscription, error) {
	var sub entitle.Subscription
	err := row.Scan(
		&sub.UserID,
		&sub.Tier,
		&sub.Status,
		&sub.CustomerID,
		&sub.SubscriptionID,
		&sub.PriceID,
		&sub.TrialEndsAt,
		&sub.PeriodStart,
		&sub.PeriodEnd,
		&sub.CancelAtPeriodEnd,
		&sub.CanceledAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, entitle.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &sub, nil
}

// GetSubscription implements entitle.Store.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitle.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	return scanSubscription(row)
}

// GetSubscriptionByCustomer implements entitle.Store.
func (s *Store) GetSubscriptionByCustomer(ctx context.Context, customerID string) (*entitle.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE customer_id = $1`, customerID)
	return scanSubscription(row)
}

// CreateSubscription implements entitle.Store.
func (s *Store) CreateSubscription(ctx context.Context, sub *entitle.Subscription) (entitle.InsertOutcome, error) {
	if sub == nil || sub.UserID == "" {
		return 0, fmt.Errorf("invalid subscription")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (user_id, tier, status, customer_id, subscription_id, price_id,
			trial_ends_at, period_start, period_end, cancel_at_period_end, canceled_at, created_at, updated_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, NOW(), NOW())
			ON CONFLICT (user_id) DO NOTHING`,
		sub.UserID, sub.Tier, sub.Status, sub.CustomerID, sub.SubscriptionID, sub.PriceID,
		sub.TrialEndsAt, sub.PeriodStart, sub.PeriodEnd, sub.CancelAtPeriodEnd, sub.CanceledAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitle.OutcomeAlreadyExisted, nil
	}
	return entitle.OutcomeInserted, nil
}

// UpsertSubscription implements entitle.Store. The ensure-row insert
// and the patch update run inside one transaction; COALESCE applies
// only the non-nil patch fields.
func (s *Store) UpsertSubscription(ctx context.Context, userID string, patch entitle.SubscriptionPatch) (*entitle.Subscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("invalid user id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Ensure the row exists (free/active defaults on first contact).
	_, err = tx.Exec(ctx,
		`INSERT INTO subscriptions (user_id, tier, status, created_at, updated_at)
			VALUES ($1, 'free', 'active', NOW(), NOW())
			ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure subscription exists: %w", err)
	}

	row := tx.QueryRow(ctx,
		`UPDATE subscriptions SET
			tier                 = COALESCE($2, tier),
			status               = COALESCE($3, status),
			customer_id          = COALESCE(NULLIF($4, ''), customer_id),
			subscription_id      = COALESCE(NULLIF($5, ''), subscription_id),
			price_id             = COALESCE($6, price_id),
			trial_ends_at        = COALESCE($7, trial_ends_at),
			period_start         = COALESCE($8, period_start),
			period_end           = COALESCE($9, period_end),
			cancel_at_period_end = COALESCE($10, cancel_at_period_end),
			canceled_at          = COALESCE($11, canceled_at),
			updated_at           = COALESCE($12, NOW())
		WHERE user_id = $1
		RETURNING `+subscriptionColumns,
		userID,
		patch.Tier, patch.Status,
		deref(patch.CustomerID), deref(patch.SubscriptionID),
		patch.PriceID,
		patch.TrialEndsAt, patch.PeriodStart, patch.PeriodEnd,
		patch.CancelAtPeriodEnd, patch.CanceledAt, patch.UpdatedAt,
	)

	sub, err := scanSubscription(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return sub, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RecordPayment implements entitle.Store. The unique constraint on
// payment_id makes the insert idempotent: ON CONFLICT DO NOTHING with
// RETURNING reports whether this call wrote the row.
func (s *Store) RecordPayment(ctx context.Context, rec *entitle.PaymentRecord) (entitle.InsertOutcome, error) {
	if rec == nil || rec.PaymentID == "" {
		return 0, fmt.Errorf("invalid payment record")
	}

	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO payment_records (payment_id, user_id, customer_id, amount, currency, kind, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
			ON CONFLICT (payment_id) DO NOTHING
			RETURNING payment_id`,
		rec.PaymentID, rec.UserID, rec.CustomerID, rec.Amount, rec.Currency, rec.Kind,
		nullTime(rec.CreatedAt),
	).Scan(&id)

	if err == pgx.ErrNoRows {
		return entitle.OutcomeAlreadyExisted, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record payment: %w", err)
	}
	return entitle.OutcomeInserted, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ListPayments implements entitle.Store.
func (s *Store) ListPayments(ctx context.Context, userID string) ([]entitle.PaymentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payment_id, user_id, customer_id, amount, currency, kind, created_at
			FROM payment_records WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []entitle.PaymentRecord
	for rows.Next() {
		var rec entitle.PaymentRecord
		if err := rows.Scan(&rec.PaymentID, &rec.UserID, &rec.CustomerID,
			&rec.Amount, &rec.Currency, &rec.Kind, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetOrCreateCustomer implements entitle.Store. The mapping insert runs
// under the uniqueness constraint on user_id; when a concurrent call
// wins the race the conflict path re-reads the winner's id instead of
// erroring, so only one external customer is ever minted per user.
func (s *Store) GetOrCreateCustomer(ctx context.Context, userID string, create func(context.Context) (string, error)) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("invalid user id")
	}

	var existing string
	err := s.pool.QueryRow(ctx,
		`SELECT customer_id FROM customer_mappings WHERE user_id = $1`, userID).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if err != pgx.ErrNoRows {
		return "", fmt.Errorf("failed to look up customer mapping: %w", err)
	}

	customerID, err := create(ctx)
	if err != nil {
		return "", err
	}

	var inserted string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO customer_mappings (user_id, customer_id, created_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (user_id) DO NOTHING
			RETURNING customer_id`,
		userID, customerID).Scan(&inserted)

	if err == pgx.ErrNoRows {
		// Lost the race: another call created the mapping first.
		// Re-read and return the winner's id.
		err = s.pool.QueryRow(ctx,
			`SELECT customer_id FROM customer_mappings WHERE user_id = $1`, userID).Scan(&existing)
		if err != nil {
			return "", fmt.Errorf("failed to re-read customer mapping: %w", err)
		}
		return existing, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to insert customer mapping: %w", err)
	}

	// Attach the id to the subscription row if it is still blank.
	_, err = s.pool.Exec(ctx,
		`UPDATE subscriptions SET customer_id = $2, updated_at = NOW()
			WHERE user_id = $1 AND customer_id IS NULL`, userID, inserted)
	if err != nil {
		return "", fmt.Errorf("failed to attach customer id: %w", err)
	}

	return inserted, nil
}

// AddUsage implements entitle.Store. A single upsert statement keeps
// the increment atomic under concurrent calls for the same key.
func (s *Store) AddUsage(ctx context.Context, userID, feature string, amount int, bucket string) (int, error) {
	if amount < 0 {
		return 0, entitle.ErrInvalidAmount
	}

	var count int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO feature_usage (user_id, feature, bucket, count, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (user_id, feature, bucket)
			DO UPDATE SET count = feature_usage.count + $4, updated_at = NOW()
			RETURNING count`,
		userID, feature, bucket, amount).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}
	return int(count), nil
}

// GetUsage implements entitle.Store.
func (s *Store) GetUsage(ctx context.Context, userID, feature, bucket string) (int, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count FROM feature_usage WHERE user_id = $1 AND feature = $2 AND bucket = $3`,
		userID, feature, bucket).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return int(count), nil
}

// UsageSince implements entitle.Store.
func (s *Store) UsageSince(ctx context.Context, userID string, since time.Time) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT feature, SUM(count) FROM feature_usage
			WHERE user_id = $1 AND updated_at >= $2
			GROUP BY feature`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var feature string
		var count int64
		if err := rows.Scan(&feature, &count); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		totals[feature] = int(count)
	}
	return totals, rows.Err()
}
