// Package stripe implements the billing boundary against Stripe. It
// translates verified webhook payloads into typed events for the
// reconciler and drives outbound checkout, portal, and cancellation
// calls through the Stripe client.
package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pantryplan/entitle/pkg/billing"
	"github.com/pantryplan/entitle/pkg/entitle"
)

const (
	providerName       = "stripe"
	maxWebhookBodySize = 256 * 1024

	metadataUserID = "user_id"
	metadataTier   = "tier"
)

// Config configures the Stripe provider.
type Config struct {
	// APIKey is the Stripe secret key (required).
	APIKey string

	// WebhookSecret is the endpoint signing secret (required for the
	// webhook handler).
	WebhookSecret string

	// PriceByTier maps paid tiers to Stripe Price IDs. A checkout for
	// a tier with no mapping fails with ErrTierNotConfigured.
	PriceByTier map[entitle.Tier]string

	// Store resolves and persists the customer mapping (required).
	Store entitle.Store

	// Reconciler applies decoded webhook events (required for the
	// webhook handler).
	Reconciler *billing.Reconciler

	// Logger is used for structured logging (default: NoopLogger).
	Logger entitle.Logger

	// Metrics tracks API calls and webhook traffic (default: NoopMetrics).
	Metrics billing.Metrics
}

// Provider talks to Stripe on behalf of the entitlement service.
type Provider struct {
	client        *stripe.Client
	store         entitle.Store
	reconciler    *billing.Reconciler
	priceByTier   map[entitle.Tier]string
	tierByPrice   map[string]entitle.Tier
	webhookSecret string
	log           entitle.Logger
	metrics       billing.Metrics
}

// NewProvider creates a Stripe provider.
func NewProvider(config Config) (*Provider, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	if config.Store == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	priceByTier := make(map[entitle.Tier]string, len(config.PriceByTier))
	tierByPrice := make(map[string]entitle.Tier, len(config.PriceByTier))
	for tier, priceID := range config.PriceByTier {
		priceID = strings.TrimSpace(priceID)
		if priceID == "" {
			continue
		}
		priceByTier[tier] = priceID
		tierByPrice[priceID] = tier
	}

	log := config.Logger
	if log == nil {
		log = &entitle.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		client:        stripe.NewClient(apiKey),
		store:         config.Store,
		reconciler:    config.Reconciler,
		priceByTier:   priceByTier,
		tierByPrice:   tierByPrice,
		webhookSecret: strings.TrimSpace(config.WebhookSecret),
		log:           log,
		metrics:       metrics,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// TierForPrice maps a Stripe Price ID back to a tier. Unknown prices
// return false so callers can keep the stored tier untouched.
func (p *Provider) TierForPrice(priceID string) (entitle.Tier, bool) {
	tier, ok := p.tierByPrice[strings.TrimSpace(priceID)]
	return tier, ok
}

// GetOrCreateCustomer returns the Stripe customer id for a user,
// creating one with user_id metadata on first use. The store mapping
// makes this race-safe: concurrent callers converge on one customer.
func (p *Provider) GetOrCreateCustomer(ctx context.Context, userID string) (string, error) {
	return p.store.GetOrCreateCustomer(ctx, userID, func(ctx context.Context) (string, error) {
		startTime := time.Now()
		params := &stripe.CustomerCreateParams{}
		params.AddMetadata(metadataUserID, userID)

		cust, err := p.client.V1Customers.Create(ctx, params)
		p.metrics.RecordAPICallDuration("customers.create", time.Since(startTime))
		if err != nil {
			p.metrics.RecordAPICall("customers.create", "error")
			return "", fmt.Errorf("%w: create customer: %v", billing.ErrProviderAPIError, err)
		}
		p.metrics.RecordAPICall("customers.create", "success")
		return cust.ID, nil
	})
}
