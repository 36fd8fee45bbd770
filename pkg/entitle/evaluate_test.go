package entitle_test

import (
	"context"
	"testing"
	"time"

	"github.com/pantryplan/entitle/pkg/entitle"
	"github.com/pantryplan/entitle/storage/memory"
)

var testNow = time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*entitle.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.SetClock(func() time.Time { return testNow })

	service, err := entitle.NewService(store, entitle.Config{
		Now: func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service, store
}

func setSubscription(t *testing.T, store *memory.Store, userID string, tier entitle.Tier, status entitle.Status) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.UpsertSubscription(ctx, userID, entitle.SubscriptionPatch{
		Tier:   &tier,
		Status: &status,
	}); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
}

func TestCanUseFeaturePrecedence(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		setup    func(t *testing.T, store *memory.Store)
		feature  string
		allowed  bool
		wantKind entitle.DenialKind
	}{
		{
			name:     "no subscription row",
			setup:    func(t *testing.T, store *memory.Store) {},
			feature:  entitle.FeaturePantryTracking,
			allowed:  false,
			wantKind: entitle.DenyNoSubscription,
		},
		{
			name: "past due blocks even included features",
			setup: func(t *testing.T, store *memory.Store) {
				setSubscription(t, store, "u1", entitle.TierPremium, entitle.StatusPastDue)
			},
			feature:  entitle.FeaturePantryTracking,
			allowed:  false,
			wantKind: entitle.DenyPaymentRequired,
		},
		{
			name: "canceled blocks",
			setup: func(t *testing.T, store *memory.Store) {
				setSubscription(t, store, "u1", entitle.TierPremium, entitle.StatusCanceled)
			},
			feature:  entitle.FeatureRecipeParsing,
			allowed:  false,
			wantKind: entitle.DenyPaymentRequired,
		},
		{
			name: "trialing grants access",
			setup: func(t *testing.T, store *memory.Store) {
				setSubscription(t, store, "u1", entitle.TierFamily, entitle.StatusTrialing)
			},
			feature: entitle.FeatureHouseholdSharing,
			allowed: true,
		},
		{
			name: "feature absent from plan",
			setup: func(t *testing.T, store *memory.Store) {
				setSubscription(t, store, "u1", entitle.TierFree, entitle.StatusActive)
			},
			feature:  entitle.FeatureHouseholdSharing,
			allowed:  false,
			wantKind: entitle.DenyNotInPlan,
		},
		{
			name: "explicit zero limit requires upgrade",
			setup: func(t *testing.T, store *memory.Store) {
				setSubscription(t, store, "u1", entitle.TierFree, entitle.StatusActive)
			},
			feature:  entitle.FeatureMenuSuggestions,
			allowed:  false,
			wantKind: entitle.DenyUpgradeRequired,
		},
		{
			name: "boolean feature allowed without counters",
			setup: func(t *testing.T, store *memory.Store) {
				setSubscription(t, store, "u1", entitle.TierFree, entitle.StatusActive)
			},
			feature: entitle.FeatureShoppingListSync,
			allowed: true,
		},
		{
			name: "unlimited feature allowed regardless of usage",
			setup: func(t *testing.T, store *memory.Store) {
				setSubscription(t, store, "u1", entitle.TierPremium, entitle.StatusActive)
				for i := 0; i < 500; i++ {
					if _, err := store.AddUsage(ctx, "u1", entitle.FeatureRecipeParsing, 1, entitle.BucketKey(testNow)); err != nil {
						t.Fatalf("AddUsage: %v", err)
					}
				}
			},
			feature: entitle.FeatureRecipeParsing,
			allowed: true,
		},
		{
			name: "quota with headroom",
			setup: func(t *testing.T, store *memory.Store) {
				setSubscription(t, store, "u1", entitle.TierFamily, entitle.StatusActive)
				if _, err := store.AddUsage(ctx, "u1", entitle.FeatureRecipeParsing, 49, entitle.BucketKey(testNow)); err != nil {
					t.Fatalf("AddUsage: %v", err)
				}
			},
			feature: entitle.FeatureRecipeParsing,
			allowed: true,
		},
		{
			name: "quota exhausted",
			setup: func(t *testing.T, store *memory.Store) {
				setSubscription(t, store, "u1", entitle.TierFamily, entitle.StatusActive)
				if _, err := store.AddUsage(ctx, "u1", entitle.FeatureRecipeParsing, 50, entitle.BucketKey(testNow)); err != nil {
					t.Fatalf("AddUsage: %v", err)
				}
			},
			feature:  entitle.FeatureRecipeParsing,
			allowed:  false,
			wantKind: entitle.DenyQuotaExhausted,
		},
		{
			name: "previous month usage does not count",
			setup: func(t *testing.T, store *memory.Store) {
				setSubscription(t, store, "u1", entitle.TierFamily, entitle.StatusActive)
				lastMonth := entitle.BucketKey(testNow.AddDate(0, -1, 0))
				if _, err := store.AddUsage(ctx, "u1", entitle.FeatureRecipeParsing, 50, lastMonth); err != nil {
					t.Fatalf("AddUsage: %v", err)
				}
			},
			feature: entitle.FeatureRecipeParsing,
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, store := newTestService(t)
			tt.setup(t, store)

			decision, err := service.CanUseFeature(ctx, "u1", tt.feature)
			if err != nil {
				t.Fatalf("CanUseFeature: %v", err)
			}
			if decision.Allowed != tt.allowed {
				t.Fatalf("allowed = %v, want %v (reason %q)", decision.Allowed, tt.allowed, decision.Reason)
			}
			if !tt.allowed {
				if decision.Kind != tt.wantKind {
					t.Errorf("kind = %q, want %q", decision.Kind, tt.wantKind)
				}
				if decision.Reason == "" {
					t.Error("denied decision has empty reason")
				}
			}
		})
	}
}

func TestCanUseFeatureEmptyFeature(t *testing.T) {
	service, store := newTestService(t)
	setSubscription(t, store, "u1", entitle.TierPremium, entitle.StatusActive)

	decision, err := service.CanUseFeature(context.Background(), "u1", "")
	if err == nil {
		t.Fatal("expected error for empty feature")
	}
	if decision.Allowed {
		t.Error("empty feature must not be allowed")
	}
}

func TestCanUseFeatureFailsClosedOnStoreError(t *testing.T) {
	store := &failingStore{}
	service, err := entitle.NewService(store, entitle.Config{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	decision, err := service.CanUseFeature(context.Background(), "u1", entitle.FeaturePantryTracking)
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
	if decision.Allowed {
		t.Error("store failure must deny access")
	}
}

// failingStore errors on every operation.
type failingStore struct{}

func (f *failingStore) GetSubscription(ctx context.Context, userID string) (*entitle.Subscription, error) {
	return nil, entitle.ErrStoreUnavailable
}

func (f *failingStore) GetSubscriptionByCustomer(ctx context.Context, customerID string) (*entitle.Subscription, error) {
	return nil, entitle.ErrStoreUnavailable
}

func (f *failingStore) CreateSubscription(ctx context.Context, sub *entitle.Subscription) (entitle.InsertOutcome, error) {
	return 0, entitle.ErrStoreUnavailable
}

func (f *failingStore) UpsertSubscription(ctx context.Context, userID string, patch entitle.SubscriptionPatch) (*entitle.Subscription, error) {
	return nil, entitle.ErrStoreUnavailable
}

func (f *failingStore) RecordPayment(ctx context.Context, rec *entitle.PaymentRecord) (entitle.InsertOutcome, error) {
	return 0, entitle.ErrStoreUnavailable
}

func (f *failingStore) ListPayments(ctx context.Context, userID string) ([]entitle.PaymentRecord, error) {
	return nil, entitle.ErrStoreUnavailable
}

func (f *failingStore) GetOrCreateCustomer(ctx context.Context, userID string, create func(context.Context) (string, error)) (string, error) {
	return "", entitle.ErrStoreUnavailable
}

func (f *failingStore) AddUsage(ctx context.Context, userID, feature string, amount int, bucket string) (int, error) {
	return 0, entitle.ErrStoreUnavailable
}

func (f *failingStore) GetUsage(ctx context.Context, userID, feature, bucket string) (int, error) {
	return 0, entitle.ErrStoreUnavailable
}

func (f *failingStore) UsageSince(ctx context.Context, userID string, since time.Time) (map[string]int, error) {
	return nil, entitle.ErrStoreUnavailable
}
