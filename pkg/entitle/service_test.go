package entitle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pantryplan/entitle/pkg/entitle"
	"github.com/pantryplan/entitle/storage/memory"
)

func TestEnsureSubscription(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	sub, err := service.EnsureSubscription(ctx, "u1")
	if err != nil {
		t.Fatalf("EnsureSubscription: %v", err)
	}
	if sub.Tier != entitle.TierFree || sub.Status != entitle.StatusActive {
		t.Fatalf("new subscription = %s/%s, want free/active", sub.Tier, sub.Status)
	}

	// Upgrade, then make sure a repeat signup does not clobber it.
	setSubscription(t, store, "u1", entitle.TierPremium, entitle.StatusActive)

	again, err := service.EnsureSubscription(ctx, "u1")
	if err != nil {
		t.Fatalf("EnsureSubscription repeat: %v", err)
	}
	if again.Tier != entitle.TierPremium {
		t.Errorf("repeat signup reset tier to %s", again.Tier)
	}
}

func TestRecordUsageValidation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if err := service.RecordUsage(ctx, "u1", "", 1); err != entitle.ErrInvalidFeature {
		t.Errorf("empty feature: got %v, want ErrInvalidFeature", err)
	}
	if err := service.RecordUsage(ctx, "u1", entitle.FeatureRecipeParsing, -1); err != entitle.ErrInvalidAmount {
		t.Errorf("negative amount: got %v, want ErrInvalidAmount", err)
	}
	// Zero is a no-op, not an error.
	if err := service.RecordUsage(ctx, "u1", entitle.FeatureRecipeParsing, 0); err != nil {
		t.Errorf("zero amount: got %v", err)
	}
}

func TestRecordUsageAccumulates(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	setSubscription(t, store, "u1", entitle.TierFamily, entitle.StatusActive)

	for i := 0; i < 4; i++ {
		if err := service.RecordUsage(ctx, "u1", entitle.FeatureRecipeParsing, 3); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	used, limit, included, err := service.FeatureUsage(ctx, "u1", entitle.FeatureRecipeParsing)
	if err != nil {
		t.Fatalf("FeatureUsage: %v", err)
	}
	if !included {
		t.Fatal("feature should be included for family tier")
	}
	if used != 12 {
		t.Errorf("used = %d, want 12", used)
	}
	if limit != 50 {
		t.Errorf("limit = %d, want 50", limit)
	}
}

func TestFeatureUsageNotIncluded(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	setSubscription(t, store, "u1", entitle.TierFree, entitle.StatusActive)

	_, _, included, err := service.FeatureUsage(ctx, "u1", entitle.FeatureHouseholdSharing)
	if err != nil {
		t.Fatalf("FeatureUsage: %v", err)
	}
	if included {
		t.Error("household sharing should not be included on free tier")
	}
}

func TestGetUsageStats(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	setSubscription(t, store, "u1", entitle.TierPremium, entitle.StatusActive)

	if err := service.RecordUsage(ctx, "u1", entitle.FeatureRecipeParsing, 7); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := service.RecordUsage(ctx, "u1", entitle.FeatureMenuSuggestions, 2); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	stats, err := service.GetUsageStats(ctx, "u1", 30)
	if err != nil {
		t.Fatalf("GetUsageStats: %v", err)
	}
	if stats[entitle.FeatureRecipeParsing] != 7 {
		t.Errorf("parsing total = %d, want 7", stats[entitle.FeatureRecipeParsing])
	}
	if stats[entitle.FeatureMenuSuggestions] != 2 {
		t.Errorf("suggestions total = %d, want 2", stats[entitle.FeatureMenuSuggestions])
	}

	// windowDays <= 0 defaults rather than erroring.
	if _, err := service.GetUsageStats(ctx, "u1", 0); err != nil {
		t.Errorf("GetUsageStats default window: %v", err)
	}
}

func TestConcurrentUsageRecording(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	setSubscription(t, store, "u1", entitle.TierPremium, entitle.StatusActive)

	const workers = 20
	const perWorker = 25

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for j := 0; j < perWorker; j++ {
				if err := service.RecordUsage(gctx, "u1", entitle.FeatureRecipeParsing, 1); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent recording: %v", err)
	}

	used, _, _, err := service.FeatureUsage(ctx, "u1", entitle.FeatureRecipeParsing)
	if err != nil {
		t.Fatalf("FeatureUsage: %v", err)
	}
	if used != workers*perWorker {
		t.Errorf("used = %d, want %d (lost updates)", used, workers*perWorker)
	}
}

func TestConcurrentEnsureSubscription(t *testing.T) {
	store := memory.New()
	service, err := entitle.NewService(store, entitle.Config{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.EnsureSubscription(ctx, "u1"); err != nil {
				t.Errorf("EnsureSubscription: %v", err)
			}
		}()
	}
	wg.Wait()

	sub, err := store.GetSubscription(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.Tier != entitle.TierFree {
		t.Errorf("tier = %s, want free", sub.Tier)
	}
}

func TestClockDrivenPeriodRollover(t *testing.T) {
	store := memory.New()
	current := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	store.SetClock(clock)

	service, err := entitle.NewService(store, entitle.Config{Now: clock})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	tier := entitle.TierFamily
	status := entitle.StatusActive
	if _, err := store.UpsertSubscription(ctx, "u1", entitle.SubscriptionPatch{Tier: &tier, Status: &status}); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}

	// Exhaust July's quota.
	if err := service.RecordUsage(ctx, "u1", entitle.FeatureRecipeParsing, 50); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	decision, err := service.CanUseFeature(ctx, "u1", entitle.FeatureRecipeParsing)
	if err != nil {
		t.Fatalf("CanUseFeature: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected July quota exhausted")
	}

	// Cross into August: fresh bucket, no reset job needed.
	current = time.Date(2026, 8, 1, 0, 30, 0, 0, time.UTC)
	decision, err = service.CanUseFeature(ctx, "u1", entitle.FeatureRecipeParsing)
	if err != nil {
		t.Fatalf("CanUseFeature: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("August should start at zero usage: %q", decision.Reason)
	}
}
