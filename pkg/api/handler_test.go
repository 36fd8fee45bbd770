package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pantryplan/entitle/pkg/api"
	"github.com/pantryplan/entitle/pkg/entitle"
	"github.com/pantryplan/entitle/storage/memory"
)

func newTestHandler(t *testing.T) (*api.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	service, err := entitle.NewService(store, entitle.Config{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	handler, err := api.NewHandler(api.Config{
		Service:   service,
		GetUserID: api.FromHeader("X-User-ID"),
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return handler, store
}

func doGet(t *testing.T, h http.HandlerFunc, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestConfigValidation(t *testing.T) {
	if _, err := api.NewHandler(api.Config{}); err == nil {
		t.Error("expected error for missing service")
	}

	store := memory.New()
	service, _ := entitle.NewService(store, entitle.Config{})
	if _, err := api.NewHandler(api.Config{Service: service}); err == nil {
		t.Error("expected error for missing GetUserID")
	}
}

func TestGetSubscriptionUnauthorized(t *testing.T) {
	handler, _ := newTestHandler(t)

	w := doGet(t, handler.GetSubscription, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGetSubscriptionDefaultsToFree(t *testing.T) {
	handler, _ := newTestHandler(t)

	w := doGet(t, handler.GetSubscription, "user1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp api.SubscriptionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tier != "free" || !resp.Active {
		t.Errorf("resp = %+v, want free/active view", resp)
	}
}

func TestGetSubscriptionReflectsRow(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()

	tier := entitle.TierFamily
	status := entitle.StatusTrialing
	trialEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	cancel := true
	if _, err := store.UpsertSubscription(ctx, "user1", entitle.SubscriptionPatch{
		Tier:              &tier,
		Status:            &status,
		TrialEndsAt:       &trialEnd,
		CancelAtPeriodEnd: &cancel,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := doGet(t, handler.GetSubscription, "user1")
	var resp api.SubscriptionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tier != "family" || resp.Status != "trialing" {
		t.Errorf("resp = %+v", resp)
	}
	if !resp.Active {
		t.Error("trialing should report active")
	}
	if !resp.CancelAtPeriodEnd {
		t.Error("cancel flag missing")
	}
	if resp.TrialEndsAt == nil || !resp.TrialEndsAt.Equal(trialEnd) {
		t.Errorf("trial end = %v", resp.TrialEndsAt)
	}
}

func TestGetUsage(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()

	tier := entitle.TierFamily
	status := entitle.StatusActive
	if _, err := store.UpsertSubscription(ctx, "user1", entitle.SubscriptionPatch{
		Tier:   &tier,
		Status: &status,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	bucket := entitle.BucketKey(time.Now())
	if _, err := store.AddUsage(ctx, "user1", entitle.FeatureRecipeParsing, 12, bucket); err != nil {
		t.Fatalf("AddUsage: %v", err)
	}

	w := doGet(t, handler.GetUsage, "user1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp api.UsageResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tier != "family" {
		t.Errorf("tier = %s", resp.Tier)
	}
	if resp.Period != bucket {
		t.Errorf("period = %s, want %s", resp.Period, bucket)
	}

	parsing, ok := resp.Features[entitle.FeatureRecipeParsing]
	if !ok {
		t.Fatalf("parsing missing from %v", resp.Features)
	}
	if parsing.Used != 12 || parsing.Limit != 50 || parsing.Remaining != 38 {
		t.Errorf("parsing = %+v", parsing)
	}
	if !parsing.Included {
		t.Error("parsing should be included")
	}

	// Limit 0 features are reported but not included.
	insights, ok := resp.Features[entitle.FeatureNutritionInsights]
	if !ok {
		t.Fatalf("nutrition insights missing")
	}
	if insights.Included {
		t.Error("zero-limit feature reported as included")
	}
}

func TestGetUsageUnlimited(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()

	tier := entitle.TierPremium
	status := entitle.StatusActive
	if _, err := store.UpsertSubscription(ctx, "user1", entitle.SubscriptionPatch{
		Tier:   &tier,
		Status: &status,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := doGet(t, handler.GetUsage, "user1")
	var resp api.UsageResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	parsing := resp.Features[entitle.FeatureRecipeParsing]
	if parsing.Limit != -1 || parsing.Remaining != -1 {
		t.Errorf("unlimited sentinel lost: %+v", parsing)
	}
}

func TestGetUsageNoRow(t *testing.T) {
	handler, _ := newTestHandler(t)

	w := doGet(t, handler.GetUsage, "newuser")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp api.UsageResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tier != "free" {
		t.Errorf("tier = %s", resp.Tier)
	}
	if len(resp.Features) == 0 {
		t.Error("free catalog features missing for user without a row")
	}
	for name, fu := range resp.Features {
		if fu.Used != 0 {
			t.Errorf("feature %s has nonzero usage for fresh user", name)
		}
	}
}
