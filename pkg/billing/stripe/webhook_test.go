package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pantryplan/entitle/pkg/entitle"
	"github.com/pantryplan/entitle/storage/memory"
)

const testWebhookSecret = "whsec_test"

// signBody produces a Stripe-Signature header the verifier accepts.
func signBody(body []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventBody(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test",
		"object": "event",
		"api_version": %q,
		"created": %d,
		"type": %q,
		"data": {"object": %s}
	}`, stripe.APIVersion, time.Now().Unix(), eventType, object))
}

func postWebhook(t *testing.T, provider *Provider, body []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(body)))
	if sign {
		req.Header.Set("Stripe-Signature", signBody(body))
	}
	w := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsNonPost(t *testing.T) {
	provider, _ := newTestProvider(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	w := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestWebhookRejectsUnsignedPayload(t *testing.T) {
	provider, _ := newTestProvider(t)

	body := eventBody("checkout.session.completed", `{"id": "cs_1"}`)
	w := postWebhook(t, provider, body, false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestWebhookRejectsTamperedPayload(t *testing.T) {
	provider, _ := newTestProvider(t)

	body := eventBody("checkout.session.completed", `{"id": "cs_1"}`)
	sig := signBody(body)
	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = 'X'

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(tampered)))
	req.Header.Set("Stripe-Signature", sig)
	w := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestWebhookAppliesCheckoutCompleted(t *testing.T) {
	provider, store := newTestProvider(t)

	object := `{
		"id": "cs_1",
		"mode": "subscription",
		"customer": "cus_1",
		"subscription": "sub_1",
		"amount_total": 499,
		"currency": "usd",
		"metadata": {"user_id": "user1", "tier": "family"}
	}`
	w := postWebhook(t, provider, eventBody("checkout.session.completed", object), true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	sub, err := store.GetSubscription(context.Background(), "user1")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.Tier != entitle.TierFamily || sub.Status != entitle.StatusActive {
		t.Errorf("row = %s/%s, want family/active", sub.Tier, sub.Status)
	}
}

func TestWebhookAcksIgnoredEventTypes(t *testing.T) {
	provider, _ := newTestProvider(t)

	w := postWebhook(t, provider, eventBody("customer.created", `{"id": "cus_1"}`), true)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for ignored type", w.Code)
	}
}

func TestWebhookAcksUnknownSubject(t *testing.T) {
	provider, _ := newTestProvider(t)

	// No stored mapping for cus_ghost; redelivery cannot help.
	object := `{"id": "sub_1", "customer": "cus_ghost", "status": "canceled"}`
	w := postWebhook(t, provider, eventBody("customer.subscription.deleted", object), true)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for unknown subject", w.Code)
	}
}

func TestWebhookRejectsMalformedEvent(t *testing.T) {
	provider, _ := newTestProvider(t)

	// Valid JSON for the envelope, but a checkout without any user
	// metadata is terminally unusable.
	object := `{"id": "cs_1", "mode": "subscription", "currency": "usd"}`
	w := postWebhook(t, provider, eventBody("checkout.session.completed", object), true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWebhookNotConfigured(t *testing.T) {
	provider, err := NewProvider(Config{
		APIKey: "sk_test_123",
		Store:  memory.New(),
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	body := eventBody("checkout.session.completed", `{"id": "cs_1"}`)
	w := postWebhook(t, provider, body, false)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without webhook secret", w.Code)
	}
}
