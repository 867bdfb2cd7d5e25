package stripewebhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/allowlist"
)

const testSecret = "whsec_test_secret"

func newTestStore(t *testing.T) *allowlist.Store {
	t.Helper()
	s, err := allowlist.Open(t.TempDir())
	if err != nil {
		t.Fatalf("allowlist.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestHandler(t *testing.T, store *allowlist.Store) (*Handler, *Reconciler) {
	t.Helper()
	rec := NewReconciler(store, store)
	rec.getCustomer = func(ctx context.Context, id string) (*stripelib.Customer, error) {
		return nil, fmt.Errorf("customer lookup not stubbed")
	}
	rec.getSubscription = func(ctx context.Context, id string) (*stripelib.Subscription, error) {
		return nil, fmt.Errorf("subscription lookup not stubbed")
	}
	return NewHandler(testSecret, rec), rec
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func mustProfile(t *testing.T, store *allowlist.Store, userID, email string) {
	t.Helper()
	if err := store.UpsertProfile(&allowlist.Profile{UserID: userID, Email: email}); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
}

func grantFor(t *testing.T, store *allowlist.Store, userID string) *allowlist.Grant {
	t.Helper()
	g, err := store.Get(userID)
	if err != nil {
		t.Fatalf("Get grant: %v", err)
	}
	return g
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := newTestStore(t)
	handler, _ := newTestHandler(t, store)

	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","mode":"subscription","customer_email":"fan@example.com"}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(payload)))
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if n, _ := store.Count(); n != 0 {
		t.Errorf("grant count = %d after rejected delivery, want 0", n)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	store := newTestStore(t)
	handler, _ := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookRequiresPost(t *testing.T) {
	handler, _ := newTestHandler(t, newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/stripe/webhook", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestWebhookWithoutSecretIsUnavailable(t *testing.T) {
	store := newTestStore(t)
	handler := NewHandler("", NewReconciler(store, store))

	req := signedWebhookRequest(t, testSecret, `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestWebhookCheckoutCompletedGrantsPremium(t *testing.T) {
	store := newTestStore(t)
	handler, _ := newTestHandler(t, store)
	mustProfile(t, store, "u1", "fan@example.com")

	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","mode":"subscription","customer":"cus_1","customer_email":"fan@example.com"}}}`
	req := signedWebhookRequest(t, testSecret, payload)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%q", rec.Code, rec.Body.String())
	}

	g := grantFor(t, store, "u1")
	if g == nil {
		t.Fatal("expected a grant after a completed checkout")
	}
	if g.GrantedBy != "stripe-webhook" {
		t.Errorf("GrantedBy = %q", g.GrantedBy)
	}

	// Redelivery converges on the same single grant.
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, signedWebhookRequest(t, testSecret, payload))
	if rec2.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", rec2.Code)
	}
	if n, _ := store.Count(); n != 1 {
		t.Errorf("grant count = %d after redelivery, want 1", n)
	}
}

func TestWebhookCheckoutCompletedFallsBackToCustomerDetails(t *testing.T) {
	store := newTestStore(t)
	handler, _ := newTestHandler(t, store)
	mustProfile(t, store, "u1", "fan@example.com")

	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","mode":"subscription","customer_details":{"email":"Fan@Example.com"}}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if grantFor(t, store, "u1") == nil {
		t.Error("expected the customer_details email to resolve the user")
	}
}

func TestWebhookCheckoutIgnoresNonSubscriptionMode(t *testing.T) {
	store := newTestStore(t)
	handler, _ := newTestHandler(t, store)
	mustProfile(t, store, "u1", "fan@example.com")

	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","mode":"payment","customer_email":"fan@example.com"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if grantFor(t, store, "u1") != nil {
		t.Error("one-time payments must not create grants")
	}
}

func TestWebhookUnknownEmailIsAcknowledged(t *testing.T) {
	store := newTestStore(t)
	handler, _ := newTestHandler(t, store)

	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","mode":"subscription","customer_email":"stranger@example.com"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))

	// No profile maps the email; the delivery is settled without a grant so
	// Stripe does not redeliver something that cannot succeed.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if n, _ := store.Count(); n != 0 {
		t.Errorf("grant count = %d, want 0", n)
	}
}

func TestWebhookSubscriptionUpdatedRefetchesLiveStatus(t *testing.T) {
	store := newTestStore(t)
	handler, reconciler := newTestHandler(t, store)
	mustProfile(t, store, "u1", "fan@example.com")

	liveStatus := stripelib.SubscriptionStatusActive
	reconciler.getSubscription = func(ctx context.Context, id string) (*stripelib.Subscription, error) {
		return &stripelib.Subscription{ID: id, Status: liveStatus}, nil
	}
	reconciler.getCustomer = func(ctx context.Context, id string) (*stripelib.Customer, error) {
		return &stripelib.Customer{ID: id, Email: "fan@example.com"}, nil
	}

	// The payload claims canceled, but the live fetch says active: the live
	// answer wins.
	payload := `{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","customer":"cus_1","status":"canceled"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%q", rec.Code, rec.Body.String())
	}
	if grantFor(t, store, "u1") == nil {
		t.Fatal("active live subscription should grant premium")
	}

	// Once the live status is no longer active, the same event leaves the
	// existing grant untouched.
	liveStatus = stripelib.SubscriptionStatusPastDue
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, signedWebhookRequest(t, testSecret, payload))
	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec2.Code)
	}
	if grantFor(t, store, "u1") == nil {
		t.Error("non-active lifecycle events must not revoke grants")
	}
}

func TestWebhookSubscriptionDeletedRevokes(t *testing.T) {
	store := newTestStore(t)
	handler, reconciler := newTestHandler(t, store)
	mustProfile(t, store, "u1", "fan@example.com")
	if err := store.Upsert(&allowlist.Grant{UserID: "u1", GrantedBy: "stripe-webhook"}); err != nil {
		t.Fatalf("seed grant: %v", err)
	}
	reconciler.getCustomer = func(ctx context.Context, id string) (*stripelib.Customer, error) {
		return &stripelib.Customer{ID: id, Email: "fan@example.com"}, nil
	}

	payload := `{"id":"evt_1","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","customer":"cus_1"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if grantFor(t, store, "u1") != nil {
		t.Error("subscription deletion must revoke the grant")
	}

	// Revoking an already-revoked grant stays acknowledged.
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, signedWebhookRequest(t, testSecret, payload))
	if rec2.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", rec2.Code)
	}
}

func TestWebhookPaymentFailedRevokes(t *testing.T) {
	store := newTestStore(t)
	handler, _ := newTestHandler(t, store)
	mustProfile(t, store, "u1", "fan@example.com")
	if err := store.Upsert(&allowlist.Grant{UserID: "u1"}); err != nil {
		t.Fatalf("seed grant: %v", err)
	}

	payload := `{"id":"evt_1","type":"invoice.payment_failed","data":{"object":{"id":"in_1","customer":"cus_1","customer_email":"fan@example.com","subscription":"sub_1"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if grantFor(t, store, "u1") != nil {
		t.Error("failed payment must revoke the grant")
	}
}

func TestWebhookStripeLookupFailureTriggersRetry(t *testing.T) {
	store := newTestStore(t)
	handler, _ := newTestHandler(t, store)
	mustProfile(t, store, "u1", "fan@example.com")

	// getSubscription is unstubbed and errors: the handler must answer 500
	// so Stripe redelivers once the API is reachable again.
	payload := `{"id":"evt_1","type":"customer.subscription.created","data":{"object":{"id":"sub_1","customer":"cus_1","status":"active"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500, body=%q", rec.Code, rec.Body.String())
	}
}

func TestWebhookUnhandledEventIsAcknowledged(t *testing.T) {
	store := newTestStore(t)
	handler, _ := newTestHandler(t, store)

	payload := `{"id":"evt_1","type":"customer.created","data":{"object":{"id":"cus_1"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
