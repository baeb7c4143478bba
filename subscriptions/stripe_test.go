package subscriptions

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kindfriend-backend/entitlement"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) DayWindow(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

type fakeLedger struct{}

func (fakeLedger) CountEvents(context.Context, int, entitlement.Action, time.Time, time.Time) (int, error) {
	return 0, nil
}

type fakeStore struct {
	subs      map[int]*entitlement.Subscription
	customers map[string]int
}

func (s *fakeStore) GetSubscription(_ context.Context, userID int) (*entitlement.Subscription, error) {
	return s.subs[userID], nil
}

func (s *fakeStore) FindUserByCustomerID(_ context.Context, customerID string) (int, error) {
	return s.customers[customerID], nil
}

func (s *fakeStore) UpsertSubscription(_ context.Context, userID int, sub entitlement.Subscription) error {
	s.subs[userID] = &sub
	return nil
}

type fakeLinker struct {
	linked map[int]string
}

func (l *fakeLinker) LinkCustomer(_ context.Context, userID int, customerID string) error {
	l.linked[userID] = customerID
	return nil
}

func testService(t *testing.T) (*StripeService, *fakeStore, *fakeLinker) {
	t.Helper()
	catalog, err := entitlement.NewCatalog([]entitlement.Tier{
		{Key: entitlement.PlanFree, Name: "Free", ChatDaily: 15},
		{Key: entitlement.PlanPro, Name: "Pro", ChatDaily: entitlement.Unlimited},
	}, 7, entitlement.PlanFree, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	store := &fakeStore{subs: map[int]*entitlement.Subscription{}, customers: map[string]int{}}
	engine := entitlement.NewEngine(catalog, fakeLedger{}, store, &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)})
	linker := &fakeLinker{linked: map[int]string{}}
	// Empty webhook secret: signature verification is skipped in tests.
	svc := NewStripeService(engine, linker, "sk_test_123", "", "https://ok", "https://no",
		map[string]entitlement.PlanKey{"price_pro": entitlement.PlanPro})
	return svc, store, linker
}

func deliver(t *testing.T, svc *StripeService, payload string) {
	t.Helper()
	req := httptest.NewRequest("POST", "/billing/webhook", strings.NewReader(payload))
	w := httptest.NewRecorder()
	if err := svc.HandleWebhook(w, req); err != nil {
		t.Fatalf("webhook: %v", err)
	}
}

const checkoutCompleted = `{
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_1", "customer": "cus_123", "subscription": "sub_1",
    "metadata": {"user_id": "42", "plan": "pro"}
  }}
}`

func TestWebhook_checkoutCompletedActivates(t *testing.T) {
	svc, store, linker := testService(t)
	store.customers["cus_123"] = 42

	deliver(t, svc, checkoutCompleted)

	if linker.linked[42] != "cus_123" {
		t.Errorf("customer not linked: %v", linker.linked)
	}
	sub := store.subs[42]
	if sub == nil || sub.Plan != entitlement.PlanPro || sub.Status != entitlement.StatusActive {
		t.Fatalf("subscription after checkout = %+v", sub)
	}
}

func TestWebhook_redelivery(t *testing.T) {
	svc, store, _ := testService(t)
	store.customers["cus_123"] = 42

	deliver(t, svc, checkoutCompleted)
	first := *store.subs[42]
	deliver(t, svc, checkoutCompleted)
	second := *store.subs[42]

	if first.Plan != second.Plan || first.Status != second.Status || first.ProviderSubID != second.ProviderSubID {
		t.Errorf("redelivery changed state: %+v vs %+v", first, second)
	}
}

func TestWebhook_subscriptionUpdatedPastDue(t *testing.T) {
	svc, store, _ := testService(t)
	store.customers["cus_123"] = 42

	deliver(t, svc, `{
	  "type": "customer.subscription.updated",
	  "data": {"object": {
	    "id": "sub_1", "customer": "cus_123", "status": "past_due",
	    "current_period_end": 1773200000,
	    "items": {"data": [{"price": {"id": "price_pro"}}]}
	  }}
	}`)

	sub := store.subs[42]
	if sub == nil || sub.Status != entitlement.StatusPastDue || sub.Plan != entitlement.PlanPro {
		t.Fatalf("subscription = %+v", sub)
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != 1773200000 {
		t.Errorf("period end = %v", sub.CurrentPeriodEnd)
	}
}

func TestWebhook_subscriptionDeletedCancels(t *testing.T) {
	svc, store, _ := testService(t)
	store.customers["cus_123"] = 42
	store.subs[42] = &entitlement.Subscription{Plan: entitlement.PlanPro, Status: entitlement.StatusActive}

	deliver(t, svc, `{
	  "type": "customer.subscription.deleted",
	  "data": {"object": {
	    "id": "sub_1", "customer": "cus_123", "status": "canceled",
	    "items": {"data": [{"price": {"id": "price_pro"}}]}
	  }}
	}`)

	if got := store.subs[42].Status; got != entitlement.StatusCanceled {
		t.Errorf("status = %q, want canceled", got)
	}
}

func TestWebhook_unknownCustomerIgnored(t *testing.T) {
	svc, store, _ := testService(t)

	deliver(t, svc, `{
	  "type": "customer.subscription.updated",
	  "data": {"object": {
	    "id": "sub_1", "customer": "cus_unlinked", "status": "active",
	    "items": {"data": [{"price": {"id": "price_pro"}}]}
	  }}
	}`)
	if len(store.subs) != 0 {
		t.Error("unknown customer wrote state")
	}
}

func TestWebhook_unmappedPriceIgnored(t *testing.T) {
	svc, store, _ := testService(t)
	store.customers["cus_123"] = 42

	deliver(t, svc, `{
	  "type": "customer.subscription.updated",
	  "data": {"object": {
	    "id": "sub_1", "customer": "cus_123", "status": "active",
	    "items": {"data": [{"price": {"id": "price_mystery"}}]}
	  }}
	}`)
	if len(store.subs) != 0 {
		t.Error("unmapped price wrote state")
	}
}

func TestWebhook_irrelevantEventAcknowledged(t *testing.T) {
	svc, store, _ := testService(t)
	deliver(t, svc, `{"type": "invoice.created", "data": {"object": {}}}`)
	if len(store.subs) != 0 {
		t.Error("irrelevant event wrote state")
	}
}

func TestCreateCheckoutSession_requiresConfiguredPrice(t *testing.T) {
	svc, _, _ := testService(t)
	if _, err := svc.CreateCheckoutSession(context.Background(), 1, entitlement.PlanFree); err == nil {
		t.Error("checkout for unpriced plan succeeded")
	}
}

func TestDisabledService(t *testing.T) {
	var svc *StripeService
	if _, err := svc.CreateCheckoutSession(context.Background(), 1, entitlement.PlanPro); err != ErrStripeDisabled {
		t.Errorf("disabled checkout err = %v", err)
	}
	req := httptest.NewRequest("POST", "/billing/webhook", strings.NewReader("{}"))
	if err := svc.HandleWebhook(httptest.NewRecorder(), req); err != ErrStripeDisabled {
		t.Errorf("disabled webhook err = %v", err)
	}
}
