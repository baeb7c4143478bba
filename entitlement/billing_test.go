package entitlement

import (
	"context"
	"testing"
	"time"
)

func TestApplyBillingEvent_upgradeTakesEffectImmediately(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e, _, store := newTestEngine(t, now, time.UTC)
	ctx := context.Background()
	store.customers["cus_123"] = 42

	err := e.ApplyBillingEvent(ctx, BillingEvent{
		CustomerID:    "cus_123",
		Plan:          PlanPro,
		Status:        StatusActive,
		ProviderSubID: "sub_1",
	})
	if err != nil {
		t.Fatal(err)
	}

	// No restart, no re-auth: the very next resolution sees pro.
	key, _, err := e.EffectivePlan(ctx, 42, now.AddDate(0, 0, -90))
	if err != nil {
		t.Fatal(err)
	}
	if key != PlanPro {
		t.Errorf("plan after webhook = %q, want pro", key)
	}
}

func TestApplyBillingEvent_idempotent(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e, _, store := newTestEngine(t, now, time.UTC)
	ctx := context.Background()
	store.customers["cus_123"] = 42

	periodEnd := now.AddDate(0, 1, 0)
	evt := BillingEvent{
		CustomerID:       "cus_123",
		Plan:             PlanPlus,
		Status:           StatusActive,
		ProviderSubID:    "sub_1",
		CurrentPeriodEnd: &periodEnd,
	}
	if err := e.ApplyBillingEvent(ctx, evt); err != nil {
		t.Fatal(err)
	}
	first := *store.subs[42]
	if err := e.ApplyBillingEvent(ctx, evt); err != nil {
		t.Fatal(err)
	}
	second := *store.subs[42]

	if first.Plan != second.Plan || first.Status != second.Status ||
		first.ProviderSubID != second.ProviderSubID ||
		!first.CurrentPeriodEnd.Equal(*second.CurrentPeriodEnd) {
		t.Errorf("replay changed state: %+v vs %+v", first, second)
	}
}

func TestApplyBillingEvent_unknownCustomerIsNoop(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e, _, store := newTestEngine(t, now, time.UTC)

	err := e.ApplyBillingEvent(context.Background(), BillingEvent{
		CustomerID: "cus_never_seen",
		Plan:       PlanPro,
		Status:     StatusActive,
	})
	if err != nil {
		t.Fatalf("unknown customer raised: %v", err)
	}
	if len(store.subs) != 0 {
		t.Error("unknown customer wrote a subscription")
	}
}

func TestApplyBillingEvent_rejectsUnknownPlan(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e, _, store := newTestEngine(t, now, time.UTC)
	store.customers["cus_123"] = 42

	err := e.ApplyBillingEvent(context.Background(), BillingEvent{
		CustomerID: "cus_123",
		Plan:       "prro",
		Status:     StatusActive,
	})
	if err == nil {
		t.Fatal("typo plan key applied")
	}
}

func TestApplyBillingEvent_cancellationDemotesAtResolution(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e, _, store := newTestEngine(t, now, time.UTC)
	ctx := context.Background()
	store.customers["cus_123"] = 42
	store.subs[42] = &Subscription{Plan: PlanPro, Status: StatusActive}

	if err := e.ApplyBillingEvent(ctx, BillingEvent{
		CustomerID: "cus_123",
		Plan:       PlanPro,
		Status:     StatusCanceled,
	}); err != nil {
		t.Fatal(err)
	}
	// The stored plan still says pro; resolution demotes.
	if store.subs[42].Plan != PlanPro {
		t.Fatalf("stored plan rewritten to %q", store.subs[42].Plan)
	}
	key, _, err := e.EffectivePlan(ctx, 42, now.AddDate(0, 0, -90))
	if err != nil {
		t.Fatal(err)
	}
	if key != PlanFree {
		t.Errorf("canceled sub resolves to %q, want free", key)
	}
}
