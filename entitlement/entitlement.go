// Package entitlement decides whether a user may perform a gated action
// right now, given their plan tier, trial window, subscription status and
// usage history. It owns no HTTP surface and performs no billing calls; it
// reads the subscription store and the usage ledger and hands the answer
// back to the request layer.
package entitlement

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Status mirrors the billing provider's subscription status values.
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
)

// Entitled reports whether the status still grants the stored plan.
// past_due keeps access provisionally while the provider retries payment;
// everything else demotes to free at resolution time.
func (s Status) Entitled() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// Subscription is the engine's read view of a user's subscription record.
type Subscription struct {
	Plan             PlanKey
	Status           Status
	ProviderSubID    string
	CurrentPeriodEnd *time.Time
	StartedAt        time.Time
}

// TrialWindow is derived from the account creation time, never stored.
type TrialWindow struct {
	Start time.Time
	End   time.Time
}

func (w TrialWindow) Contains(t time.Time) bool {
	return t.Before(w.End)
}

// TrialWindowFor computes the window granted at signup.
func TrialWindowFor(createdAt time.Time, days int) TrialWindow {
	return TrialWindow{Start: createdAt, End: createdAt.AddDate(0, 0, days)}
}

// Clock supplies "now" and local day boundaries in the application's
// configured zone. Daily quotas reset at the user-facing midnight, not UTC.
type Clock interface {
	Now() time.Time
	// DayWindow returns [start, end) of the local calendar day containing t.
	DayWindow(t time.Time) (time.Time, time.Time)
}

// Ledger is the count-in-range read contract against the usage event log.
// A zero since means "from the beginning" (lifetime caps).
type Ledger interface {
	CountEvents(ctx context.Context, userID int, kind Action, since, until time.Time) (int, error)
}

// Store is the subscription record store the engine reads and reconciles.
type Store interface {
	GetSubscription(ctx context.Context, userID int) (*Subscription, error)
	// FindUserByCustomerID resolves a billing-provider customer reference
	// to a local user id, returning 0 when no user is linked yet.
	FindUserByCustomerID(ctx context.Context, customerID string) (int, error)
	UpsertSubscription(ctx context.Context, userID int, sub Subscription) error
}

// Decision is the outcome of a quota check. Remaining is -1 on unlimited
// tiers. A denied decision is a normal result, not an error; errors mean
// the engine could not determine usage at all.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
}

type Engine struct {
	catalog *Catalog
	ledger  Ledger
	store   Store
	clock   Clock
}

func NewEngine(catalog *Catalog, ledger Ledger, store Store, clock Clock) *Engine {
	return &Engine{catalog: catalog, ledger: ledger, store: store, clock: clock}
}

func (e *Engine) Catalog() *Catalog { return e.catalog }
func (e *Engine) Now() time.Time    { return e.clock.Now() }

// ResolveEffectivePlan is a pure function of the subscription record, the
// trial window and the wall clock. Priority: entitled paid subscription,
// then an unexpired trial, then free. Signup provisions every account a
// free/active row, so an entitled free plan falls through to the trial
// check instead of masking it. The result is never cached across requests;
// trial expiry is a function of time.
func (e *Engine) ResolveEffectivePlan(sub *Subscription, trial TrialWindow, now time.Time) PlanKey {
	if sub != nil && sub.Status.Entitled() && sub.Plan != PlanFree {
		return sub.Plan
	}
	if trial.Contains(now) {
		return e.catalog.trialPlan
	}
	return PlanFree
}

// EffectivePlan resolves the plan for a stored user. accountCreatedAt
// seeds the trial window.
func (e *Engine) EffectivePlan(ctx context.Context, userID int, accountCreatedAt time.Time) (PlanKey, *Tier, error) {
	sub, err := e.store.GetSubscription(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("entitlement: load subscription for user %d: %w", userID, err)
	}
	trial := TrialWindowFor(accountCreatedAt, e.catalog.trialDays)
	key := e.ResolveEffectivePlan(sub, trial, e.clock.Now())
	return key, e.catalog.Tier(key), nil
}

// CheckQuota decides whether one more action of the given kind fits in the
// plan's allowance. The window is the local calendar day for daily actions
// and unbounded for lifetime caps. The engine never appends to the ledger:
// the caller records the event only after the action actually succeeds, so
// failed downstream calls are not counted.
func (e *Engine) CheckQuota(ctx context.Context, userID int, kind Action, plan PlanKey, now time.Time) (Decision, error) {
	tier := e.catalog.Tier(plan)
	if tier == nil {
		return Decision{}, fmt.Errorf("entitlement: plan %q not in catalog", plan)
	}
	limit := tier.LimitFor(kind)
	if limit == Unlimited {
		return Decision{Allowed: true, Remaining: int(Unlimited)}, nil
	}
	var since, until time.Time
	if kind.Daily() {
		since, until = e.clock.DayWindow(now)
	} else {
		until = now
	}
	used, err := e.ledger.CountEvents(ctx, userID, kind, since, until)
	if err != nil {
		return Decision{}, fmt.Errorf("entitlement: count %s for user %d: %w", kind, userID, err)
	}
	return Decision{
		Allowed:   limit.Allows(used),
		Used:      used,
		Remaining: limit.Remaining(used),
	}, nil
}

// BillingEvent carries the subscription state a provider webhook delivered.
// Providers send the full current state on each event, so applying the
// same event twice is harmless and ordering needs no special handling.
type BillingEvent struct {
	CustomerID       string
	Plan             PlanKey
	Status           Status
	ProviderSubID    string
	CurrentPeriodEnd *time.Time
}

// ApplyBillingEvent reconciles the stored subscription with webhook state.
// Idempotent upsert keyed by the customer reference; an unknown customer is
// logged and ignored, since webhooks can arrive before the customer-linking
// write completes, or for test events.
func (e *Engine) ApplyBillingEvent(ctx context.Context, evt BillingEvent) error {
	if _, err := e.catalog.Parse(string(evt.Plan)); err != nil {
		return err
	}
	userID, err := e.store.FindUserByCustomerID(ctx, evt.CustomerID)
	if err != nil {
		return fmt.Errorf("entitlement: resolve customer %s: %w", evt.CustomerID, err)
	}
	if userID == 0 {
		log.Printf("[entitlement][skip] customer=%s reason=unknown_customer status=%s plan=%s", evt.CustomerID, evt.Status, evt.Plan)
		return nil
	}
	sub := Subscription{
		Plan:             evt.Plan,
		Status:           evt.Status,
		ProviderSubID:    evt.ProviderSubID,
		CurrentPeriodEnd: evt.CurrentPeriodEnd,
		StartedAt:        e.clock.Now(),
	}
	if err := e.store.UpsertSubscription(ctx, userID, sub); err != nil {
		return fmt.Errorf("entitlement: upsert subscription for user %d: %w", userID, err)
	}
	log.Printf("[entitlement][sync] user_id=%d customer=%s plan=%s status=%s", userID, evt.CustomerID, evt.Plan, evt.Status)
	return nil
}
