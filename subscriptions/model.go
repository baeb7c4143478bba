package subscriptions

import (
	"time"

	"kindfriend-backend/entitlement"
)

// Record is the persisted subscription row, 1:1 with a user. Every user
// gets one at signup (plan=free, status=active); afterwards only webhook
// reconciliation rewrites it.
type Record struct {
	ID               int                 `json:"id"`
	UserID           int                 `json:"user_id"`
	Plan             entitlement.PlanKey `json:"plan"`
	Status           entitlement.Status  `json:"status"`
	StripeCustomerID string              `json:"stripe_customer_id,omitempty"`
	StripeSubID      string              `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd *time.Time          `json:"current_period_end,omitempty"`
	StartedAt        time.Time           `json:"started_at"`
}

// View converts to the entitlement engine's read model.
func (r *Record) View() *entitlement.Subscription {
	if r == nil {
		return nil
	}
	return &entitlement.Subscription{
		Plan:             r.Plan,
		Status:           r.Status,
		ProviderSubID:    r.StripeSubID,
		CurrentPeriodEnd: r.CurrentPeriodEnd,
		StartedAt:        r.StartedAt,
	}
}
