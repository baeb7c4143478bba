package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"kindfriend-backend/entitlement"
)

// StripeService creates checkout sessions and feeds webhook-delivered
// subscription state into the entitlement engine. It never decides
// entitlements itself; after signature verification it only extracts
// customer/plan/status/period-end and hands them to ApplyBillingEvent.
// CustomerLinker stores the provider customer reference on an account;
// *Repository implements it.
type CustomerLinker interface {
	LinkCustomer(ctx context.Context, userID int, customerID string) error
}

type StripeService struct {
	engine        *entitlement.Engine
	repo          CustomerLinker
	sc            *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	priceToPlan   map[string]entitlement.PlanKey
	planToPrice   map[entitlement.PlanKey]string
}

var ErrStripeDisabled = errors.New("stripe not configured")

// NewStripeService returns nil when no secret key is configured; billing
// endpoints then answer with ErrStripeDisabled.
func NewStripeService(engine *entitlement.Engine, repo CustomerLinker, secretKey, webhookSecret, successURL, cancelURL string, priceToPlan map[string]entitlement.PlanKey) *StripeService {
	if secretKey == "" {
		return nil
	}
	sc := &client.API{}
	sc.Init(secretKey, nil)
	planToPrice := make(map[entitlement.PlanKey]string, len(priceToPlan))
	for price, plan := range priceToPlan {
		planToPrice[plan] = price
	}
	return &StripeService{
		engine:        engine,
		repo:          repo,
		sc:            sc,
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		priceToPlan:   priceToPlan,
		planToPrice:   planToPrice,
	}
}

// CreateCheckoutSession starts a subscription checkout for a paid plan.
// The user id travels in the session metadata so the completion webhook
// can link the Stripe customer back to the account.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, userID int, plan entitlement.PlanKey) (string, error) {
	if s == nil {
		return "", ErrStripeDisabled
	}
	priceID, ok := s.planToPrice[plan]
	if !ok {
		return "", fmt.Errorf("plan %q has no price configured", plan)
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		Metadata: map[string]string{
			"user_id": strconv.Itoa(userID),
			"plan":    string(plan),
		},
	}
	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		log.Printf("[stripe][checkout] user_id=%d plan=%s err=%v", userID, plan, err)
		return "", err
	}
	return sess.URL, nil
}

// webhookEvent is the minimal shape we read out of Stripe's payload.
type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string            `json:"id"`
			Customer         string            `json:"customer"`
			Subscription     string            `json:"subscription"`
			Status           string            `json:"status"`
			CurrentPeriodEnd int64             `json:"current_period_end"`
			Metadata         map[string]string `json:"metadata"`
			Items            struct {
				Data []struct {
					Price struct {
						ID string `json:"id"`
					} `json:"price"`
				} `json:"data"`
			} `json:"items"`
		} `json:"object"`
	} `json:"data"`
}

// HandleWebhook verifies the signature, then reconciles. Stripe delivers
// at least once, so every branch here must tolerate replays; the engine's
// upsert makes that free. Unknown event types are acknowledged and dropped.
func (s *StripeService) HandleWebhook(w http.ResponseWriter, r *http.Request) error {
	if s == nil {
		return ErrStripeDisabled
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	sig := r.Header.Get("Stripe-Signature")
	if s.webhookSecret != "" {
		if _, err := webhook.ConstructEvent(payload, sig, s.webhookSecret); err != nil {
			return fmt.Errorf("invalid signature: %w", err)
		}
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}

	switch event.Type {
	case "checkout.session.completed":
		err = s.handleCheckoutCompleted(r.Context(), event)
	case "customer.subscription.updated":
		err = s.handleSubscriptionState(r.Context(), event, "")
	case "customer.subscription.deleted":
		err = s.handleSubscriptionState(r.Context(), event, entitlement.StatusCanceled)
	default:
		log.Printf("[stripe][webhook] type=%s ignored", event.Type)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ignored"))
		return nil
	}
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
	return nil
}

// handleCheckoutCompleted links the new Stripe customer to the account in
// the metadata, then applies the active state. Linking first means the
// follow-up subscription.updated webhook can already find the user.
func (s *StripeService) handleCheckoutCompleted(ctx context.Context, event webhookEvent) error {
	obj := event.Data.Object
	userID, _ := strconv.Atoi(obj.Metadata["user_id"])
	if userID == 0 || obj.Customer == "" {
		log.Printf("[stripe][webhook] type=%s reason=incomplete_metadata customer=%s", event.Type, obj.Customer)
		return nil
	}
	plan, err := s.engine.Catalog().Parse(obj.Metadata["plan"])
	if err != nil {
		log.Printf("[stripe][webhook] type=%s user_id=%d err=%v", event.Type, userID, err)
		return nil
	}
	if err := s.repo.LinkCustomer(ctx, userID, obj.Customer); err != nil {
		return err
	}
	return s.engine.ApplyBillingEvent(ctx, entitlement.BillingEvent{
		CustomerID:    obj.Customer,
		Plan:          plan,
		Status:        entitlement.StatusActive,
		ProviderSubID: obj.Subscription,
	})
}

// handleSubscriptionState applies updated/deleted subscription objects.
// statusOverride forces canceled on deletion; otherwise the provider's
// status string is applied as delivered.
func (s *StripeService) handleSubscriptionState(ctx context.Context, event webhookEvent, statusOverride entitlement.Status) error {
	obj := event.Data.Object
	if obj.Customer == "" {
		log.Printf("[stripe][webhook] type=%s reason=no_customer", event.Type)
		return nil
	}
	plan, err := s.planFromItems(event)
	if err != nil {
		log.Printf("[stripe][webhook] type=%s customer=%s err=%v", event.Type, obj.Customer, err)
		return nil
	}
	status := entitlement.Status(obj.Status)
	if statusOverride != "" {
		status = statusOverride
	}
	var periodEnd *time.Time
	if obj.CurrentPeriodEnd > 0 {
		t := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}
	return s.engine.ApplyBillingEvent(ctx, entitlement.BillingEvent{
		CustomerID:       obj.Customer,
		Plan:             plan,
		Status:           status,
		ProviderSubID:    obj.ID,
		CurrentPeriodEnd: periodEnd,
	})
}

func (s *StripeService) planFromItems(event webhookEvent) (entitlement.PlanKey, error) {
	items := event.Data.Object.Items.Data
	if len(items) == 0 {
		return "", errors.New("subscription has no items")
	}
	plan, ok := s.priceToPlan[items[0].Price.ID]
	if !ok {
		return "", fmt.Errorf("unmapped price id %q", items[0].Price.ID)
	}
	return plan, nil
}
