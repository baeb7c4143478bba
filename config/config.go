// Package config builds the process-wide configuration object once at
// startup. Everything downstream receives it by reference; nothing reads
// the environment after Load returns. A misconfigured plan table or time
// zone is a fatal startup error, not a silent fallback to free allowances.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"kindfriend-backend/entitlement"
)

type Config struct {
	Addr     string
	TimeZone *time.Location
	Catalog  *entitlement.Catalog

	// Burst throttle for chat-facing endpoints, tokens per minute per identity.
	ChatRatePerMinute int

	OpenAIKey string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	// Maps Stripe price ids to validated plan keys, built at load time so a
	// typo in a price mapping fails the boot instead of a live checkout.
	PriceToPlan map[string]entitlement.PlanKey
}

// defaultTiers is the built-in plan table. A zero limit means the tier
// never gets the action; entitlement.Unlimited disables the cap.
func defaultTiers() []entitlement.Tier {
	return []entitlement.Tier{
		{
			Key: entitlement.PlanFree, Name: "Free", Price: 0, Currency: "usd",
			ChatDaily: 15, CoachDaily: 1, MemoryLimit: 25,
			Model: "gpt-4o-mini", MaxTokens: 400,
		},
		{
			Key: entitlement.PlanPlus, Name: "Plus", Price: 7.99, Currency: "usd",
			ChatDaily: 150, CoachDaily: 5, MemoryLimit: 200,
			AllowSearch: true, AllowMood: true,
			Model: "gpt-4o-mini", MaxTokens: 800,
		},
		{
			Key: entitlement.PlanPro, Name: "Pro", Price: 14.99, Currency: "usd",
			ChatDaily: entitlement.Unlimited, CoachDaily: 15, MemoryLimit: entitlement.Unlimited,
			AllowSearch: true, AllowExport: true, AllowMood: true,
			Model: "gpt-4o", MaxTokens: 1500,
		},
	}
}

func Load() (*Config, error) {
	addr := ":" + envOr("PORT", "8080")

	tzName := envOr("APP_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("config: invalid APP_TIMEZONE %q: %w", tzName, err)
	}

	trialDays, err := envInt("TRIAL_DAYS", 7)
	if err != nil {
		return nil, err
	}
	rate, err := envInt("CHAT_RATE_PER_MINUTE", 20)
	if err != nil {
		return nil, err
	}

	tiers := defaultTiers()
	catalog, err := entitlement.NewCatalog(tiers, trialDays, entitlement.PlanKey(envOr("TRIAL_PLAN", string(entitlement.PlanPlus))), loc)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Addr:                addr,
		TimeZone:            loc,
		Catalog:             catalog,
		ChatRatePerMinute:   rate,
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeSuccessURL:    envOr("STRIPE_SUCCESS_URL", "https://example.com/billing/success"),
		StripeCancelURL:     envOr("STRIPE_CANCEL_URL", "https://example.com/billing/cancel"),
		PriceToPlan:         map[string]entitlement.PlanKey{},
	}

	// Price mappings are optional per tier but each one present must name a
	// plan the catalog knows.
	for _, pair := range []struct{ env, plan string }{
		{"STRIPE_PRICE_PLUS", string(entitlement.PlanPlus)},
		{"STRIPE_PRICE_PRO", string(entitlement.PlanPro)},
	} {
		priceID := os.Getenv(pair.env)
		if priceID == "" {
			continue
		}
		key, err := catalog.Parse(pair.plan)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", pair.env, err)
		}
		cfg.PriceToPlan[priceID] = key
	}

	return cfg, nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", name, v)
	}
	return n, nil
}
