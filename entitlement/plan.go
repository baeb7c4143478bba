package entitlement

import (
	"fmt"
	"time"
)

// PlanKey identifies a plan tier. Values are only produced by Catalog.Parse
// or the package constants, so an invalid key cannot circulate past the
// config/webhook boundary.
type PlanKey string

const (
	PlanFree PlanKey = "free"
	PlanPlus PlanKey = "plus"
	PlanPro  PlanKey = "pro"
)

// Limit is an allowance for a countable action. Zero means the action is
// never allowed on that tier; Unlimited disables the cap entirely.
type Limit int

const Unlimited Limit = -1

func (l Limit) Allows(used int) bool {
	if l == Unlimited {
		return true
	}
	return used < int(l)
}

// Remaining returns how many uses are left, clamped at 0.
func (l Limit) Remaining(used int) int {
	if l == Unlimited {
		return int(Unlimited)
	}
	if rem := int(l) - used; rem > 0 {
		return rem
	}
	return 0
}

// Action is a countable user action recorded in the usage ledger.
type Action string

const (
	ActionChatMessage     Action = "chat_message"
	ActionCoachingSession Action = "coaching_session"
	ActionMemoryItem      Action = "memory_item"
)

// Daily reports whether the action resets at local midnight. Memory items
// are capped over the account lifetime instead.
func (a Action) Daily() bool {
	return a != ActionMemoryItem
}

// Tier bundles the allowances and feature flags of one plan.
type Tier struct {
	Key         PlanKey `json:"key"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	ChatDaily   Limit   `json:"chat_daily"`
	CoachDaily  Limit   `json:"coach_daily"`
	MemoryLimit Limit   `json:"memory_limit"`
	AllowSearch bool    `json:"allow_search"`
	AllowExport bool    `json:"allow_export"`
	AllowMood   bool    `json:"allow_mood"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
}

// LimitFor returns the tier's allowance for an action.
func (t *Tier) LimitFor(a Action) Limit {
	switch a {
	case ActionChatMessage:
		return t.ChatDaily
	case ActionCoachingSession:
		return t.CoachDaily
	case ActionMemoryItem:
		return t.MemoryLimit
	}
	return 0
}

// Catalog is the immutable plan table plus trial policy, built once at
// startup and passed by reference wherever plans are resolved.
type Catalog struct {
	tiers     map[PlanKey]*Tier
	order     []PlanKey
	trialDays int
	trialPlan PlanKey
	location  *time.Location
}

// NewCatalog validates the plan table up front: a free tier must exist,
// the trial plan must be a known key, and trial days must not be negative.
// A broken catalog is a startup failure, never a silent default.
func NewCatalog(tiers []Tier, trialDays int, trialPlan PlanKey, loc *time.Location) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("entitlement: empty plan table")
	}
	if loc == nil {
		return nil, fmt.Errorf("entitlement: nil time zone")
	}
	if trialDays < 0 {
		return nil, fmt.Errorf("entitlement: negative trial days %d", trialDays)
	}
	c := &Catalog{
		tiers:     make(map[PlanKey]*Tier, len(tiers)),
		trialDays: trialDays,
		trialPlan: trialPlan,
		location:  loc,
	}
	for i := range tiers {
		t := tiers[i]
		if t.Key == "" {
			return nil, fmt.Errorf("entitlement: tier %q has empty key", t.Name)
		}
		if _, dup := c.tiers[t.Key]; dup {
			return nil, fmt.Errorf("entitlement: duplicate plan key %q", t.Key)
		}
		c.tiers[t.Key] = &t
		c.order = append(c.order, t.Key)
	}
	if _, ok := c.tiers[PlanFree]; !ok {
		return nil, fmt.Errorf("entitlement: plan table has no %q tier", PlanFree)
	}
	if _, ok := c.tiers[trialPlan]; !ok {
		return nil, fmt.Errorf("entitlement: trial plan %q is not in the plan table", trialPlan)
	}
	return c, nil
}

// Parse validates a plan key coming from config or a webhook payload.
func (c *Catalog) Parse(raw string) (PlanKey, error) {
	key := PlanKey(raw)
	if _, ok := c.tiers[key]; !ok {
		return "", fmt.Errorf("entitlement: unknown plan key %q", raw)
	}
	return key, nil
}

// Tier returns the tier for a key previously validated by Parse.
func (c *Catalog) Tier(key PlanKey) *Tier {
	return c.tiers[key]
}

// Tiers lists the tiers in their configured order.
func (c *Catalog) Tiers() []*Tier {
	out := make([]*Tier, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.tiers[k])
	}
	return out
}

func (c *Catalog) TrialDays() int           { return c.trialDays }
func (c *Catalog) TrialPlan() PlanKey       { return c.trialPlan }
func (c *Catalog) Location() *time.Location { return c.location }
