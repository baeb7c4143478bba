package subscriptions

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"kindfriend-backend/entitlement"
	"kindfriend-backend/login"
)

type Handler struct {
	repo   *Repository
	engine *entitlement.Engine
	stripe *StripeService
}

func NewHandler(repo *Repository, engine *entitlement.Engine, stripe *StripeService) *Handler {
	return &Handler{repo: repo, engine: engine, stripe: stripe}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/plans", h.getPlans)
	r.POST("/billing/webhook", h.webhook)

	auth := r.Group("/", login.RequireAuth())
	auth.GET("/subscription", h.getSubscription)
	auth.POST("/billing/checkout", h.checkout)
}

// getPlans serves the static catalog; plans live in config, not the DB.
func (h *Handler) getPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.engine.Catalog().Tiers()})
}

// getSubscription returns the stored record plus the plan the engine
// resolves right now, which is what actually gates features.
func (h *Handler) getSubscription(c *gin.Context) {
	user, _ := login.UserFrom(c)
	rec, err := h.repo.GetByUserID(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load subscription"})
		return
	}
	trial := entitlement.TrialWindowFor(user.CreatedAt, h.engine.Catalog().TrialDays())
	effective := h.engine.ResolveEffectivePlan(rec.View(), trial, h.engine.Now())
	c.JSON(http.StatusOK, gin.H{
		"subscription":   rec,
		"effective_plan": effective,
		"trial_ends_at":  trial.End,
	})
}

type checkoutPayload struct {
	Plan string `json:"plan"`
}

func (h *Handler) checkout(c *gin.Context) {
	user, _ := login.UserFrom(c)
	var p checkoutPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	plan, err := h.engine.Catalog().Parse(p.Plan)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan"})
		return
	}
	url, err := h.stripe.CreateCheckoutSession(c.Request.Context(), user.ID, plan)
	if err != nil {
		if errors.Is(err, ErrStripeDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing is not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start checkout"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) webhook(c *gin.Context) {
	if err := h.stripe.HandleWebhook(c.Writer, c.Request); err != nil {
		log.Printf("[stripe][webhook] err=%v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "webhook rejected"})
	}
}
