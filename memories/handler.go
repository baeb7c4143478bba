package memories

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"kindfriend-backend/entitlement"
	"kindfriend-backend/login"
)

// Store is the persistence surface the handler needs; the MySQL Repository
// implements it, tests fake it.
type Store interface {
	List(ctx context.Context, userID int) ([]Memory, error)
	Add(ctx context.Context, userID int, content string, at time.Time) (int, error)
	Delete(ctx context.Context, userID, memoryID int) error
}

// Gate is the slice of the entitlement engine the handler calls.
type Gate interface {
	EffectivePlan(ctx context.Context, userID int, accountCreatedAt time.Time) (entitlement.PlanKey, *entitlement.Tier, error)
	CheckQuota(ctx context.Context, userID int, kind entitlement.Action, plan entitlement.PlanKey, now time.Time) (entitlement.Decision, error)
	Now() time.Time
}

// Recorder appends usage events after an action succeeds.
type Recorder interface {
	Append(ctx context.Context, userID int, kind entitlement.Action, at time.Time) error
}

type Handler struct {
	store Store
	gate  Gate
	usage Recorder
}

func NewHandler(store Store, gate Gate, usage Recorder) *Handler {
	return &Handler{store: store, gate: gate, usage: usage}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	auth := r.Group("/", login.RequireAuth())
	auth.GET("/memories", h.list)
	auth.POST("/memories", h.add)
	auth.DELETE("/memories/:id", h.remove)
}

func (h *Handler) list(c *gin.Context) {
	user, _ := login.UserFrom(c)
	items, err := h.store.List(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load memories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": items})
}

type addPayload struct {
	Content string `json:"content"`
}

// add creates a memory note behind the lifetime memory_item cap. The
// ledger write happens after the insert succeeds, so a failed insert never
// burns quota. A ledger read failure answers 503, never "quota exceeded":
// we fail closed here, but the client can tell the two apart.
func (h *Handler) add(c *gin.Context) {
	user, _ := login.UserFrom(c)
	var p addPayload
	if err := c.ShouldBindJSON(&p); err != nil || strings.TrimSpace(p.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	ctx := c.Request.Context()
	plan, _, err := h.gate.EffectivePlan(ctx, user.ID, user.CreatedAt)
	if err != nil {
		log.Printf("[memories][error] user_id=%d err=%v", user.ID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not verify your plan"})
		return
	}
	now := h.gate.Now()
	dec, err := h.gate.CheckQuota(ctx, user.ID, entitlement.ActionMemoryItem, plan, now)
	if err != nil {
		log.Printf("[memories][error] user_id=%d err=%v", user.ID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not verify your quota"})
		return
	}
	if !dec.Allowed {
		log.Printf("[memories][exhausted] user_id=%d plan=%s used=%d", user.ID, plan, dec.Used)
		c.JSON(http.StatusForbidden, gin.H{"error": "memory limit reached", "used": dec.Used, "remaining": dec.Remaining})
		return
	}
	id, err := h.store.Add(ctx, user.ID, strings.TrimSpace(p.Content), now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save memory"})
		return
	}
	if err := h.usage.Append(ctx, user.ID, entitlement.ActionMemoryItem, now); err != nil {
		log.Printf("[memories][ledger] user_id=%d memory_id=%d err=%v", user.ID, id, err)
	}
	remaining := dec.Remaining
	if remaining > 0 {
		remaining--
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "remaining": remaining})
}

func (h *Handler) remove(c *gin.Context) {
	user, _ := login.UserFrom(c)
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.store.Delete(c.Request.Context(), user.ID, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete memory"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
