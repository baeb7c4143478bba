package chat

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kindfriend-backend/entitlement"
	"kindfriend-backend/login"
	"kindfriend-backend/memories"
	ai "kindfriend-backend/openai"
	"kindfriend-backend/sse"
)

const historyTurns = 20

const companionPreamble = "You are Kind Friend, a warm, attentive companion. " +
	"Listen closely, remember what the user has shared, and answer in a caring, conversational tone. " +
	"Never give medical, legal or financial advice; gently suggest a professional when those come up."

const coachPreamble = "You are Kind Coach, a supportive personal coach. " +
	"Run a short structured coaching session: help the user pick a focus, explore it with open questions, " +
	"and end with one small concrete step they choose themselves."

// Gate is the slice of the entitlement engine the chat routes call.
type Gate interface {
	EffectivePlan(ctx context.Context, userID int, accountCreatedAt time.Time) (entitlement.PlanKey, *entitlement.Tier, error)
	CheckQuota(ctx context.Context, userID int, kind entitlement.Action, plan entitlement.PlanKey, now time.Time) (entitlement.Decision, error)
	Now() time.Time
}

// Recorder appends usage events after the model call succeeds.
type Recorder interface {
	Append(ctx context.Context, userID int, kind entitlement.Action, at time.Time) error
}

// MemoryLister feeds the companion's stored notes into the prompt.
type MemoryLister interface {
	List(ctx context.Context, userID int) ([]memories.Memory, error)
}

// MessageStore persists conversation turns; *Store implements it.
type MessageStore interface {
	SaveMessage(ctx context.Context, userID int, conversationID, role, content string, at time.Time) error
	History(ctx context.Context, userID int, conversationID string, limit int) ([]Message, error)
	AllMessages(ctx context.Context, userID int) ([]Message, error)
}

type Handler struct {
	AI    AIClient
	store MessageStore
	gate  Gate
	usage Recorder
	notes MemoryLister
}

func NewHandler(aiClient AIClient, store MessageStore, gate Gate, usage Recorder, notes MemoryLister) *Handler {
	return &Handler{AI: aiClient, store: store, gate: gate, usage: usage, notes: notes}
}

// RegisterRoutes mounts the chat surface. throttle is the per-identity
// burst limiter; the daily quotas are enforced inside each handler.
func (h *Handler) RegisterRoutes(r *gin.Engine, throttle gin.HandlerFunc) {
	auth := r.Group("/", login.RequireAuth())
	auth.POST("/chat/start", h.Start)
	auth.POST("/chat/message", throttle, h.Message)
	auth.POST("/coach/session", throttle, h.CoachSession)
	auth.POST("/mood/checkin", throttle, h.MoodCheckin)
	auth.GET("/chat/export", h.Export)
	auth.GET("/entitlements", h.Entitlements)
}

func (h *Handler) Start(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conversation_id": uuid.NewString()})
}

type messagePayload struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

func (h *Handler) Message(c *gin.Context) {
	h.runSession(c, entitlement.ActionChatMessage, companionPreamble)
}

// CoachSession is a chat turn against the coaching persona, counted on the
// separate coaching allowance.
func (h *Handler) CoachSession(c *gin.Context) {
	h.runSession(c, entitlement.ActionCoachingSession, coachPreamble)
}

// runSession is the shared gated streaming path: resolve plan, check the
// quota for the action kind, stream the reply over SSE, and only then
// persist the turn and append the usage event. A model failure before any
// token therefore costs no quota.
func (h *Handler) runSession(c *gin.Context, kind entitlement.Action, preamble string) {
	user, _ := login.UserFrom(c)
	var p messagePayload
	if err := c.ShouldBindJSON(&p); err != nil || strings.TrimSpace(p.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if p.ConversationID == "" {
		p.ConversationID = uuid.NewString()
	}
	ctx := c.Request.Context()

	plan, tier, err := h.gate.EffectivePlan(ctx, user.ID, user.CreatedAt)
	if err != nil {
		log.Printf("[chat][error] user_id=%d err=%v", user.ID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not verify your plan"})
		return
	}
	now := h.gate.Now()
	dec, err := h.gate.CheckQuota(ctx, user.ID, kind, plan, now)
	if err != nil {
		log.Printf("[chat][error] user_id=%d err=%v", user.ID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not verify your quota"})
		return
	}
	if !dec.Allowed {
		log.Printf("[chat][exhausted] user_id=%d plan=%s kind=%s used=%d", user.ID, plan, kind, dec.Used)
		c.JSON(http.StatusForbidden, gin.H{"error": "daily limit reached", "used": dec.Used, "remaining": dec.Remaining})
		return
	}

	msgs, err := h.buildPrompt(ctx, user.ID, p.ConversationID, preamble, p.Message)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load conversation"})
		return
	}
	upstream, err := h.AI.StreamChat(ctx, tier.Model, tier.MaxTokens, msgs)
	if err != nil {
		log.Printf("[chat][upstream] user_id=%d err=%v", user.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "assistant unavailable"})
		return
	}

	// Remaining after this message is consumed; unlimited (-1) stays as is.
	remaining := dec.Remaining
	if remaining > 0 {
		remaining--
	}
	c.Header("X-Quota-Remaining", fmt.Sprintf("%d", remaining))

	var reply strings.Builder
	out := make(chan string)
	go func() {
		defer close(out)
		for tok := range upstream {
			reply.WriteString(tok)
			out <- tok
		}
	}()
	sse.Stream(c, out)

	// The request context is gone if the client disconnected; persistence
	// and the ledger write still use their own deadline.
	bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.SaveMessage(bg, user.ID, p.ConversationID, ai.RoleUser, p.Message, now); err != nil {
		log.Printf("[chat][persist] user_id=%d err=%v", user.ID, err)
	}
	if reply.Len() > 0 {
		if err := h.store.SaveMessage(bg, user.ID, p.ConversationID, ai.RoleAssistant, reply.String(), h.gate.Now()); err != nil {
			log.Printf("[chat][persist] user_id=%d err=%v", user.ID, err)
		}
		if err := h.usage.Append(bg, user.ID, kind, now); err != nil {
			log.Printf("[chat][ledger] user_id=%d kind=%s err=%v", user.ID, kind, err)
		}
	}
}

func (h *Handler) buildPrompt(ctx context.Context, userID int, conversationID, preamble, message string) ([]ai.Message, error) {
	system := preamble
	if notes, err := h.notes.List(ctx, userID); err == nil && len(notes) > 0 {
		var sb strings.Builder
		sb.WriteString(system)
		sb.WriteString("\n\nThings you remember about this person:\n")
		for _, n := range notes {
			sb.WriteString("- " + n.Content + "\n")
		}
		system = sb.String()
	}
	msgs := []ai.Message{{Role: ai.RoleSystem, Content: system}}
	history, err := h.store.History(ctx, userID, conversationID, historyTurns)
	if err != nil {
		return nil, err
	}
	for _, m := range history {
		msgs = append(msgs, ai.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: message})
	return msgs, nil
}

type moodPayload struct {
	Mood string `json:"mood"`
	Note string `json:"note"`
}

// MoodCheckin is a lightweight feature-flagged variant: it records how the
// user feels without consuming the chat allowance.
func (h *Handler) MoodCheckin(c *gin.Context) {
	user, _ := login.UserFrom(c)
	var p moodPayload
	if err := c.ShouldBindJSON(&p); err != nil || strings.TrimSpace(p.Mood) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mood is required"})
		return
	}
	ctx := c.Request.Context()
	_, tier, err := h.gate.EffectivePlan(ctx, user.ID, user.CreatedAt)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not verify your plan"})
		return
	}
	if !tier.AllowMood {
		c.JSON(http.StatusForbidden, gin.H{"error": "mood check-ins are not included in your plan"})
		return
	}
	content := "Mood check-in: " + p.Mood
	if strings.TrimSpace(p.Note) != "" {
		content += ". Note: " + p.Note
	}
	if err := h.store.SaveMessage(ctx, user.ID, "mood", ai.RoleUser, content, h.gate.Now()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save check-in"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

// Export streams the full chat history as a JSON attachment, only on
// tiers with the export flag.
func (h *Handler) Export(c *gin.Context) {
	user, _ := login.UserFrom(c)
	ctx := c.Request.Context()
	_, tier, err := h.gate.EffectivePlan(ctx, user.ID, user.CreatedAt)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not verify your plan"})
		return
	}
	if !tier.AllowExport {
		c.JSON(http.StatusForbidden, gin.H{"error": "export is not included in your plan"})
		return
	}
	msgs, err := h.store.AllMessages(ctx, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load history"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="kindfriend-history.json"`)
	c.JSON(http.StatusOK, gin.H{"exported_at": h.gate.Now().Format(time.RFC3339), "messages": msgs})
}

// Entitlements reports the resolved plan and what is left of each
// allowance today, so the client can render counters without guessing.
func (h *Handler) Entitlements(c *gin.Context) {
	user, _ := login.UserFrom(c)
	ctx := c.Request.Context()
	plan, tier, err := h.gate.EffectivePlan(ctx, user.ID, user.CreatedAt)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not verify your plan"})
		return
	}
	now := h.gate.Now()
	quotas := gin.H{}
	for _, kind := range []entitlement.Action{entitlement.ActionChatMessage, entitlement.ActionCoachingSession, entitlement.ActionMemoryItem} {
		dec, err := h.gate.CheckQuota(ctx, user.ID, kind, plan, now)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not verify your quota"})
			return
		}
		quotas[string(kind)] = dec
	}
	c.JSON(http.StatusOK, gin.H{
		"plan":   plan,
		"tier":   tier,
		"quotas": quotas,
	})
}
