// Package stats serves the admin dashboard numbers: user growth, plan
// distribution and today's usage volume. Read-only aggregate queries.
package stats

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kindfriend-backend/entitlement"
	"kindfriend-backend/login"
)

type Handler struct {
	db    *sql.DB
	clock entitlement.Clock
}

func NewHandler(db *sql.DB, clock entitlement.Clock) *Handler {
	return &Handler{db: db, clock: clock}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/admin/stats", login.RequireAuth(), h.overview)
}

type Overview struct {
	Users       UserStats      `json:"users"`
	Plans       map[string]int `json:"plans"`
	UsageToday  map[string]int `json:"usage_today"`
	GeneratedAt time.Time      `json:"generated_at"`
}

type UserStats struct {
	Total       int `json:"total"`
	NewThisWeek int `json:"new_this_week"`
	ActiveToday int `json:"active_today"`
}

func (h *Handler) overview(c *gin.Context) {
	user, _ := login.UserFrom(c)
	if user.Role != "admin" {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}

	now := h.clock.Now()
	dayStart, dayEnd := h.clock.DayWindow(now)

	out := Overview{
		Plans:       map[string]int{},
		UsageToday:  map[string]int{},
		GeneratedAt: now,
	}

	if err := h.db.QueryRow("SELECT COUNT(1) FROM users").Scan(&out.Users.Total); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	weekAgo := now.AddDate(0, 0, -7)
	if err := h.db.QueryRow("SELECT COUNT(1) FROM users WHERE created_at >= ?", weekAgo.UTC()).Scan(&out.Users.NewThisWeek); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	if err := h.db.QueryRow(
		"SELECT COUNT(DISTINCT user_id) FROM usage_events WHERE created_at >= ? AND created_at < ?",
		dayStart.UTC(), dayEnd.UTC()).Scan(&out.Users.ActiveToday); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}

	rows, err := h.db.Query(
		"SELECT plan, COUNT(1) FROM subscriptions WHERE status IN ('active','trialing','past_due') GROUP BY plan")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	defer rows.Close()
	for rows.Next() {
		var plan string
		var n int
		if err := rows.Scan(&plan, &n); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
			return
		}
		out.Plans[plan] = n
	}

	usageRows, err := h.db.Query(
		"SELECT kind, COUNT(1) FROM usage_events WHERE created_at >= ? AND created_at < ? GROUP BY kind",
		dayStart.UTC(), dayEnd.UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	defer usageRows.Close()
	for usageRows.Next() {
		var kind string
		var n int
		if err := usageRows.Scan(&kind, &n); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
			return
		}
		out.UsageToday[kind] = n
	}

	c.JSON(http.StatusOK, out)
}
