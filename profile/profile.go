package profile

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kindfriend-backend/login"
	"kindfriend-backend/migrations"
)

// RegisterRoutes mounts the profile endpoints.
func RegisterRoutes(r *gin.Engine) {
	auth := r.Group("/", login.RequireAuth())
	auth.GET("/profile", get)
	auth.PUT("/profile", update)
}

func get(c *gin.Context) {
	user, _ := login.UserFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"id":           user.ID,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"created_at":   user.CreatedAt,
	})
}

type updatePayload struct {
	DisplayName string `json:"display_name"`
}

func update(c *gin.Context) {
	user, _ := login.UserFrom(c)
	var p updatePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "display_name is required"})
		return
	}
	if err := migrations.UpdateUserProfile(user.ID, name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
