package login

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	mailer "kindfriend-backend/email"
	"kindfriend-backend/migrations"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// Provisioner creates the signup subscription row; the subscriptions
// repository implements it.
type Provisioner interface {
	CreateFree(ctx context.Context, userID int, now time.Time) error
}

// Handler owns the auth routes. It carries the subscription provisioner so
// signup can create the free-plan row in the same flow.
type Handler struct {
	subs Provisioner
}

func NewHandler(subs Provisioner) *Handler {
	return &Handler{subs: subs}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/signup", h.Register)
	r.POST("/login", h.Login)
	r.GET("/session", h.Session)
	r.POST("/logout", h.Logout)
	r.POST("/refresh", h.Refresh)
	r.POST("/change-password", h.ChangePassword)
	r.POST("/forgot-password", h.ForgotPassword)
	r.POST("/reset-password", h.ResetPassword)
}

func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

func verifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func userResponse(u *migrations.User) gin.H {
	return gin.H{
		"id":           u.ID,
		"email":        u.Email,
		"display_name": u.DisplayName,
		"created_at":   u.CreatedAt.Format(time.RFC3339),
		"updated_at":   u.UpdatedAt.Format(time.RFC3339),
	}
}

type RegisterPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (h *Handler) Register(c *gin.Context) {
	var p RegisterPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	if p.Email == "" || p.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	if exists, err := migrations.EmailExists(p.Email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not validate email"})
		return
	} else if exists {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "email already registered"})
		return
	}
	hash, err := hashPassword(p.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create user"})
		return
	}
	userID, err := migrations.CreateUser(p.Email, hash, strings.TrimSpace(p.DisplayName))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create user"})
		return
	}
	// Every account starts on the free plan; the trial window is derived
	// from created_at, nothing extra is stored for it.
	if err := h.subs.CreateFree(c.Request.Context(), userID, time.Now()); err != nil {
		log.Printf("[login][signup] user_id=%d free subscription failed: %v", userID, err)
	}
	if err := mailer.SendWelcome(p.Email); err != nil {
		log.Printf("[login][signup] welcome email failed for %s: %v", p.Email, err)
	}
	c.Status(http.StatusCreated)
}

func (h *Handler) Login(c *gin.Context) {
	var creds Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	creds.Email = strings.TrimSpace(strings.ToLower(creds.Email))
	creds.Password = strings.TrimSpace(creds.Password)

	user := migrations.GetUserByEmail(creds.Email)
	if user == nil || !verifyPassword(creds.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	dur := sessionDurations(creds.Remember)
	token, exp := signToken(user.Email, dur, creds.Remember)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": userResponse(user), "expires_at": exp, "remember": creds.Remember})
}

func (h *Handler) Session(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userResponse(user)})
}

// Logout invalidates the token
func (h *Handler) Logout(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	// Add to blacklist until its natural expiry (best effort)
	if tp, ok := parseToken(token); ok {
		blacklistToken(token, tp.Exp)
	}
	c.JSON(http.StatusOK, gin.H{"message": "signed out"})
}

// Refresh issues a new token preserving the remember flag while the
// previous token is blacklisted.
func (h *Handler) Refresh(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}
	tp, ok := parseToken(token)
	if !ok || tp.Purpose != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	dur := time.Until(time.Unix(tp.Exp, 0))
	// Recalculate full duration based on remember flag if remaining <50% to extend period
	baseDur := sessionDurations(tp.Rem)
	if dur < baseDur/2 {
		dur = baseDur
	}
	newToken, newExp := signToken(tp.Email, dur, tp.Rem)
	blacklistToken(token, tp.Exp)
	c.JSON(http.StatusOK, gin.H{"token": newToken, "expires_at": newExp, "remember": tp.Rem})
}

type ChangePasswordPayload struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var p ChangePasswordPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if !verifyPassword(p.OldPassword, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	hash, err := hashPassword(p.NewPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update password"})
		return
	}
	if err := migrations.UpdateUserPassword(user.ID, hash); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update password"})
		return
	}
	if err := mailer.SendPasswordChanged(user.Email); err != nil {
		log.Printf("[login] password change email failed for %s: %v", user.Email, err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

type ForgotPayload struct {
	Email string `json:"email"`
}

// ForgotPassword always acknowledges, so the endpoint cannot be used to
// probe which emails are registered.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var p ForgotPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	if user := migrations.GetUserByEmail(p.Email); user != nil {
		token := signResetToken(user.Email)
		if err := mailer.SendPasswordReset(user.Email, "/reset-password?token="+token); err != nil {
			log.Printf("[login] reset email failed for %s: %v", user.Email, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "if the email exists, instructions were sent"})
}

type ResetPayload struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var p ResetPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	email, ok := ParseResetToken(p.Token)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired token"})
		return
	}
	user := migrations.GetUserByEmail(email)
	if user == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired token"})
		return
	}
	hash, err := hashPassword(p.NewPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update password"})
		return
	}
	if err := migrations.UpdateUserPassword(user.ID, hash); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update password"})
		return
	}
	if err := mailer.SendPasswordChanged(user.Email); err != nil {
		log.Printf("[login] password change email failed for %s: %v", user.Email, err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset successful"})
}

func bearerToken(c *gin.Context) string {
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

// CurrentUser resolves the authenticated user from the Authorization header.
func CurrentUser(c *gin.Context) (*migrations.User, bool) {
	token := bearerToken(c)
	if token == "" {
		return nil, false
	}
	email, ok := GetEmailFromToken(token)
	if !ok {
		return nil, false
	}
	user := migrations.GetUserByEmail(email)
	if user == nil {
		return nil, false
	}
	return user, true
}

// RequireAuth aborts unauthenticated requests and stores the user plus the
// identity key the rate limiter buckets on.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Set("identity_key", "user:"+strconv.Itoa(user.ID))
		c.Next()
	}
}

// UserFrom returns the user stored by RequireAuth.
func UserFrom(c *gin.Context) (*migrations.User, bool) {
	v, ok := c.Get("user")
	if !ok {
		return nil, false
	}
	u, ok := v.(*migrations.User)
	return u, ok
}
