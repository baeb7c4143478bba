package login

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// blacklist for manual logout and refresh (tokens -> expiry). Written by
// Logout/Refresh while parseToken reads it on every request, so all access
// goes through the mutex. Not persisted; acceptable for MVP.
var (
	blacklistMu sync.Mutex
	blacklist   = map[string]int64{}
)

func blacklistToken(token string, exp int64) {
	blacklistMu.Lock()
	blacklist[token] = exp
	blacklistMu.Unlock()
}

func isBlacklisted(token string, now int64) bool {
	blacklistMu.Lock()
	defer blacklistMu.Unlock()
	exp, ok := blacklist[token]
	return ok && exp >= now
}

// tokenPayload minimal JWT-like payload
type tokenPayload struct {
	Email   string `json:"email"`
	Exp     int64  `json:"exp"`
	Rem     bool   `json:"rem"`           // remember flag
	Jti     string `json:"jti"`           // unique id
	Purpose string `json:"pur,omitempty"` // empty for sessions, "reset" for password reset links
}

func sessionDurations(remember bool) time.Duration {
	defHours := 12
	if v := os.Getenv("SESSION_DEFAULT_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			defHours = n
		}
	}
	remDays := 30
	if v := os.Getenv("SESSION_REMEMBER_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			remDays = n
		}
	}
	if remember {
		return time.Hour * 24 * time.Duration(remDays)
	}
	return time.Hour * time.Duration(defHours)
}

func sessionSecret() []byte {
	s := os.Getenv("SESSION_SECRET")
	if s == "" {
		s = "dev-insecure-secret"
	}
	return []byte(s)
}

func signPayload(tp tokenPayload) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payloadBytes, _ := json.Marshal(tp)
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	mac := hmac.New(sha256.New, sessionSecret())
	mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + payload + "." + sig
}

func signToken(email string, dur time.Duration, remember bool) (string, int64) {
	exp := time.Now().Add(dur).Unix()
	return signPayload(tokenPayload{Email: email, Exp: exp, Rem: remember, Jti: generateJTI()}), exp
}

// signResetToken issues a short-lived single-purpose token for the emailed
// password reset link.
func signResetToken(email string) string {
	exp := time.Now().Add(time.Hour).Unix()
	return signPayload(tokenPayload{Email: email, Exp: exp, Jti: generateJTI(), Purpose: "reset"})
}

func parseToken(token string) (tokenPayload, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return tokenPayload{}, false
	}
	unsigned := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, sessionSecret())
	mac.Write([]byte(unsigned))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return tokenPayload{}, false
	}
	pb, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return tokenPayload{}, false
	}
	var tp tokenPayload
	if err := json.Unmarshal(pb, &tp); err != nil {
		return tokenPayload{}, false
	}
	if tp.Exp < time.Now().Unix() {
		return tokenPayload{}, false
	}
	if isBlacklisted(token, time.Now().Unix()) {
		return tokenPayload{}, false
	}
	return tp, true
}

func generateJTI() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405")
	}
	return hex.EncodeToString(b)
}

// GetEmailFromToken validates signature + expiry and returns the session
// email. Reset-purpose tokens are not sessions and are rejected here.
func GetEmailFromToken(token string) (string, bool) {
	tp, ok := parseToken(token)
	if !ok || tp.Purpose != "" {
		return "", false
	}
	return tp.Email, true
}

// ParseResetToken validates an emailed reset link token.
func ParseResetToken(token string) (string, bool) {
	tp, ok := parseToken(token)
	if !ok || tp.Purpose != "reset" {
		return "", false
	}
	return tp.Email, true
}
