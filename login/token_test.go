package login

import (
	"sync"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	token, exp := signToken("friend@example.com", time.Hour, false)
	if exp <= time.Now().Unix() {
		t.Fatalf("expiry in the past: %d", exp)
	}
	email, ok := GetEmailFromToken(token)
	if !ok || email != "friend@example.com" {
		t.Errorf("GetEmailFromToken = %q, %v", email, ok)
	}
}

func TestTokenTamperedSignature(t *testing.T) {
	token, _ := signToken("friend@example.com", time.Hour, false)
	if _, ok := GetEmailFromToken(token + "x"); ok {
		t.Error("tampered token accepted")
	}
	if _, ok := GetEmailFromToken("not.a.token"); ok {
		t.Error("garbage token accepted")
	}
}

func TestTokenExpired(t *testing.T) {
	token, _ := signToken("friend@example.com", -time.Minute, false)
	if _, ok := GetEmailFromToken(token); ok {
		t.Error("expired token accepted")
	}
}

func TestResetTokenIsNotASession(t *testing.T) {
	reset := signResetToken("friend@example.com")
	if _, ok := GetEmailFromToken(reset); ok {
		t.Error("reset token accepted as session")
	}
	email, ok := ParseResetToken(reset)
	if !ok || email != "friend@example.com" {
		t.Errorf("ParseResetToken = %q, %v", email, ok)
	}
	// And a session token is not a reset token.
	session, _ := signToken("friend@example.com", time.Hour, false)
	if _, ok := ParseResetToken(session); ok {
		t.Error("session token accepted for password reset")
	}
}

func TestBlacklistedTokenRejected(t *testing.T) {
	token, exp := signToken("friend@example.com", time.Hour, false)
	blacklistToken(token, exp)
	defer func() {
		blacklistMu.Lock()
		delete(blacklist, token)
		blacklistMu.Unlock()
	}()
	if _, ok := GetEmailFromToken(token); ok {
		t.Error("blacklisted token accepted")
	}
}

// Logouts write the blacklist while other requests parse tokens; run both
// concurrently so the race detector covers the shared map.
func TestBlacklistConcurrentAccess(t *testing.T) {
	session, _ := signToken("friend@example.com", time.Hour, false)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			token, exp := signToken("other@example.com", time.Duration(n+1)*time.Minute, false)
			blacklistToken(token, exp)
		}(i)
		go func() {
			defer wg.Done()
			if _, ok := GetEmailFromToken(session); !ok {
				t.Error("valid session rejected")
			}
		}()
	}
	wg.Wait()
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("hunter2secret")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "hunter2secret" {
		t.Fatal("password stored in the clear")
	}
	if !verifyPassword("hunter2secret", hash) {
		t.Error("correct password rejected")
	}
	if verifyPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}
}
