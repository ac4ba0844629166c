package session

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestMemoryInvalidateClearsCredentialOnce(t *testing.T) {
	calls := 0
	m := NewMemory(func() { calls++ })
	m.Set("user-1", "tok")

	if tok, ok := m.Token(); !ok || tok != "tok" {
		t.Fatalf("token = %q, %v", tok, ok)
	}
	m.Invalidate()
	m.Invalidate()

	if _, ok := m.Token(); ok {
		t.Fatalf("expected token to be cleared")
	}
	if _, ok := m.UserID(); ok {
		t.Fatalf("expected user to be cleared")
	}
	if calls != 1 || m.Invalidations() != 1 {
		t.Fatalf("hook calls = %d, invalidations = %d, want 1", calls, m.Invalidations())
	}
}

func TestFromTokenReadsSubject(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "reader-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	m, err := FromToken(signed, nil)
	if err != nil {
		t.Fatalf("from token: %v", err)
	}
	if id, ok := m.UserID(); !ok || id != "reader-7" {
		t.Fatalf("user id = %q, %v", id, ok)
	}
}

func TestFromTokenRejectsGarbage(t *testing.T) {
	if _, err := FromToken("not-a-jwt", nil); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := FromToken("  ", nil); err == nil {
		t.Fatalf("expected empty token error")
	}
}
