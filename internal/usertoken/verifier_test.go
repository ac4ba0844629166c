package usertoken

import (
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestIssueAndVerify(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := v.VerifySubject(token)
	if err != nil || sub != "user-1" {
		t.Fatalf("verify = %q, %v", sub, err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := newVerifier(t)
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := v.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	v.now = time.Now
	if _, err := v.VerifySubject(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsWrongSecretAndAudience(t *testing.T) {
	v := newVerifier(t)
	other, _ := NewVerifier(Config{Secret: "ffffffffffffffffffffffffffffffff"})
	token, _ := other.Issue("user-1", time.Hour)
	if _, err := v.VerifySubject(token); err == nil {
		t.Fatalf("expected signature failure")
	}

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    defaultIssuer,
		Audience:  jwt.ClaimStrings{"someone-else"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, _ = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if _, err := v.VerifySubject(token); err == nil {
		t.Fatalf("expected audience failure")
	}
}

func TestVerifyRejectsMissingExpiry(t *testing.T) {
	v := newVerifier(t)
	claims := jwt.RegisteredClaims{Subject: "user-1", Issuer: defaultIssuer, Audience: jwt.ClaimStrings{defaultAudience}}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if _, err := v.VerifySubject(token); err == nil {
		t.Fatalf("expected failure without exp")
	}
}

func TestNewVerifierRequiresLongSecret(t *testing.T) {
	if _, err := NewVerifier(Config{Secret: "short"}); err == nil {
		t.Fatalf("expected error for short secret")
	}
}
