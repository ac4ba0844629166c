package publishtoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// keyPair returns PEM-encoded private and public keys.
func keyPair(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})
}

func TestSignVerify(t *testing.T) {
	priv, pub := keyPair(t)
	s, err := NewSigner(SignerConfig{PrivateKeyPEM: priv, Issuer: "importer"})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	v, err := NewVerifier(VerifierConfig{PublicKeyPEM: pub, AllowedIssuers: []string{"importer"}})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	tok, err := s.Sign()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	iss, err := v.Verify(tok)
	if err != nil || iss != "importer" {
		t.Fatalf("verify = %q, %v", iss, err)
	}
}

func TestVerifyRejects(t *testing.T) {
	priv, pub := keyPair(t)
	otherPriv, _ := keyPair(t)
	v, err := NewVerifier(VerifierConfig{PublicKeyPEM: pub, AllowedIssuers: []string{"importer"}})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	sign := func(key []byte, issuer, audience, kid string) string {
		s, err := NewSigner(SignerConfig{PrivateKeyPEM: key, Issuer: issuer, Audience: audience, KeyID: kid})
		if err != nil {
			t.Fatalf("signer: %v", err)
		}
		tok, err := s.Sign()
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tok
	}
	key, _ := ParsePrivateKey(priv)
	bare := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    "importer",
		Audience:  jwt.ClaimStrings{DefaultAudience},
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		ID:        "x",
	})
	bare.Header["kid"] = defaultKeyID
	noScope, _ := bare.SignedString(key)

	cases := map[string]string{
		"wrong key":      sign(otherPriv, "importer", "", ""),
		"wrong issuer":   sign(priv, "stranger", "", ""),
		"wrong audience": sign(priv, "importer", "elsewhere", ""),
		"wrong kid":      sign(priv, "importer", "", "publish-2"),
		"no scope":       noScope,
		"garbage":        "not.a.token",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestConstructorsValidate(t *testing.T) {
	priv, pub := keyPair(t)
	if _, err := NewSigner(SignerConfig{PrivateKeyPEM: priv}); err == nil {
		t.Fatalf("expected missing issuer to fail")
	}
	if _, err := NewSigner(SignerConfig{PrivateKeyPEM: pub, Issuer: "x"}); err == nil {
		t.Fatalf("expected public key to be rejected as private")
	}
	if _, err := NewVerifier(VerifierConfig{PublicKeyPEM: pub}); err == nil {
		t.Fatalf("expected missing issuers to fail")
	}
}
