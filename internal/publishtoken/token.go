// Package publishtoken signs and verifies the RS256 tokens that let an
// importer publish chapter text. Readers never hold the private key.
package publishtoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	ScopeChapters = "chapters:write"

	DefaultAudience = "chapterwise-api"
	DefaultTTL      = 10 * time.Minute
	defaultKeyID    = "publish-1"
	defaultLeeway   = 15 * time.Second
)

var ErrInvalidToken = errors.New("invalid publish token")

// Claims are registered claims plus the granted scope.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

type SignerConfig struct {
	PrivateKeyPEM []byte
	KeyID         string
	Issuer        string
	Audience      string
	TTL           time.Duration
}

// Signer mints publish tokens.
type Signer struct {
	key      *rsa.PrivateKey
	keyID    string
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewSigner(cfg SignerConfig) (*Signer, error) {
	key, err := ParsePrivateKey(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	s := &Signer{
		key:      key,
		keyID:    orDefault(cfg.KeyID, defaultKeyID),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: orDefault(cfg.Audience, DefaultAudience),
		ttl:      cfg.TTL,
		now:      time.Now,
	}
	if s.issuer == "" {
		return nil, errors.New("publish token issuer required")
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	return s, nil
}

// Sign issues a chapters:write token.
func (s *Signer) Sign() (string, error) {
	now := s.now().UTC()
	jti := make([]byte, 12)
	if _, err := rand.Read(jti); err != nil {
		return "", err
	}
	claims := Claims{
		Scope: ScopeChapters,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        hex.EncodeToString(jti),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = s.keyID
	return t.SignedString(s.key)
}

type VerifierConfig struct {
	PublicKeyPEM   []byte
	KeyID          string
	Audience       string
	AllowedIssuers []string
	Leeway         time.Duration
}

// Verifier accepts tokens from allowed issuers carrying the chapters scope.
type Verifier struct {
	key      *rsa.PublicKey
	keyID    string
	audience string
	issuers  []string
	leeway   time.Duration
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	key, err := ParsePublicKey(cfg.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	v := &Verifier{
		key:      key,
		keyID:    orDefault(cfg.KeyID, defaultKeyID),
		audience: orDefault(cfg.Audience, DefaultAudience),
		leeway:   cfg.Leeway,
	}
	for _, iss := range cfg.AllowedIssuers {
		if iss = strings.TrimSpace(iss); iss != "" {
			v.issuers = append(v.issuers, iss)
		}
	}
	if len(v.issuers) == 0 {
		return nil, errors.New("at least one allowed publisher issuer required")
	}
	if v.leeway <= 0 {
		v.leeway = defaultLeeway
	}
	return v, nil
}

// Verify returns the issuer of a valid token, or ErrInvalidToken.
func (v *Verifier) Verify(token string) (string, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != v.keyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if !slices.Contains(v.issuers, claims.Issuer) || claims.Scope != ScopeChapters || claims.ID == "" {
		return "", ErrInvalidToken
	}
	return claims.Issuer, nil
}

// ReadKeyFile reads a PEM file for NewSigner or NewVerifier.
func ReadKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	return data, nil
}

// ParsePrivateKey accepts PKCS#1 or PKCS#8 RSA keys.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("private key: invalid pem")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	anyKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	key, ok := anyKey.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return key, nil
}

// ParsePublicKey accepts a PKIX public key or a certificate.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("public key: invalid pem")
	}
	var anyKey any
	if k, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		anyKey = k
	} else {
		cert, cerr := x509.ParseCertificate(block.Bytes)
		if cerr != nil {
			return nil, fmt.Errorf("public key: %w", err)
		}
		anyKey = cert.PublicKey
	}
	key, ok := anyKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not rsa")
	}
	return key, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
