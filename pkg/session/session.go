// Package session holds the credential the core uses for backend calls.
// Sign-in and token storage live outside the core; this package only
// exposes the current credential and a way to drop it.
package session

import (
	"errors"
	"strings"
	"sync"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Credentials is what backend callers depend on.
type Credentials interface {
	// Token returns the bearer token, false when signed out.
	Token() (string, bool)
	// UserID returns the authenticated user, false when signed out.
	UserID() (string, bool)
	// Invalidate drops the credential after the backend rejected it.
	Invalidate()
}

// Memory is a goroutine-safe in-process credential holder.
type Memory struct {
	mu            sync.RWMutex
	token         string
	userID        string
	onInvalidate  func()
	invalidations int
}

// NewMemory returns an empty holder. onInvalidate, when non-nil, is called
// after a credential is dropped so the auth layer can prompt for sign-in.
func NewMemory(onInvalidate func()) *Memory {
	return &Memory{onInvalidate: onInvalidate}
}

// Set stores the token and the user it belongs to.
func (m *Memory) Set(userID, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = strings.TrimSpace(userID)
	m.token = strings.TrimSpace(token)
}

func (m *Memory) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != ""
}

func (m *Memory) UserID() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" {
		return "", false
	}
	return m.userID, m.userID != ""
}

func (m *Memory) Invalidate() {
	m.mu.Lock()
	hadToken := m.token != ""
	m.token = ""
	m.userID = ""
	if hadToken {
		m.invalidations++
	}
	hook := m.onInvalidate
	m.mu.Unlock()
	if hadToken && hook != nil {
		hook()
	}
}

// Invalidations counts how many live credentials were dropped.
func (m *Memory) Invalidations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.invalidations
}

// FromToken builds a holder from a bearer token, reading the user id from
// the JWT subject. The signature is not checked here; the backend does that.
func FromToken(token string, onInvalidate func()) (*Memory, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("token required")
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, err
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, errors.New("token subject missing")
	}
	m := NewMemory(onInvalidate)
	m.Set(subject, token)
	return m, nil
}
