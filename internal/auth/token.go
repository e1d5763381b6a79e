// Package auth holds the bearer token for the chat session and derives
// the subject identifier used to key persisted history. The server owns
// token validation; the client only reads claims it needs for local
// scoping, so parsing here is deliberately unverified.
package auth

import (
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims the chat client cares about.
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenStore is the authentication collaborator: it supplies the bearer
// token to the transport and broadcasts the signed-out signal that
// resets chat state.
type TokenStore struct {
	mu      sync.RWMutex
	token   string
	subs    map[int]func()
	nextSub int
}

func NewTokenStore() *TokenStore {
	return &TokenStore{subs: make(map[int]func())}
}

// SetToken stores a fresh bearer token (after sign-in or refresh).
func (t *TokenStore) SetToken(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

// Token returns the current bearer token, empty when signed out.
func (t *TokenStore) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// SignOut clears the token and notifies listeners so they can drop
// per-user state (history reset, socket teardown).
func (t *TokenStore) SignOut() {
	t.mu.Lock()
	t.token = ""
	subs := make([]func(), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// OnSignOut registers fn for the signed-out signal. The returned
// function removes the registration.
func (t *TokenStore) OnSignOut(fn func()) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Subject extracts the subject identifier from a JWT bearer token for
// history keying: the registered subject when present, the email claim
// otherwise. Opaque or malformed tokens yield "" and the caller falls
// back to the token fingerprint.
func Subject(token string) string {
	if token == "" {
		return ""
	}
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	if claims.Subject != "" {
		return claims.Subject
	}
	return claims.Email
}
