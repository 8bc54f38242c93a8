package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// TokenResolver yields the auth token for a connection attempt or request.
// It is called fresh on every attempt and may be called concurrently. An
// empty token means the session has no usable credentials.
type TokenResolver interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenResolver.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always resolves to itself.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// TokenHolder is a mutable token, set after login or rotation and read by
// every channel at connect time.
type TokenHolder struct {
	mu    sync.RWMutex
	token string
}

// NewTokenHolder creates a holder with an initial token, which may be empty.
func NewTokenHolder(token string) *TokenHolder {
	return &TokenHolder{token: token}
}

// Set replaces the token.
func (h *TokenHolder) Set(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

func (h *TokenHolder) Token(context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token, nil
}

// JWTTokenResolver wraps another resolver and hides tokens whose exp claim
// has passed, so an expired session reads as no token at all. The signature
// is not verified; the backend does that.
type JWTTokenResolver struct {
	Source TokenResolver
	Clock  clock.Clock
}

func (r *JWTTokenResolver) Token(ctx context.Context) (string, error) {
	token, err := r.Source.Token(ctx)
	if err != nil || token == "" {
		return "", err
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Opaque tokens are passed through untouched.
		return token, nil
	}
	if claims.ExpiresAt == nil {
		return token, nil
	}

	now := r.now()
	if !now.Before(claims.ExpiresAt.Time) {
		return "", nil
	}
	return token, nil
}

func (r *JWTTokenResolver) now() time.Time {
	if r.Clock == nil {
		return clock.New().Now()
	}
	return r.Clock.Now()
}
