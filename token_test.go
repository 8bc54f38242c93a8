package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "u1"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestJWTTokenResolver(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	valid := signedToken(t, mock.Now().Add(time.Hour))
	noExp := signedToken(t, time.Time{})

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"unexpired", valid, valid},
		{"expired", signedToken(t, mock.Now().Add(-time.Minute)), ""},
		{"expires now", signedToken(t, mock.Now()), ""},
		{"no exp claim", noExp, noExp},
		{"opaque", "opaque-session-token", "opaque-session-token"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &JWTTokenResolver{Source: StaticToken(tt.token), Clock: mock}
			got, err := r.Token(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJWTTokenResolver_ExpiresWithClock(t *testing.T) {
	mock := clock.NewMock()
	token := signedToken(t, mock.Now().Add(10*time.Minute))
	r := &JWTTokenResolver{Source: StaticToken(token), Clock: mock}

	got, _ := r.Token(context.Background())
	assert.Equal(t, token, got)

	mock.Add(11 * time.Minute)
	got, _ = r.Token(context.Background())
	assert.Empty(t, got)
}

func TestJWTTokenResolver_SourceError(t *testing.T) {
	r := &JWTTokenResolver{Source: TokenFunc(func(context.Context) (string, error) {
		return "", assert.AnError
	})}
	_, err := r.Token(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestTokenHolder(t *testing.T) {
	h := NewTokenHolder("")
	got, err := h.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	h.Set("rotated")
	got, _ = h.Token(context.Background())
	assert.Equal(t, "rotated", got)
}

func TestJWTTokenResolver_TerminatesConnect(t *testing.T) {
	mock := clock.NewMock()
	tr := &fakeTransport{}
	cfg := testConfig(tr, mock)
	cfg.Tokens = &JWTTokenResolver{Source: StaticToken(signedToken(t, mock.Now().Add(-time.Second))), Clock: mock}
	c := NewConnection("messaging", MessagingPath, cfg, nil)
	defer c.Close()

	assert.ErrorIs(t, c.Connect(context.Background()), ErrNoToken)
	assert.Zero(t, tr.Dials())
}
