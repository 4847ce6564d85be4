package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/channelchat-server/internal/store"
)

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("channel-secret"),
		Issuer:   "channelchat",
		Audience: "channelchat",
		TTL:      time.Hour,
	}
}

func TestIssueAndParseToken(t *testing.T) {
	cfg := testJWTConfig()
	user := &store.User{ID: "u-1", Username: "alice", DisplayName: "Alice", IsAdmin: true}

	token, err := IssueToken(cfg, user, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := ParseToken(cfg, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID() != "u-1" || claims.Username != "alice" || claims.DisplayName != "Alice" || !claims.IsAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	cfg := testJWTConfig()
	user := &store.User{ID: "u-1", Username: "alice"}

	expired, err := IssueToken(cfg, user, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(cfg, expired); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	other := *cfg
	other.Audience = "elsewhere"
	foreign, err := IssueToken(&other, user, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	otherKey := *cfg
	otherKey.Secret = []byte("not-the-secret")
	forged, err := IssueToken(&otherKey, user, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	noSubject, err := IssueToken(cfg, &store.User{Username: "ghost"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "wrong audience", token: foreign},
		{name: "wrong key", token: forged},
		{name: "missing subject", token: noSubject},
		{name: "alg none", token: unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(cfg, tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
