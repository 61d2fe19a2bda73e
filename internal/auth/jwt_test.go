package auth

import (
	"errors"
	"testing"
	"time"

	"alara-platform/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		Secret:     "secret",
		Issuer:     "issuer",
		Audience:   "aud",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "user" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{Secret: "secret", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), "u", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected token_type mismatch, got %v", err)
	}
	claims, err := m.Verify(p.RefreshToken, TokenTypeRefresh, time.Now())
	if err != nil || claims.Role != "" {
		t.Fatalf("refresh token must verify as refresh and carry no role: %+v %v", claims, err)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	m := newTestManager(t)
	now := time.Unix(1700000000, 0).UTC()
	pair, _ := m.IssuePair(now, "u", "admin")

	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	other, _ := NewManager(config.AuthConfig{Secret: "other", Issuer: "issuer", Audience: "aud", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	if _, err := other.Verify(pair.AccessToken, TokenTypeAccess, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature from another secret to be rejected")
	}

	noAud, _ := NewManager(config.AuthConfig{Secret: "secret", Issuer: "issuer", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	foreign, _ := noAud.IssuePair(now, "u", "admin")
	if _, err := m.Verify(foreign.AccessToken, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected missing audience to be rejected")
	}
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if _, err := NewManager(config.AuthConfig{Secret: "s"}); err == nil {
		t.Fatalf("expected missing ttl error")
	}
}
