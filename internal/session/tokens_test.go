package session

import (
	"errors"
	"testing"
	"time"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	signed, expiresAt, err := tokens.Issue("owner@kasiran.id", "ses-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := tokens.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Email != "owner@kasiran.id" || claims.SessionID != "ses-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ExpiresAt.Unix() != expiresAt.Unix() {
		t.Fatalf("expected expiry %v, got %v", expiresAt, claims.ExpiresAt)
	}
}

func TestTokensRejectForeignSecret(t *testing.T) {
	signed, _, err := NewTokens("one", time.Hour).Issue("owner@kasiran.id", "ses-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewTokens("two", time.Hour).Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := NewTokens("one", time.Hour).Parse(signed + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}
