package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSecret   = "test-secret"
	testIssuer   = "lumios-api"
	testAudience = "lumios-frontend"
)

func newPair() (*Issuer, *Validator) {
	issuer := NewIssuer(testSecret, "HS256", testIssuer, testAudience)
	validator := NewValidator(testSecret, "HS256", testIssuer, testAudience)
	return issuer, validator
}

func TestAccessTokenRoundTrip(t *testing.T) {
	issuer, validator := newPair()
	raw, err := issuer.Access(Claims{
		Role:               "teacher",
		Name:               "Ada Lovelace",
		SubscriptionStatus: "active",
		Plan:               "pro",
		SchoolID:           "school-1",
		TokenVersion:       4,
		RegisteredClaims:   jwt.RegisteredClaims{Subject: "ada"},
	}, time.Minute)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := validator.Parse(raw)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.Subject != "ada" || claims.Role != "teacher" || claims.Plan != "pro" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.SubscriptionStatus != "active" || claims.SchoolID != "school-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.TokenVersion != 4 {
		t.Fatalf("expected tv 4, got %d", claims.TokenVersion)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti to be set")
	}
	if claims.Issuer != testIssuer {
		t.Fatalf("expected issuer %s, got %s", testIssuer, claims.Issuer)
	}
}

func TestExpiredToken(t *testing.T) {
	issuer, validator := newPair()
	raw, err := issuer.Access(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ada"}}, -time.Minute)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := validator.Parse(raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestWrongSecret(t *testing.T) {
	issuer, _ := newPair()
	raw, err := issuer.Access(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ada"}}, time.Minute)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	other := NewValidator("other-secret", "HS256", testIssuer, testAudience)
	if _, err := other.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestWrongIssuerAndAudience(t *testing.T) {
	issuer, _ := newPair()
	raw, err := issuer.Access(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ada"}}, time.Minute)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	badIssuer := NewValidator(testSecret, "HS256", "other-api", testAudience)
	if _, err := badIssuer.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for issuer, got %v", err)
	}
	badAudience := NewValidator(testSecret, "HS256", testIssuer, "other-frontend")
	if _, err := badAudience.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for audience, got %v", err)
	}
}

func TestRefreshTokenShape(t *testing.T) {
	issuer, validator := newPair()
	raw, err := issuer.Refresh("ada", 7, time.Hour)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	claims, err := validator.Parse(raw)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.Type != TypeRefresh {
		t.Fatalf("expected typ refresh, got %q", claims.Type)
	}
	if claims.Subject != "ada" || claims.TokenVersion != 7 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestDemoTokenShape(t *testing.T) {
	issuer, validator := newPair()
	raw, err := issuer.Demo("", "", "", "", time.Minute)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	claims, err := validator.Parse(raw)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if !claims.Sandbox || claims.Role != "demo" || claims.SubscriptionStatus != "demo" {
		t.Fatalf("unexpected demo claims: %+v", claims)
	}
	if claims.Subject != "demo-user" || claims.SchoolID != "demo" || claims.Plan != "free" {
		t.Fatalf("unexpected demo claims: %+v", claims)
	}
}

func TestDeveloperTokenShape(t *testing.T) {
	issuer, validator := newPair()
	raw, err := issuer.Developer(" Dev@Example.COM ", "", time.Minute)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	claims, err := validator.Parse(raw)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if !claims.Unlocked || claims.Role != "developer" {
		t.Fatalf("unexpected developer claims: %+v", claims)
	}
	if claims.Email != "dev@example.com" || claims.Subject != "dev:dev@example.com" {
		t.Fatalf("unexpected developer identity: %+v", claims)
	}
	if claims.Plan != "enterprise" || claims.SubscriptionStatus != "active" {
		t.Fatalf("unexpected developer standing: %+v", claims)
	}
}
