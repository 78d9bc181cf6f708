// Package token mints and validates the signed credentials carried by every
// request. Validation here is purely cryptographic — signature, issuer,
// audience, expiry — and is shared by access and refresh tokens; everything
// policy-related lives behind it.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
)

const TypeRefresh = "refresh"

type Claims struct {
	Role               string `json:"role,omitempty"`
	Name               string `json:"name,omitempty"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
	Plan               string `json:"plan,omitempty"`
	SchoolID           string `json:"school_id,omitempty"`
	TokenVersion       int    `json:"tv"`
	Type               string `json:"typ,omitempty"`
	Sandbox            bool   `json:"sandbox,omitempty"`
	Unlocked           bool   `json:"unlocked,omitempty"`
	Email              string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret   []byte
	method   jwt.SigningMethod
	issuer   string
	audience string
}

func NewIssuer(secret, algorithm, issuer, audience string) *Issuer {
	return &Issuer{
		secret:   []byte(secret),
		method:   signingMethod(algorithm),
		issuer:   issuer,
		audience: audience,
	}
}

// Access signs the given claims with the standard temporal/issuer/audience
// fields and a unique token id. claims.Subject must already be set.
func (i *Issuer) Access(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.Subject,
		Issuer:    i.issuer,
		Audience:  jwt.ClaimStrings{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
}

// Refresh mints a long-lived token typed "refresh". The caller persists its
// hash on the user row; only one refresh token is live per user at a time.
func (i *Issuer) Refresh(username string, tokenVersion int, ttl time.Duration) (string, error) {
	return i.Access(Claims{
		Type:         TypeRefresh,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: username,
		},
	}, ttl)
}

// Demo mints a sandbox token recognized entirely from its claims; it is never
// backed by a user row.
func (i *Issuer) Demo(sub, role, name, schoolID string, ttl time.Duration) (string, error) {
	if sub == "" {
		sub = "demo-user"
	}
	if role == "" {
		role = "demo"
	}
	if name == "" {
		name = "Demo Session"
	}
	if schoolID == "" {
		schoolID = "demo"
	}
	return i.Access(Claims{
		Role:               role,
		Name:               name,
		SubscriptionStatus: "demo",
		Plan:               "free",
		SchoolID:           schoolID,
		Sandbox:            true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: sub,
		},
	}, ttl)
}

// Developer mints an unlocked token. The unlocked claim alone is not enough to
// resolve a developer session; the email must also pass the server-side
// allow-list at resolution time.
func (i *Issuer) Developer(email, schoolID string, ttl time.Duration) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if schoolID == "" {
		schoolID = "default"
	}
	return i.Access(Claims{
		Role:               "developer",
		Name:               "Developer Session",
		SubscriptionStatus: "active",
		Plan:               "enterprise",
		SchoolID:           schoolID,
		Unlocked:           true,
		Email:              email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "dev:" + email,
		},
	}, ttl)
}

type Validator struct {
	secret   []byte
	method   jwt.SigningMethod
	issuer   string
	audience string
}

func NewValidator(secret, algorithm, issuer, audience string) *Validator {
	return &Validator{
		secret:   []byte(secret),
		method:   signingMethod(algorithm),
		issuer:   issuer,
		audience: audience,
	}
}

// Parse verifies signature, issuer, audience and expiry. It performs no
// authorization.
func (v *Validator) Parse(raw string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func signingMethod(algorithm string) jwt.SigningMethod {
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}
