// Package session turns validated claims into the request-scoped caller
// identity. Resolution order is security-critical: the developer-unlock check
// runs strictly before the demo check, which runs strictly before the
// persisted-user lookup. A forged or stale unlock claim fails outright and
// never degrades into another session kind.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Faixee/LUMI-OS/internal/model"
	"github.com/Faixee/LUMI-OS/internal/token"
)

var (
	ErrDeveloperAccess = errors.New("developer access denied")
	ErrUserNotFound    = errors.New("user not found")
	ErrStaleToken      = errors.New("stale token version")
	ErrSuspended       = errors.New("account suspended")
)

type Kind string

const (
	Persisted Kind = "persisted"
	Demo      Kind = "demo"
	Developer Kind = "developer"
)

type Session struct {
	Kind               Kind
	Username           string
	FullName           string
	Role               string
	Plan               string
	SchoolID           string
	SubscriptionStatus string
	SubscriptionExpiry *time.Time
	TokenVersion       int
	Email              string

	// UserID is nil for demo and developer sessions; they carry no usable
	// numeric identity and are exempt from quota tracking.
	UserID *int64
}

func (s *Session) IsDeveloper() bool { return s.Kind == Developer }
func (s *Session) IsDemo() bool      { return s.Kind == Demo }

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
}

type Resolver struct {
	store     UserStore
	allowlist map[string]struct{}
	logger    *zap.Logger
}

func NewResolver(store UserStore, developerEmails []string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowlist := make(map[string]struct{}, len(developerEmails))
	for _, email := range developerEmails {
		allowlist[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}
	return &Resolver{store: store, allowlist: allowlist, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, claims *token.Claims) (*Session, error) {
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	status := strings.ToLower(strings.TrimSpace(claims.SubscriptionStatus))

	if claims.Unlocked {
		if role != "developer" {
			r.logger.Warn("unlocked token with non-developer role", zap.String("role", role))
			return nil, ErrDeveloperAccess
		}
		email := strings.ToLower(strings.TrimSpace(claims.Email))
		if email == "" {
			return nil, ErrDeveloperAccess
		}
		if _, ok := r.allowlist[email]; !ok {
			r.logger.Warn("developer email not in allowlist", zap.String("email", email))
			return nil, ErrDeveloperAccess
		}
		return &Session{
			Kind:               Developer,
			Username:           claims.Subject,
			FullName:           orDefault(claims.Name, "Developer Session"),
			Role:               "developer",
			Plan:               "enterprise",
			SchoolID:           orDefault(claims.SchoolID, "default"),
			SubscriptionStatus: "active",
			Email:              email,
		}, nil
	}

	if role == "demo" && status == "demo" {
		return &Session{
			Kind:               Demo,
			Username:           claims.Subject,
			FullName:           orDefault(claims.Name, "Demo Session"),
			Role:               "demo",
			SchoolID:           orDefault(claims.SchoolID, "demo"),
			SubscriptionStatus: "demo",
		}, nil
	}

	user, err := r.store.GetUserByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("token subject not found", zap.String("sub", claims.Subject))
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if claims.TokenVersion != user.TokenVersion {
		r.logger.Warn("token version mismatch",
			zap.String("sub", claims.Subject),
			zap.Int("token_tv", claims.TokenVersion),
			zap.Int("stored_tv", user.TokenVersion))
		return nil, ErrStaleToken
	}
	if user.Suspended {
		return nil, ErrSuspended
	}

	id := user.ID
	var plan string
	if user.Plan != nil {
		plan = *user.Plan
	}
	return &Session{
		Kind:               Persisted,
		Username:           user.Username,
		FullName:           orDefault(user.FullName, user.Username),
		Role:               strings.ToLower(user.Role),
		Plan:               plan,
		SchoolID:           user.SchoolID,
		SubscriptionStatus: strings.ToLower(user.SubscriptionStatus),
		SubscriptionExpiry: user.SubscriptionExpiry,
		TokenVersion:       user.TokenVersion,
		UserID:             &id,
	}, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
