package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Faixee/LUMI-OS/internal/crypto"
	"github.com/Faixee/LUMI-OS/internal/model"
	"github.com/Faixee/LUMI-OS/internal/plan"
	"github.com/Faixee/LUMI-OS/internal/repository"
	"github.com/Faixee/LUMI-OS/internal/token"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/auth/refresh"
)

type tokenResponse struct {
	AccessToken        string `json:"access_token"`
	RefreshToken       string `json:"refresh_token,omitempty"`
	TokenType          string `json:"token_type"`
	Role               string `json:"role"`
	Name               string `json:"name"`
	SubscriptionStatus string `json:"subscription_status"`
	Plan               string `json:"plan,omitempty"`
	SchoolID           string `json:"school_id"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	username := strings.TrimSpace(req.Username)

	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		s.logger.Error("login lookup failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service_unavailable")
		return
	}
	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if user.Suspended {
		writeError(w, http.StatusForbidden, "account_suspended")
		return
	}

	// Demo accounts authenticate with a password like anyone else but get a
	// sandbox token so downstream never treats them as persisted users.
	if strings.ToLower(user.Role) == "demo" {
		access, err := s.issuer.Demo(user.Username, "demo", user.FullName, user.SchoolID, s.cfg.DemoTokenTTL)
		if err != nil {
			s.logger.Error("demo token mint failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "token_issue_failed")
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken:        access,
			TokenType:          "bearer",
			Role:               "demo",
			Name:               orDefault(user.FullName, "Demo Session"),
			SubscriptionStatus: "demo",
			Plan:               plan.Free,
			SchoolID:           user.SchoolID,
		})
		return
	}

	access, refresh, err := s.issueTokens(r, user)
	if err != nil {
		s.logger.Error("token issue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token_issue_failed")
		return
	}
	s.setRefreshCookie(w, refresh)
	writeJSON(w, http.StatusOK, s.tokenResponseFor(user, access, refresh))
}

type registerRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role"`
	SchoolID   string `json:"school_id,omitempty"`
	InviteCode string `json:"invite_code,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if err := validateUsername(username); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_username")
		return
	}
	if err := validatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email != "" && !validEmail(email) {
		writeError(w, http.StatusBadRequest, "invalid_email")
		return
	}

	role := strings.ToLower(strings.TrimSpace(req.Role))
	switch role {
	case "student", "teacher", "parent":
	case "admin":
		if s.cfg.AdminInviteCode == "" || req.InviteCode != s.cfg.AdminInviteCode {
			writeError(w, http.StatusForbidden, "invalid_invite_code")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("password hash failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registration_failed")
		return
	}

	user := model.User{
		Username:           username,
		PasswordHash:       hash,
		FullName:           strings.TrimSpace(req.Name),
		Role:               role,
		SchoolID:           orDefault(strings.TrimSpace(req.SchoolID), "default"),
		SubscriptionStatus: "demo",
	}
	if email != "" {
		user.Email = &email
	}

	id, err := s.store.CreateUser(r.Context(), user)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			writeError(w, http.StatusBadRequest, "username_already_registered")
			return
		}
		s.logger.Error("user create failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service_unavailable")
		return
	}
	user.ID = id

	access, refresh, err := s.issueTokens(r, user)
	if err != nil {
		s.logger.Error("token issue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token_issue_failed")
		return
	}
	s.setRefreshCookie(w, refresh)
	writeJSON(w, http.StatusCreated, s.tokenResponseFor(user, access, refresh))
}

type demoRequest struct {
	Role string `json:"role,omitempty"`
}

func (s *Server) handleDemo(w http.ResponseWriter, r *http.Request) {
	var req demoRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body")
			return
		}
	}

	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = "demo"
	}
	name := "Demo Session"
	switch role {
	case "demo":
	case "teacher":
		name = "Demo Teacher"
	case "student":
		name = "Demo Student"
	case "parent":
		name = "Demo Parent"
	default:
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	access, err := s.issuer.Demo("demo-user", "demo", name, "demo", s.cfg.DemoTokenTTL)
	if err != nil {
		s.logger.Error("demo token mint failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token_issue_failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:        access,
		TokenType:          "bearer",
		Role:               "demo",
		Name:               name,
		SubscriptionStatus: "demo",
		Plan:               plan.Free,
		SchoolID:           "demo",
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body")
			return
		}
	}
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		if cookie, err := r.Cookie(refreshCookieName); err == nil {
			raw = cookie.Value
		}
	}
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "not_authenticated")
		return
	}

	claims, err := s.validator.Parse(raw)
	if err != nil || claims.Type != token.TypeRefresh || claims.Subject == "" {
		writeError(w, http.StatusUnauthorized, "not_authenticated")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "not_authenticated")
			return
		}
		s.logger.Error("refresh lookup failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service_unavailable")
		return
	}
	if user.Suspended {
		writeError(w, http.StatusForbidden, "account_suspended")
		return
	}
	if claims.TokenVersion != user.TokenVersion {
		writeError(w, http.StatusUnauthorized, "not_authenticated")
		return
	}
	if user.RefreshTokenHash == nil ||
		!crypto.VerifyRefreshToken(s.cfg.JWTSecret, raw, *user.RefreshTokenHash) {
		writeError(w, http.StatusUnauthorized, "not_authenticated")
		return
	}
	if user.RefreshTokenExpiry == nil || !user.RefreshTokenExpiry.After(time.Now()) {
		writeError(w, http.StatusUnauthorized, "not_authenticated")
		return
	}

	// Persisting the new hash first makes the old token dead before the new
	// one exists anywhere outside this handler.
	access, refresh, err := s.issueTokens(r, user)
	if err != nil {
		s.logger.Error("refresh rotation failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service_unavailable")
		return
	}
	s.setRefreshCookie(w, refresh)
	writeJSON(w, http.StatusOK, s.tokenResponseFor(user, access, refresh))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess.UserID != nil {
		if err := s.store.ClearRefreshAndBumpVersion(r.Context(), *sess.UserID); err != nil {
			s.logger.Error("logout failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "service_unavailable")
			return
		}
	}
	clearRefreshCookie(w, s.cfg.IsProduction())
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username":            sess.Username,
		"name":                sess.FullName,
		"role":                sess.Role,
		"school_id":           sess.SchoolID,
		"subscription_status": sess.SubscriptionStatus,
		"subscription_active": plan.SubscriptionActive(sess, now),
		"plan":                plan.Effective(sess, now),
		"session_kind":        string(sess.Kind),
	})
}

func (s *Server) handleCheckFeature(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	feature := chi.URLParam(r, "feature")
	if err := s.gate.Check(r.Context(), sess, feature); err != nil {
		s.writeGateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feature": feature,
		"allowed": true,
	})
}

type devUnlockRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleDevUnlock(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DevUnlockSecret == "" ||
		r.Header.Get("X-Internal-Dev-Secret") != s.cfg.DevUnlockSecret {
		writeError(w, http.StatusForbidden, "invalid_dev_secret")
		return
	}
	var req devUnlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, ok := s.allowlist[email]; !ok {
		s.logger.Warn("dev unlock for unlisted email", zap.String("email", email))
		writeError(w, http.StatusForbidden, "email_not_authorized")
		return
	}

	access, err := s.issuer.Developer(email, "default", s.cfg.AccessTokenTTL)
	if err != nil {
		s.logger.Error("developer token mint failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token_issue_failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:        access,
		TokenType:          "bearer",
		Role:               "developer",
		Name:               "Developer Session",
		SubscriptionStatus: "active",
		Plan:               plan.Enterprise,
		SchoolID:           "default",
	})
}

func (s *Server) handleDevStatus(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"unlocked":    true,
		"email":       sess.Email,
		"environment": s.cfg.Environment,
	})
}

type billingUpdateRequest struct {
	Username string     `json:"username"`
	Plan     string     `json:"plan,omitempty"`
	Status   string     `json:"status"`
	Expiry   *time.Time `json:"expiry,omitempty"`
}

// handleBillingUpdate lets the billing system push subscription changes. Raw
// plan names from the provider are accepted; normalization happens when the
// gate evaluates them.
func (s *Server) handleBillingUpdate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.BillingWebhookSecret == "" ||
		r.Header.Get("X-Billing-Secret") != s.cfg.BillingWebhookSecret {
		writeError(w, http.StatusForbidden, "invalid_billing_secret")
		return
	}
	var req billingUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	username := strings.TrimSpace(req.Username)
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if username == "" || status == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	err := s.store.UpdateSubscription(r.Context(), username, strings.TrimSpace(req.Plan), status, req.Expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		s.logger.Error("subscription update failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// issueTokens mints the access/refresh pair for a persisted user and persists
// the refresh hash before returning, so a response never carries a refresh
// token the store would reject.
func (s *Server) issueTokens(r *http.Request, user model.User) (string, string, error) {
	var planName string
	if user.Plan != nil {
		planName = *user.Plan
	}
	access, err := s.issuer.Access(token.Claims{
		Role:               strings.ToLower(user.Role),
		Name:               user.FullName,
		SubscriptionStatus: strings.ToLower(user.SubscriptionStatus),
		Plan:               planName,
		SchoolID:           user.SchoolID,
		TokenVersion:       user.TokenVersion,
		RegisteredClaims:   jwt.RegisteredClaims{Subject: user.Username},
	}, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", "", err
	}

	refresh, err := s.issuer.Refresh(user.Username, user.TokenVersion, s.cfg.RefreshTokenTTL)
	if err != nil {
		return "", "", err
	}
	hash := crypto.HashRefreshToken(s.cfg.JWTSecret, refresh)
	expiresAt := time.Now().UTC().Add(s.cfg.RefreshTokenTTL)
	if err := s.store.UpdateRefreshToken(r.Context(), user.ID, hash, expiresAt); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *Server) tokenResponseFor(user model.User, access, refresh string) tokenResponse {
	var planName string
	if user.Plan != nil {
		planName = *user.Plan
	}
	return tokenResponse{
		AccessToken:        access,
		RefreshToken:       refresh,
		TokenType:          "bearer",
		Role:               strings.ToLower(user.Role),
		Name:               user.FullName,
		SubscriptionStatus: strings.ToLower(user.SubscriptionStatus),
		Plan:               planName,
		SchoolID:           user.SchoolID,
	}
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, refresh string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refresh,
		Path:     refreshCookiePath,
		MaxAge:   int(s.cfg.RefreshTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearRefreshCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
