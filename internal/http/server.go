package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Faixee/LUMI-OS/internal/config"
	"github.com/Faixee/LUMI-OS/internal/gate"
	"github.com/Faixee/LUMI-OS/internal/model"
	"github.com/Faixee/LUMI-OS/internal/ratelimit"
	"github.com/Faixee/LUMI-OS/internal/session"
	"github.com/Faixee/LUMI-OS/internal/token"
)

type Store interface {
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	CreateUser(ctx context.Context, user model.User) (int64, error)
	UpdateRefreshToken(ctx context.Context, userID int64, hash string, expiresAt time.Time) error
	ClearRefreshAndBumpVersion(ctx context.Context, userID int64) error
	UpdateSubscription(ctx context.Context, username, planName, status string, expiry *time.Time) error
}

type Server struct {
	cfg       config.Config
	store     Store
	issuer    *token.Issuer
	validator *token.Validator
	resolver  *session.Resolver
	gate      *gate.Gate
	limiter   *ratelimit.Limiter
	allowlist map[string]struct{}
	logger    *zap.Logger
}

func NewServer(cfg config.Config, store Store, featureGate *gate.Gate, limiter *ratelimit.Limiter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowlist := make(map[string]struct{}, len(cfg.DeveloperEmails))
	for _, email := range cfg.DeveloperEmails {
		allowlist[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		issuer:    token.NewIssuer(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.JWTIssuer, cfg.JWTAudience),
		validator: token.NewValidator(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.JWTIssuer, cfg.JWTAudience),
		resolver:  session.NewResolver(store, cfg.DeveloperEmails, logger),
		gate:      featureGate,
		limiter:   limiter,
		allowlist: allowlist,
		logger:    logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.rateLimit("register", s.cfg.RegisterRateLimit)).Post("/register", s.handleRegister)
	r.With(s.rateLimit("login", s.cfg.LoginRateLimit)).Post("/login", s.handleLogin)
	r.With(s.rateLimit("demo", s.cfg.DemoRateLimit)).Post("/auth/demo", s.handleDemo)
	r.With(s.rateLimit("refresh", s.cfg.RefreshRateLimit)).Post("/auth/refresh", s.handleRefresh)
	r.With(s.rateLimit("unlock", s.cfg.UnlockRateLimit)).Post("/internal/dev/unlock", s.handleDevUnlock)

	r.With(s.AuthMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.AuthMiddleware).Get("/auth/me", s.handleGetMe)
	r.With(s.AuthMiddleware).Get("/gate/{feature}", s.handleCheckFeature)
	r.With(s.AuthMiddleware, s.RequireDeveloper).Get("/internal/dev/status", s.handleDevStatus)

	r.Post("/internal/billing/subscription", s.handleBillingUpdate)

	return r
}

// AuthMiddleware validates the bearer token and resolves the session for the
// request. Authentication failures are surfaced generically; only suspension
// gets its own code since the identity is known.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "not_authenticated")
			return
		}
		claims, err := s.validator.Parse(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "not_authenticated")
			return
		}
		if claims.Type == token.TypeRefresh {
			writeError(w, http.StatusUnauthorized, "not_authenticated")
			return
		}
		sess, err := s.resolver.Resolve(r.Context(), claims)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrSuspended):
				writeError(w, http.StatusForbidden, "account_suspended")
			case errors.Is(err, session.ErrUserNotFound),
				errors.Is(err, session.ErrStaleToken),
				errors.Is(err, session.ErrDeveloperAccess):
				writeError(w, http.StatusUnauthorized, "not_authenticated")
			default:
				s.logger.Error("session resolution failed", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "service_unavailable")
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

// RequireFeature gates a route on a named capability. Intended for the CRUD
// and AI handlers built on top of this engine.
func (s *Server) RequireFeature(feature string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := sessionFromContext(r.Context())
			if sess == nil {
				writeError(w, http.StatusUnauthorized, "not_authenticated")
				return
			}
			if err := s.gate.Check(r.Context(), sess, feature); err != nil {
				s.writeGateError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DenyDemoWrites blocks mutating routes for demo sessions.
func (s *Server) DenyDemoWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromContext(r.Context())
		if sess != nil && sess.IsDemo() {
			writeVerdict(w, gate.DemoWriteForbidden())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) RequireDeveloper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromContext(r.Context())
		if sess == nil || !sess.IsDeveloper() {
			writeVerdict(w, gate.DeveloperAccessRequired())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(name string, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := name + ":" + clientIP(r)
			if !s.limiter.Allow(r.Context(), key, limit, time.Minute) {
				writeError(w, http.StatusTooManyRequests, "rate_limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeGateError(w http.ResponseWriter, err error) {
	if verdict, ok := gate.AsVerdict(err); ok {
		writeVerdict(w, verdict)
		return
	}
	s.logger.Error("gate check failed", zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "service_unavailable")
}

type sessionKey struct{}

func sessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionKey{}).(*session.Session)
	return sess
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeVerdict(w http.ResponseWriter, verdict *gate.Verdict) {
	writeJSON(w, verdict.HTTPStatus, map[string]string{
		"code":    verdict.Code,
		"message": verdict.Message,
	})
}
