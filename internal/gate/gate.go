// Package gate decides whether a session may run a named feature right now,
// combining role rules, plan rank, and the per-day usage quota. Checks run in
// a fixed order and report only the first failure.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Faixee/LUMI-OS/internal/plan"
	"github.com/Faixee/LUMI-OS/internal/policy"
	"github.com/Faixee/LUMI-OS/internal/session"
)

// UsageStore performs the atomic check-and-increment for quota tracking.
// Returns false when the day's limit is already exhausted.
type UsageStore interface {
	IncrementUsage(ctx context.Context, userID int64, feature, period string, limit int) (bool, error)
}

type Gate struct {
	table     *policy.Table
	usage     UsageStore
	now       func() time.Time
	decisions *prometheus.CounterVec
}

func New(table *policy.Table, usage UsageStore, reg prometheus.Registerer) *Gate {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feature_gate_decisions_total",
		Help: "Feature gate outcomes by feature and verdict code.",
	}, []string{"feature", "outcome"})
	if reg != nil {
		reg.MustRegister(decisions)
	}
	return &Gate{
		table:     table,
		usage:     usage,
		now:       func() time.Time { return time.Now().UTC() },
		decisions: decisions,
	}
}

// Check returns nil when the feature may run, a *Verdict for a policy denial,
// or a plain error when the backing store failed — callers must deny on that
// too, never default to allow.
func (g *Gate) Check(ctx context.Context, s *session.Session, feature string) error {
	err := g.check(ctx, s, feature)
	g.record(feature, err)
	return err
}

func (g *Gate) check(ctx context.Context, s *session.Session, feature string) error {
	if s.IsDeveloper() {
		return nil
	}

	now := g.now()
	if s.IsDemo() || !plan.SubscriptionActive(s, now) {
		if g.table.FreeAllowed(feature) {
			return nil
		}
		return PaidSubscriptionRequired(feature)
	}

	declared, ok := g.table.Feature(feature)
	if ok && len(declared.Roles) > 0 && !containsRole(declared.Roles, s.Role) {
		return OperationNotPermitted()
	}

	required := g.table.RequiredPlan(feature)
	effective := plan.Effective(s, now)
	if plan.Rank(effective) < plan.Rank(required) {
		return PlanUpgradeRequired(feature, required)
	}

	if ok && len(declared.DailyLimits) > 0 && s.UserID != nil {
		limit, limited := declared.DailyLimits[effective]
		if limited {
			period := now.Format("2006-01-02")
			allowed, err := g.usage.IncrementUsage(ctx, *s.UserID, feature, period, limit)
			if err != nil {
				return fmt.Errorf("quota check for %q: %w", feature, err)
			}
			if !allowed {
				return QuotaExceeded(feature)
			}
		}
	}

	return nil
}

func (g *Gate) record(feature string, err error) {
	outcome := "allow"
	if err != nil {
		if verdict, ok := AsVerdict(err); ok {
			outcome = verdict.Code
		} else {
			outcome = "error"
		}
	}
	g.decisions.WithLabelValues(feature, outcome).Inc()
}

func containsRole(roles []string, role string) bool {
	for _, allowed := range roles {
		if allowed == role {
			return true
		}
	}
	return false
}
