// Package plan computes the effective subscription tier for a session.
// Tiers form a total order: free < basic < pro < enterprise.
package plan

import (
	"strings"
	"time"

	"github.com/Faixee/LUMI-OS/internal/session"
)

const (
	Free       = "free"
	Basic      = "basic"
	Pro        = "pro"
	Enterprise = "enterprise"
)

var ranks = map[string]int{
	Free:       0,
	Basic:      1,
	Pro:        2,
	Enterprise: 3,
}

// Legacy and marketing plan names written by billing, mapped to canonical
// tiers. Unknown non-empty values mean a paid plan we no longer sell; they
// land on the lowest paid tier.
var aliases = map[string]string{
	"":           Free,
	"none":       Free,
	"demo":       Free,
	"free":       Free,
	"trial":      Free,
	"foundation": Basic,
	"monthly":    Basic,
	"basic":      Basic,
	"ascension":  Pro,
	"yearly":     Pro,
	"pro":        Pro,
	"enterprise": Enterprise,
	"god_mode":   Enterprise,
	"god mode":   Enterprise,
	"godmode":    Enterprise,
}

// Rank returns the tier's position in the total order; unknown tiers rank
// below free.
func Rank(tier string) int {
	if rank, ok := ranks[tier]; ok {
		return rank
	}
	return -1
}

// Known reports whether name is a canonical tier.
func Known(tier string) bool {
	_, ok := ranks[tier]
	return ok
}

// Normalize maps a stored plan string to a canonical tier. Idempotent:
// canonical tiers map to themselves.
func Normalize(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := aliases[value]; ok {
		return canonical
	}
	return Basic
}

// SubscriptionActive is true unconditionally for developer sessions;
// otherwise it requires status "active" and an unexpired (or absent) expiry.
func SubscriptionActive(s *session.Session, now time.Time) bool {
	if s.IsDeveloper() {
		return true
	}
	if s.SubscriptionStatus != "active" {
		return false
	}
	if s.SubscriptionExpiry != nil && s.SubscriptionExpiry.Before(now) {
		return false
	}
	return true
}

// Effective returns the tier the session is entitled to right now.
func Effective(s *session.Session, now time.Time) string {
	if s.IsDeveloper() {
		return Enterprise
	}
	if !SubscriptionActive(s, now) {
		return Free
	}
	return Normalize(s.Plan)
}
