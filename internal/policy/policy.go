// Package policy holds the feature policy table: per feature, the allowed
// roles, the minimum plan tier, and optional per-plan daily limits. Operators
// supply the table as a YAML file; it is validated once at startup.
package policy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Faixee/LUMI-OS/internal/plan"
)

type Feature struct {
	// Roles restricts the feature to the listed roles when non-empty.
	Roles []string `yaml:"roles,omitempty"`
	// MinPlan is the minimum tier; empty means the highest tier.
	MinPlan string `yaml:"min_plan,omitempty"`
	// DailyLimits caps uses per UTC day, keyed by tier.
	DailyLimits map[string]int `yaml:"daily_limits,omitempty"`
}

type Table struct {
	Features map[string]Feature `yaml:"features"`
	// FreeAccess lists the features reachable by demo and inactive sessions.
	FreeAccess []string `yaml:"free_access"`
}

func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

func (t *Table) Validate() error {
	names := make([]string, 0, len(t.Features))
	for name := range t.Features {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		feature := t.Features[name]
		if feature.MinPlan != "" && !plan.Known(feature.MinPlan) {
			return fmt.Errorf("feature %q: unknown min_plan %q", name, feature.MinPlan)
		}
		for tier, limit := range feature.DailyLimits {
			if !plan.Known(tier) {
				return fmt.Errorf("feature %q: daily limit for unknown plan %q", name, tier)
			}
			if limit < 1 {
				return fmt.Errorf("feature %q: daily limit for %q must be positive, got %d", name, tier, limit)
			}
		}
		for _, role := range feature.Roles {
			if strings.TrimSpace(role) == "" {
				return fmt.Errorf("feature %q: empty role entry", name)
			}
		}
	}
	for _, name := range t.FreeAccess {
		if _, ok := t.Features[name]; !ok {
			return fmt.Errorf("free_access references undefined feature %q", name)
		}
	}
	return nil
}

func (t *Table) Feature(name string) (Feature, bool) {
	feature, ok := t.Features[name]
	return feature, ok
}

func (t *Table) FreeAllowed(name string) bool {
	for _, entry := range t.FreeAccess {
		if entry == name {
			return true
		}
	}
	return false
}

// RequiredPlan returns the minimum tier for a feature. Features absent from
// the table, or present without a min_plan, require the highest tier.
func (t *Table) RequiredPlan(name string) string {
	feature, ok := t.Features[name]
	if !ok || feature.MinPlan == "" {
		return plan.Enterprise
	}
	return feature.MinPlan
}

// Default returns the built-in table used when no policy file is configured.
func Default() *Table {
	aiLimits := func(basic, pro, enterprise int) map[string]int {
		return map[string]int{plan.Basic: basic, plan.Pro: pro, plan.Enterprise: enterprise}
	}
	proLimits := func(pro, enterprise int) map[string]int {
		return map[string]int{plan.Pro: pro, plan.Enterprise: enterprise}
	}
	return &Table{
		FreeAccess: []string{"ai_chat"},
		Features: map[string]Feature{
			"transport_read":     {MinPlan: plan.Basic},
			"library_read":       {MinPlan: plan.Basic},
			"fees_read":          {MinPlan: plan.Basic},
			"ai_chat":            {MinPlan: plan.Basic, DailyLimits: aiLimits(50, 500, 5000)},
			"ai_quiz":            {MinPlan: plan.Basic, DailyLimits: aiLimits(50, 500, 5000)},
			"ai_explain":         {MinPlan: plan.Basic, DailyLimits: aiLimits(50, 500, 5000)},
			"ai_grade":           {MinPlan: plan.Basic, Roles: []string{"teacher", "admin"}},
			"ai_neural_explain":  {MinPlan: plan.Basic, DailyLimits: aiLimits(50, 500, 5000)},
			"ai_finance":         {MinPlan: plan.Pro, DailyLimits: proLimits(200, 2000)},
			"ai_predict":         {MinPlan: plan.Pro, DailyLimits: proLimits(200, 2000)},
			"ai_report":          {MinPlan: plan.Pro, DailyLimits: proLimits(200, 2000)},
			"students_read":      {MinPlan: plan.Pro},
			"assignments_upload": {MinPlan: plan.Pro, Roles: []string{"teacher", "admin"}},
			"nexus_upload":       {MinPlan: plan.Enterprise},
			"system_config":      {MinPlan: plan.Enterprise, Roles: []string{"admin"}},
		},
	}
}
