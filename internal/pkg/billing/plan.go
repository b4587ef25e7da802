package billing

import (
	"strings"

	"github.com/ManuelReschke/BillFox/internal/pkg/entitlements"
)

// PlanMap maps provider price identifiers to internal plans. Unknown price
// ids fall back to the configured default plan; callers count the fallback
// separately so operators can tell it apart from a real mapping.
type PlanMap struct {
	mapping  map[string]entitlements.Plan
	fallback entitlements.Plan
}

// NewPlanMap builds a plan map with an explicit fallback plan.
func NewPlanMap(mapping map[string]entitlements.Plan, fallback entitlements.Plan) *PlanMap {
	m := make(map[string]entitlements.Plan, len(mapping))
	for ref, plan := range mapping {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		m[ref] = plan
	}
	return &PlanMap{mapping: m, fallback: fallback}
}

// DefaultPlanMap returns the static production mapping.
func DefaultPlanMap() *PlanMap {
	return NewPlanMap(map[string]entitlements.Plan{
		"price_premium_month":     entitlements.PlanPremium,
		"price_premium_year":      entitlements.PlanPremium,
		"price_premium_max_month": entitlements.PlanPremiumMax,
		"price_premium_max_year":  entitlements.PlanPremiumMax,
	}, entitlements.PlanFree)
}

// Resolve maps a provider price id to an internal plan. mapped=false means
// the fallback was used.
func (m *PlanMap) Resolve(priceID string) (plan entitlements.Plan, mapped bool) {
	ref := strings.TrimSpace(priceID)
	if ref == "" {
		return m.fallback, false
	}
	if plan, ok := m.mapping[ref]; ok {
		return plan, true
	}
	return m.fallback, false
}

// Fallback returns the default plan used for unmapped price ids.
func (m *PlanMap) Fallback() entitlements.Plan {
	return m.fallback
}
