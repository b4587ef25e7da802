package billing

import (
	"testing"

	"github.com/ManuelReschke/BillFox/internal/pkg/entitlements"
)

func TestPlanMapResolveMapped(t *testing.T) {
	m := DefaultPlanMap()

	plan, mapped := m.Resolve("price_premium_month")
	if !mapped {
		t.Fatal("expected price_premium_month to be mapped")
	}
	if plan != entitlements.PlanPremium {
		t.Errorf("expected plan %s, got %s", entitlements.PlanPremium, plan)
	}

	plan, mapped = m.Resolve("price_premium_max_year")
	if !mapped || plan != entitlements.PlanPremiumMax {
		t.Errorf("expected mapped premium_max, got %s (mapped=%v)", plan, mapped)
	}
}

func TestPlanMapResolveUnmappedFallsBack(t *testing.T) {
	m := DefaultPlanMap()

	plan, mapped := m.Resolve("price_legacy_gold")
	if mapped {
		t.Error("unknown price id must not report mapped")
	}
	if plan != entitlements.PlanFree {
		t.Errorf("expected fallback plan %s, got %s", entitlements.PlanFree, plan)
	}
}

func TestPlanMapResolveEmptyPriceID(t *testing.T) {
	m := DefaultPlanMap()

	plan, mapped := m.Resolve("")
	if mapped {
		t.Error("empty price id must not report mapped")
	}
	if plan != entitlements.PlanFree {
		t.Errorf("expected fallback plan %s, got %s", entitlements.PlanFree, plan)
	}
}

func TestNewPlanMapIgnoresBlankRefs(t *testing.T) {
	m := NewPlanMap(map[string]entitlements.Plan{
		"  ":        entitlements.PlanPremium,
		"price_ok":  entitlements.PlanPremium,
		"":          entitlements.PlanPremiumMax,
	}, entitlements.PlanFree)

	if _, mapped := m.Resolve("price_ok"); !mapped {
		t.Error("expected price_ok to be mapped")
	}
	if _, mapped := m.Resolve("  "); mapped {
		t.Error("blank refs must be dropped from the mapping")
	}
}
